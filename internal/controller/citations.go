package controller

import (
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>()"']+`)

// extractCitations pulls distinct URLs out of final assistant content, in
// order of first appearance. Trailing punctuation that commonly clings to
// prose URLs is stripped.
func extractCitations(content string) []string {
	matches := urlPattern.FindAllString(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	var citations []string
	for _, m := range matches {
		url := strings.TrimRight(m, ".,;:!?")
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		citations = append(citations, url)
	}
	return citations
}
