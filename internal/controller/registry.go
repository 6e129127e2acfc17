package controller

import (
	"sort"
	"sync"

	"github.com/capitalize-ai/session-sync/internal/model"
)

// threadRegistry caches the user's thread metadata as notifications
// arrive.
type threadRegistry struct {
	mu      sync.RWMutex
	threads map[string]model.Thread
}

func newThreadRegistry() *threadRegistry {
	return &threadRegistry{threads: make(map[string]model.Thread)}
}

func (r *threadRegistry) upsert(t model.Thread) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads[t.ID] = t
}

func (r *threadRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.threads, id)
}

func (r *threadRegistry) get(id string) (model.Thread, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.threads[id]
	return t, ok
}

// list returns threads ordered by last activity, newest first.
func (r *threadRegistry) list() []model.Thread {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Thread, 0, len(r.threads))
	for _, t := range r.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

func (r *threadRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threads = make(map[string]model.Thread)
}

// summaryRegistry caches best-effort message summaries by message id.
type summaryRegistry struct {
	mu        sync.RWMutex
	summaries map[string]model.MessageSummary
}

func newSummaryRegistry() *summaryRegistry {
	return &summaryRegistry{summaries: make(map[string]model.MessageSummary)}
}

func (r *summaryRegistry) put(s model.MessageSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries[s.MessageID] = s
}

func (r *summaryRegistry) get(messageID string) (model.MessageSummary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.summaries[messageID]
	return s, ok
}

func (r *summaryRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = make(map[string]model.MessageSummary)
}
