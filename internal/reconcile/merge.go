// Package reconcile owns the canonical per-thread message list and the
// merge rules that collapse the three input feeds (local optimistic
// writes, durable change notifications, ephemeral broadcasts) into one
// deduplicated, causally ordered view.
package reconcile

import (
	"sort"

	"github.com/capitalize-ai/session-sync/internal/model"
	"github.com/capitalize-ai/session-sync/pkg/metrics"
)

// prefer resolves a duplicate id. Strictly longer content wins; on equal
// length the later-supplied record wins. Partial streamed copies are
// always prefixes of their final form, so longer-wins converges to the
// persisted content without ever regressing a fuller view to a partial
// one. The rule is idempotent and safe to apply repeatedly.
func prefer(current, incoming model.Message) model.Message {
	if len(incoming.Content) >= len(current.Content) {
		return incoming
	}
	return current
}

// Dedupe collapses duplicate ids in a record list, keeping each id exactly
// once per the prefer rule. Records without an id are dropped. Used inside
// the store and again as a final pass at the presentation boundary.
func Dedupe(records []model.Message) []model.Message {
	out := make([]model.Message, 0, len(records))
	index := make(map[string]int, len(records))

	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if i, ok := index[rec.ID]; ok {
			out[i] = prefer(out[i], rec)
			metrics.DuplicatesMerged.Inc()
			continue
		}
		index[rec.ID] = len(out)
		out = append(out, rec)
	}

	return out
}

// SortByCreation orders records by creation timestamp ascending, ties
// broken by insertion order.
func SortByCreation(records []model.Message) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}

// Reconcile merges incoming records into the current list. It is pure
// given its inputs plus the claimed-id predicate and never fails:
// malformed records (missing id) are dropped, conflicts resolve by the
// prefer rule, and ids present only locally are kept as-is to cover the
// window between a local append and its notification echo. Incoming-only
// ids claimed by an active local optimistic write are skipped so a
// store echo of this session's own write is not treated as a foreign
// append. The returned flag reports whether the merged list differs from
// current.
func Reconcile(current, incoming []model.Message, claimed func(id string) bool) ([]model.Message, bool) {
	merged := make([]model.Message, len(current))
	copy(merged, current)

	index := make(map[string]int, len(merged))
	for i, rec := range merged {
		index[rec.ID] = i
	}

	for _, rec := range incoming {
		if rec.ID == "" {
			continue
		}
		if i, ok := index[rec.ID]; ok {
			merged[i] = prefer(merged[i], rec)
			continue
		}
		if claimed != nil && claimed(rec.ID) {
			continue
		}
		index[rec.ID] = len(merged)
		merged = append(merged, rec)
	}

	SortByCreation(merged)

	return merged, !Equal(current, merged)
}

// Equal reports whether two canonical lists are identical in id sequence
// and in every field a view render depends on.
func Equal(a, b []model.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameRecord(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameRecord(a, b model.Message) bool {
	if a.ID != b.ID || a.Content != b.Content || a.Role != b.Role {
		return false
	}
	if len(a.Citations) != len(b.Citations) || len(a.Attachments) != len(b.Attachments) {
		return false
	}
	if (a.ImageRef == nil) != (b.ImageRef == nil) {
		return false
	}
	if a.ImageRef != nil && *a.ImageRef != *b.ImageRef {
		return false
	}
	return a.CreatedAt.Equal(b.CreatedAt)
}
