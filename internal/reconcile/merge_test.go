package reconcile

import (
	"testing"
	"time"

	"github.com/capitalize-ai/session-sync/internal/model"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(id, content string, offset time.Duration) model.Message {
	return model.TextMessage(id, "t1", "u1", model.RoleAssistant, content, base.Add(offset))
}

func ids(messages []model.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestDedupe(t *testing.T) {
	tests := []struct {
		name  string
		input []model.Message
		want  map[string]string // id -> expected content
	}{
		{
			name:  "empty input",
			input: nil,
			want:  map[string]string{},
		},
		{
			name: "no duplicates",
			input: []model.Message{
				msg("m1", "hello", 0),
				msg("m2", "world", time.Second),
			},
			want: map[string]string{"m1": "hello", "m2": "world"},
		},
		{
			name: "longer content wins",
			input: []model.Message{
				msg("m1", "Once upon a time", 0),
				msg("m1", "Once upon a", 0),
			},
			want: map[string]string{"m1": "Once upon a time"},
		},
		{
			name: "equal length keeps later record",
			input: []model.Message{
				msg("m1", "aaa", 0),
				msg("m1", "bbb", 0),
			},
			want: map[string]string{"m1": "bbb"},
		},
		{
			name: "missing id dropped",
			input: []model.Message{
				msg("", "orphan", 0),
				msg("m1", "kept", 0),
			},
			want: map[string]string{"m1": "kept"},
		},
		{
			name: "many duplicates collapse to one",
			input: []model.Message{
				msg("m1", "a", 0),
				msg("m1", "ab", 0),
				msg("m1", "abc", 0),
				msg("m1", "ab", 0),
			},
			want: map[string]string{"m1": "abc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Dedupe(tt.input)

			if len(got) != len(tt.want) {
				t.Fatalf("Dedupe() returned %d records, want %d", len(got), len(tt.want))
			}
			seen := make(map[string]bool)
			for _, rec := range got {
				if seen[rec.ID] {
					t.Errorf("Dedupe() output contains id %q more than once", rec.ID)
				}
				seen[rec.ID] = true
				if want, ok := tt.want[rec.ID]; !ok {
					t.Errorf("Dedupe() output contains unexpected id %q", rec.ID)
				} else if rec.Content != want {
					t.Errorf("Dedupe() id %q content = %q, want %q", rec.ID, rec.Content, want)
				}
			}
		})
	}
}

func TestDedupeIdempotent(t *testing.T) {
	input := []model.Message{
		msg("m1", "short", 0),
		msg("m1", "much longer text", 0),
		msg("m2", "other", time.Second),
	}

	once := Dedupe(input)
	twice := Dedupe(once)

	if !Equal(once, twice) {
		t.Errorf("Dedupe applied twice changed the result: %v vs %v", once, twice)
	}
}

func TestReconcileEmptyIncomingIsNoop(t *testing.T) {
	current := []model.Message{
		msg("m1", "hello", 0),
		msg("m2", "world", time.Second),
	}

	merged, changed := Reconcile(current, nil, nil)

	if changed {
		t.Error("Reconcile with empty incoming reported a change")
	}
	if !Equal(current, merged) {
		t.Errorf("Reconcile with empty incoming mutated the list: %v", ids(merged))
	}
}

func TestReconcileOptimisticEcho(t *testing.T) {
	// A locally appended message followed by the durable store's echo of
	// the same write must not duplicate.
	current := []model.Message{msg("m1", "Hello", 0)}
	echo := []model.Message{msg("m1", "Hello", 0)}

	merged, changed := Reconcile(current, echo, nil)

	if changed {
		t.Error("echo of an identical record reported a change")
	}
	if len(merged) != 1 {
		t.Fatalf("merged list has %d records, want 1", len(merged))
	}
	if merged[0].Content != "Hello" {
		t.Errorf("merged content = %q, want %q", merged[0].Content, "Hello")
	}
}

func TestReconcileClaimedIDSkipsAppend(t *testing.T) {
	claimed := func(id string) bool { return id == "m9" }

	merged, changed := Reconcile(nil, []model.Message{msg("m9", "mine", 0)}, claimed)

	if changed {
		t.Error("claimed-id append reported a change")
	}
	if len(merged) != 0 {
		t.Errorf("claimed id was appended: %v", ids(merged))
	}
}

func TestReconcileKeepsLocalOnlyRecords(t *testing.T) {
	// A record that exists only locally (durable write still in flight)
	// survives a remote merge that does not mention it.
	current := []model.Message{msg("m1", "pending", 0)}
	incoming := []model.Message{msg("m2", "remote", time.Second)}

	merged, changed := Reconcile(current, incoming, nil)

	if !changed {
		t.Error("appending a new remote record reported no change")
	}
	got := ids(merged)
	if len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
		t.Errorf("merged ids = %v, want [m1 m2]", got)
	}
}

func TestReconcileOrdersByCreation(t *testing.T) {
	current := []model.Message{
		msg("m2", "second", 2*time.Second),
	}
	incoming := []model.Message{
		msg("m3", "third", 3*time.Second),
		msg("m1", "first", time.Second),
	}

	merged, _ := Reconcile(current, incoming, nil)

	got := ids(merged)
	want := []string{"m1", "m2", "m3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("merged order = %v, want %v", got, want)
		}
	}
}

func TestReconcileNeverRegressesContent(t *testing.T) {
	current := []model.Message{msg("m1", "Once upon a time", 0)}
	stale := []model.Message{msg("m1", "Once upon a", 0)}

	merged, changed := Reconcile(current, stale, nil)

	if changed {
		t.Error("stale shorter copy reported a change")
	}
	if merged[0].Content != "Once upon a time" {
		t.Errorf("content regressed to %q", merged[0].Content)
	}
}

func TestReconcileEqualLengthLaterWins(t *testing.T) {
	withCitations := msg("m1", "done", 0)
	withCitations.Citations = []string{"https://example.com"}

	merged, changed := Reconcile([]model.Message{msg("m1", "done", 0)}, []model.Message{withCitations}, nil)

	if !changed {
		t.Error("equal-length later record with new citations reported no change")
	}
	if len(merged[0].Citations) != 1 {
		t.Errorf("citations not taken from the later record: %v", merged[0].Citations)
	}
}

func TestSortByCreationStableOnTies(t *testing.T) {
	a := msg("m1", "a", 0)
	b := msg("m2", "b", 0) // same timestamp
	c := msg("m3", "c", 0)

	records := []model.Message{a, b, c}
	SortByCreation(records)

	got := ids(records)
	want := []string{"m1", "m2", "m3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tie order = %v, want insertion order %v", got, want)
		}
	}
}
