package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/capitalize-ai/session-sync/internal/model"
	"github.com/capitalize-ai/session-sync/pkg/logger"
)

// memoryTransport loops published frames back to every subscriber on the
// same subject, synchronously.
type memoryTransport struct {
	mu        sync.Mutex
	subs      map[string][]func([]byte)
	published []string
	failSub   bool
}

func newMemoryTransport() *memoryTransport {
	return &memoryTransport{subs: make(map[string][]func([]byte))}
}

func (t *memoryTransport) Publish(subject string, data []byte) error {
	t.mu.Lock()
	t.published = append(t.published, subject)
	handlers := append([]func([]byte){}, t.subs[subject]...)
	t.mu.Unlock()

	for _, fn := range handlers {
		fn(data)
	}
	return nil
}

func (t *memoryTransport) Subscribe(subject string, fn func([]byte)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failSub {
		return nil, errors.New("transport down")
	}
	t.subs[subject] = append(t.subs[subject], fn)
	return func() {}, nil
}

// pair wires two broadcasters for the same user over one transport,
// simulating two concurrent sessions.
func pair(t *testing.T, userID string) (*Broadcaster, *Broadcaster) {
	t.Helper()
	transport := newMemoryTransport()

	a := NewBroadcaster(transport, userID, logger.Nop())
	b := NewBroadcaster(transport, userID, logger.Nop())
	if err := a.Open(); err != nil {
		t.Fatalf("open a: %v", err)
	}
	if err := b.Open(); err != nil {
		t.Fatalf("open b: %v", err)
	}
	return a, b
}

func collect(b *Broadcaster) *[]model.StreamingState {
	var mu sync.Mutex
	states := &[]model.StreamingState{}
	b.OnStreamUpdate(func(s model.StreamingState) {
		mu.Lock()
		*states = append(*states, s)
		mu.Unlock()
	})
	return states
}

func TestPeerReceivesFullSnapshots(t *testing.T) {
	a, b := pair(t, "u1")
	got := collect(b)

	a.StartStreaming("t1", "m1")
	a.UpdateStreamingContent("t1", "m1", "Hel")
	a.UpdateStreamingContent("t1", "m1", "Hello")
	a.EndStreaming("t1", "m1", "Hello, world")

	want := []struct {
		content   string
		streaming bool
	}{
		{"", true},
		{"Hel", true},
		{"Hello", true},
		{"Hello, world", false},
	}
	if len(*got) != len(want) {
		t.Fatalf("peer received %d states, want %d", len(*got), len(want))
	}
	for i, w := range want {
		s := (*got)[i]
		if s.Content != w.content || s.IsStreaming != w.streaming {
			t.Errorf("state %d = (%q, streaming=%v), want (%q, streaming=%v)",
				i, s.Content, s.IsStreaming, w.content, w.streaming)
		}
		if s.ThreadID != "t1" || s.MessageID != "m1" {
			t.Errorf("state %d routed to %s/%s", i, s.ThreadID, s.MessageID)
		}
		if s.SessionID != a.SessionID() {
			t.Errorf("state %d carries session %s, want originator %s", i, s.SessionID, a.SessionID())
		}
	}
}

func TestSelfBroadcastsSuppressed(t *testing.T) {
	a, _ := pair(t, "u1")
	got := collect(a)

	a.StartStreaming("t1", "m1")
	a.UpdateStreamingContent("t1", "m1", "abc")
	a.EndStreaming("t1", "m1", "abc")

	if len(*got) != 0 {
		t.Errorf("originator received %d of its own broadcasts, want 0", len(*got))
	}
}

func TestUpdateAfterEndIsDropped(t *testing.T) {
	a, b := pair(t, "u1")
	got := collect(b)

	a.StartStreaming("t1", "m1")
	a.EndStreaming("t1", "m1", "done")

	// The ticker may fire once more after the stream finished; the stale
	// update must not go out.
	a.UpdateStreamingContent("t1", "m1", "done")

	last := (*got)[len(*got)-1]
	if last.IsStreaming {
		t.Error("terminal state not last on the wire")
	}
	if len(*got) != 2 {
		t.Errorf("peer received %d states, want 2 (start, end)", len(*got))
	}
}

func TestUpdateBeforeStartIsDropped(t *testing.T) {
	a, b := pair(t, "u1")
	got := collect(b)

	a.UpdateStreamingContent("t1", "m1", "orphan")

	if len(*got) != 0 {
		t.Errorf("update without a started stream reached peer: %d states", len(*got))
	}
}

func TestIndependentStreams(t *testing.T) {
	a, b := pair(t, "u1")
	got := collect(b)

	a.StartStreaming("t1", "m1")
	a.StartStreaming("t2", "m2")
	a.EndStreaming("t1", "m1", "one")

	// m2 is still live.
	a.UpdateStreamingContent("t2", "m2", "two")

	var m2Updates int
	for _, s := range *got {
		if s.MessageID == "m2" && s.Content == "two" {
			m2Updates++
		}
	}
	if m2Updates != 1 {
		t.Errorf("ending one stream affected another: m2 updates = %d, want 1", m2Updates)
	}
}

func TestMalformedBroadcastDropped(t *testing.T) {
	transport := newMemoryTransport()
	b := NewBroadcaster(transport, "u1", logger.Nop())
	if err := b.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	got := collect(b)

	if err := transport.Publish(streamSubject("u1"), []byte("{not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Valid JSON but no message id.
	empty, _ := json.Marshal(model.StreamingState{SessionID: "other"})
	if err := transport.Publish(streamSubject("u1"), empty); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(*got) != 0 {
		t.Errorf("malformed broadcasts reached listeners: %d states", len(*got))
	}
}

func TestListenerDisposer(t *testing.T) {
	a, b := pair(t, "u1")

	var calls int
	dispose := b.OnStreamUpdate(func(model.StreamingState) { calls++ })

	a.StartStreaming("t1", "m1")
	dispose()
	a.EndStreaming("t1", "m1", "x")

	if calls != 1 {
		t.Errorf("disposed listener saw %d events, want 1", calls)
	}
}

func TestOpenFailureLeavesPublishOnly(t *testing.T) {
	transport := newMemoryTransport()
	transport.failSub = true
	b := NewBroadcaster(transport, "u1", logger.Nop())

	if err := b.Open(); err == nil {
		t.Fatal("expected open error from failing transport")
	}

	// Publishing still works.
	b.StartStreaming("t1", "m1")
	b.UpdateStreamingContent("t1", "m1", "still publishing")

	transport.mu.Lock()
	n := len(transport.published)
	transport.mu.Unlock()
	if n != 2 {
		t.Errorf("published %d frames after failed open, want 2", n)
	}
}

func TestSubjectIsolatedPerUser(t *testing.T) {
	transport := newMemoryTransport()

	a := NewBroadcaster(transport, "u1", logger.Nop())
	other := NewBroadcaster(transport, "u2", logger.Nop())
	if err := other.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	got := collect(other)

	a.StartStreaming("t1", "m1")

	if len(*got) != 0 {
		t.Errorf("another user's session received %d broadcasts, want 0", len(*got))
	}
}
