package reconcile

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/session-sync/internal/model"
	"github.com/capitalize-ai/session-sync/pkg/logger"
	"github.com/capitalize-ai/session-sync/pkg/metrics"
)

// Phase is the lifecycle state of one thread's canonical list.
type Phase int

const (
	// PhaseEmpty means no snapshot has been loaded yet.
	PhaseEmpty Phase = iota
	// PhaseLoaded means the canonical list is available.
	PhaseLoaded
	// PhaseUpdating is the transient state while a merge is applied. A
	// failed merge input is dropped and the thread settles back to
	// Loaded; there is no error terminal.
	PhaseUpdating
)

// UpdateListener receives the new canonical list whenever a thread's
// merged view changes.
type UpdateListener func(threadID string, messages []model.Message)

type threadState struct {
	phase    Phase
	messages []model.Message
}

// Store owns the canonical per-thread message lists for one logged-in
// user. All three input feeds funnel through it; every mutation is
// serialized by the store's mutex, so the only hazards are the ordering
// races between feeds, which the merge rules absorb.
type Store struct {
	logger *logger.Logger

	mu        sync.Mutex
	threads   map[string]*threadState
	recent    *recentTracker
	listeners map[int]UpdateListener
	nextID    int
}

// NewStore creates a reconciliation store. recentExpiry bounds how long a
// local append claims its id; zero selects the default.
func NewStore(recentExpiry time.Duration, log *logger.Logger) *Store {
	return &Store{
		logger:    log,
		threads:   make(map[string]*threadState),
		recent:    newRecentTracker(recentExpiry),
		listeners: make(map[int]UpdateListener),
	}
}

// OnThreadUpdated registers a listener for canonical-list changes and
// returns a disposer.
func (s *Store) OnThreadUpdated(fn UpdateListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Phase returns the lifecycle phase of a thread.
func (s *Store) Phase(threadID string) Phase {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.threads[threadID]; ok {
		return state.phase
	}
	return PhaseEmpty
}

// Messages returns a copy of the canonical list for a thread.
func (s *Store) Messages(threadID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.threads[threadID]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(state.messages))
	copy(out, state.messages)
	return out
}

// LoadSnapshot installs the initial message list for a thread, moving it
// from Empty to Loaded. The snapshot is deduplicated and ordered before
// it becomes canonical.
func (s *Store) LoadSnapshot(threadID string, messages []model.Message) {
	snapshot := Dedupe(messages)
	SortByCreation(snapshot)

	s.apply(threadID, "snapshot", func(state *threadState) bool {
		changed := !Equal(state.messages, snapshot)
		state.messages = snapshot
		return changed
	})
}

// ApplyLocal records an optimistic local write: a message this session
// just created or mutated. The id is claimed for the notification
// round-trip window so the durable echo is not double-applied.
func (s *Store) ApplyLocal(threadID string, msg model.Message) {
	if msg.ID == "" {
		s.logger.Warn("dropped local write without id", zap.String("thread_id", threadID))
		return
	}
	s.recent.Mark(msg.ID)

	s.apply(threadID, "local", func(state *threadState) bool {
		merged, changed := Reconcile(state.messages, []model.Message{msg}, nil)
		state.messages = merged
		return changed
	})
}

// ApplyRemote merges records arriving from the durable store's change
// feed. Unresolvable records are dropped inside Reconcile; the thread
// never leaves its last good state on bad input.
func (s *Store) ApplyRemote(threadID string, incoming ...model.Message) {
	s.apply(threadID, "remote", func(state *threadState) bool {
		merged, changed := Reconcile(state.messages, incoming, s.recent.Claimed)
		state.messages = merged
		return changed
	})
}

// ApplyStreaming merges a peer session's ephemeral streaming state. A
// broadcast carries content only, so it can grow an existing record's
// text but never touch its other fields, and never regress to a shorter
// or equal copy. The message may not exist locally yet (the broadcast can
// outrun the durable create); then a live placeholder is materialized so
// the content is visible immediately.
func (s *Store) ApplyStreaming(threadID string, st model.StreamingState) {
	if st.MessageID == "" {
		return
	}

	s.apply(threadID, "broadcast", func(state *threadState) bool {
		for i := range state.messages {
			if state.messages[i].ID != st.MessageID {
				continue
			}
			if len(st.Content) <= len(state.messages[i].Content) {
				return false
			}
			state.messages[i].SetContent(st.Content)
			return true
		}

		if s.recent.Claimed(st.MessageID) {
			return false
		}

		rec := model.TextMessage(st.MessageID, threadID, "", model.RoleAssistant, st.Content, st.UpdatedAt)
		state.messages = append(state.messages, rec)
		SortByCreation(state.messages)
		return true
	})
}

// RemoveMessage drops one message, driven by a durable delete
// notification.
func (s *Store) RemoveMessage(threadID, messageID string) {
	s.recent.Release(messageID)

	s.apply(threadID, "remote", func(state *threadState) bool {
		kept := state.messages[:0:0]
		for _, msg := range state.messages {
			if msg.ID != messageID {
				kept = append(kept, msg)
			}
		}
		changed := len(kept) != len(state.messages)
		state.messages = kept
		return changed
	})
}

// RemoveFrom drops every message created at or after the given instant,
// the local half of the retry/regeneration bulk delete.
func (s *Store) RemoveFrom(threadID string, from time.Time) {
	s.apply(threadID, "local", func(state *threadState) bool {
		kept := state.messages[:0:0]
		for _, msg := range state.messages {
			if msg.CreatedAt.Before(from) {
				kept = append(kept, msg)
			} else {
				s.recent.Release(msg.ID)
			}
		}
		changed := len(kept) != len(state.messages)
		state.messages = kept
		return changed
	})
}

// RemoveThread forgets a thread entirely.
func (s *Store) RemoveThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, threadID)
}

// Clear wipes all canonical state. Called on logout, before another
// user's data may be loaded.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = make(map[string]*threadState)
	s.recent = newRecentTracker(s.recent.expiry)
}

// apply runs one serialized mutation against a thread, handles the
// Loaded/Updating phase transitions, and notifies listeners only when the
// canonical list actually changed.
func (s *Store) apply(threadID, source string, mutate func(*threadState) bool) {
	s.mu.Lock()

	state, ok := s.threads[threadID]
	if !ok {
		state = &threadState{}
		s.threads[threadID] = state
	}

	state.phase = PhaseUpdating
	changed := mutate(state)
	state.phase = PhaseLoaded

	var listeners []UpdateListener
	var view []model.Message
	if changed {
		view = make([]model.Message, len(state.messages))
		copy(view, state.messages)
		listeners = make([]UpdateListener, 0, len(s.listeners))
		for _, fn := range s.listeners {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	metrics.RecordReconcile(source, changed)

	for _, fn := range listeners {
		fn(threadID, view)
	}
}
