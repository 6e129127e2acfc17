// Package notify normalizes the durable store's raw change feed into
// typed, user-scoped create/update/delete callbacks per entity kind.
package notify

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/capitalize-ai/session-sync/internal/durable"
	"github.com/capitalize-ai/session-sync/internal/model"
	"github.com/capitalize-ai/session-sync/pkg/logger"
	"github.com/capitalize-ai/session-sync/pkg/metrics"
)

// Handlers is a partial set of typed change callbacks. Any nil field is
// left untouched by SetCallbacks, so independent consumers can each
// register only the events they care about.
type Handlers struct {
	ThreadCreated func(model.Thread)
	ThreadUpdated func(model.Thread)
	ThreadDeleted func(model.Thread)

	MessageCreated func(model.Message)
	MessageUpdated func(model.Message)
	MessageDeleted func(model.Message)

	SummaryCreated func(model.MessageSummary)
	SummaryUpdated func(model.MessageSummary)
	SummaryDeleted func(model.MessageSummary)

	ProjectCreated func(model.Project)
	ProjectUpdated func(model.Project)
	ProjectDeleted func(model.Project)
}

// Subscriber owns the per-entity-kind subscription registry for one
// logged-in user. It is constructed on login and torn down on logout.
type Subscriber struct {
	feed   durable.ChangeFeed
	logger *logger.Logger

	mu       sync.Mutex
	userID   string
	subs     map[model.EntityKind]func()
	degraded map[model.EntityKind]bool
	handlers Handlers
}

// NewSubscriber creates a subscriber over the given change feed.
func NewSubscriber(feed durable.ChangeFeed, log *logger.Logger) *Subscriber {
	return &Subscriber{
		feed:     feed,
		logger:   log,
		subs:     make(map[model.EntityKind]func()),
		degraded: make(map[model.EntityKind]bool),
	}
}

// SubscribeAll idempotently opens one subscription per entity kind scoped
// to the given user. A second call for the same user is a logged no-op. A
// call for a different user tears down the previous scope first. A kind
// whose channel fails to open is marked degraded rather than failing the
// call; no notifications arrive for it until re-established.
func (s *Subscriber) SubscribeAll(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.userID == userID && len(s.subs) == len(model.EntityKinds) {
		s.logger.Info("subscriptions already open", zap.String("user_id", userID))
		return
	}

	if s.userID != "" && s.userID != userID {
		s.unsubscribeLocked()
	}
	s.userID = userID

	for _, kind := range model.EntityKinds {
		if _, ok := s.subs[kind]; ok {
			continue
		}

		kind := kind
		cancel, err := s.feed.Subscribe(kind, func(env model.ChangeEnvelope) {
			s.dispatch(kind, env)
		})
		if err != nil {
			s.degraded[kind] = true
			s.logger.Warn("failed to open change subscription",
				zap.String("kind", string(kind)), zap.Error(err))
			continue
		}

		delete(s.degraded, kind)
		s.subs[kind] = cancel
		metrics.SubscriptionsActive.Inc()
	}
}

// UnsubscribeAll closes every open subscription and clears the registry.
// Safe to call when nothing is subscribed.
func (s *Subscriber) UnsubscribeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribeLocked()
	s.userID = ""
}

func (s *Subscriber) unsubscribeLocked() {
	for kind, cancel := range s.subs {
		cancel()
		delete(s.subs, kind)
		metrics.SubscriptionsActive.Dec()
	}
	s.degraded = make(map[model.EntityKind]bool)
}

// SetCallbacks merges the non-nil fields of h into the registered handler
// set without clobbering handlers it does not mention.
func (s *Subscriber) SetCallbacks(h Handlers) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mergeHandler(&s.handlers.ThreadCreated, h.ThreadCreated)
	mergeHandler(&s.handlers.ThreadUpdated, h.ThreadUpdated)
	mergeHandler(&s.handlers.ThreadDeleted, h.ThreadDeleted)

	mergeHandler(&s.handlers.MessageCreated, h.MessageCreated)
	mergeHandler(&s.handlers.MessageUpdated, h.MessageUpdated)
	mergeHandler(&s.handlers.MessageDeleted, h.MessageDeleted)

	mergeHandler(&s.handlers.SummaryCreated, h.SummaryCreated)
	mergeHandler(&s.handlers.SummaryUpdated, h.SummaryUpdated)
	mergeHandler(&s.handlers.SummaryDeleted, h.SummaryDeleted)

	mergeHandler(&s.handlers.ProjectCreated, h.ProjectCreated)
	mergeHandler(&s.handlers.ProjectUpdated, h.ProjectUpdated)
	mergeHandler(&s.handlers.ProjectDeleted, h.ProjectDeleted)
}

func mergeHandler[T any](dst *func(T), src func(T)) {
	if src != nil {
		*dst = src
	}
}

// Degraded reports whether any entity kind's channel failed to open.
func (s *Subscriber) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.degraded) > 0
}

// dispatch filters and routes one raw envelope to at most one handler.
// Malformed or unrecognized events are dropped, never propagated.
func (s *Subscriber) dispatch(kind model.EntityKind, env model.ChangeEnvelope) {
	action := model.ParseAction(env.Descriptor)
	if action == model.ActionUnknown {
		metrics.RecordDroppedEvent(string(kind), "unknown_action")
		s.logger.Debug("dropped event with unrecognized action",
			zap.String("kind", string(kind)), zap.String("descriptor", env.Descriptor))
		return
	}

	s.mu.Lock()
	userID := s.userID
	handlers := s.handlers
	s.mu.Unlock()

	// Cross-user filter: events scoped to another user are silently
	// dropped, covering shared or logout-straddling channels.
	if owner := env.PayloadOwner(); owner != userID {
		metrics.RecordDroppedEvent(string(kind), "foreign_user")
		return
	}

	switch kind {
	case model.KindThread:
		var thread model.Thread
		if err := json.Unmarshal(env.Payload, &thread); err != nil || thread.ID == "" {
			metrics.RecordDroppedEvent(string(kind), "malformed")
			return
		}
		invoke(action, handlers.ThreadCreated, handlers.ThreadUpdated, handlers.ThreadDeleted, thread)

	case model.KindMessage:
		var msg model.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil || msg.ID == "" {
			metrics.RecordDroppedEvent(string(kind), "malformed")
			return
		}
		invoke(action, handlers.MessageCreated, handlers.MessageUpdated, handlers.MessageDeleted, msg)

	case model.KindMessageSummary:
		var summary model.MessageSummary
		if err := json.Unmarshal(env.Payload, &summary); err != nil || summary.MessageID == "" {
			metrics.RecordDroppedEvent(string(kind), "malformed")
			return
		}
		invoke(action, handlers.SummaryCreated, handlers.SummaryUpdated, handlers.SummaryDeleted, summary)

	case model.KindProject:
		var project model.Project
		if err := json.Unmarshal(env.Payload, &project); err != nil || project.ID == "" {
			metrics.RecordDroppedEvent(string(kind), "malformed")
			return
		}
		invoke(action, handlers.ProjectCreated, handlers.ProjectUpdated, handlers.ProjectDeleted, project)
	}
}

// invoke calls the single handler matching the action, if registered.
func invoke[T any](action model.Action, created, updated, deleted func(T), payload T) {
	switch action {
	case model.ActionCreated:
		if created != nil {
			created(payload)
		}
	case model.ActionUpdated:
		if updated != nil {
			updated(payload)
		}
	case model.ActionDeleted:
		if deleted != nil {
			deleted(payload)
		}
	}
}
