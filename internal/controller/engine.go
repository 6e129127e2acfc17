// Package controller is the UI-facing layer of the sync engine: it wires
// the notification subscriber, the ephemeral broadcaster and the
// reconciliation store together for one logged-in user, and drives
// generation.
package controller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/session-sync/internal/broadcast"
	"github.com/capitalize-ai/session-sync/internal/durable"
	"github.com/capitalize-ai/session-sync/internal/model"
	"github.com/capitalize-ai/session-sync/internal/notify"
	"github.com/capitalize-ai/session-sync/internal/reconcile"
	"github.com/capitalize-ai/session-sync/pkg/logger"
)

// Engine bundles the engine components for one logged-in user. It is
// constructed on login and closed on logout; nothing about it is
// process-global, so switching accounts can never leak state.
type Engine struct {
	userID string
	logger *logger.Logger

	store       *reconcile.Store
	broadcaster *broadcast.Broadcaster
	subscriber  *notify.Subscriber
	durable     durable.Store

	threads   *threadRegistry
	summaries *summaryRegistry

	disposers []func()
}

// EngineConfig carries the tunables an Engine needs.
type EngineConfig struct {
	UserID            string
	RecentIDExpiry    time.Duration
	RepublishInterval time.Duration
	DefaultModel      string
}

// NewEngine builds the per-login engine over the injected collaborators.
func NewEngine(cfg EngineConfig, store durable.Store, feed durable.ChangeFeed, transport broadcast.Transport, log *logger.Logger) *Engine {
	return &Engine{
		userID:      cfg.UserID,
		logger:      log.With(zap.String("user_id", cfg.UserID)),
		store:       reconcile.NewStore(cfg.RecentIDExpiry, log),
		broadcaster: broadcast.NewBroadcaster(transport, cfg.UserID, log),
		subscriber:  notify.NewSubscriber(feed, log),
		durable:     store,
		threads:     newThreadRegistry(),
		summaries:   newSummaryRegistry(),
	}
}

// Start opens the change subscriptions and the broadcast channel, and
// wires notifications into the reconciliation store. Channel failures
// leave the engine degraded rather than failing login.
func (e *Engine) Start(ctx context.Context) {
	e.subscriber.SetCallbacks(notify.Handlers{
		MessageCreated: func(m model.Message) { e.store.ApplyRemote(m.ThreadID, m) },
		MessageUpdated: func(m model.Message) { e.store.ApplyRemote(m.ThreadID, m) },
		MessageDeleted: func(m model.Message) { e.store.RemoveMessage(m.ThreadID, m.ID) },

		ThreadCreated: e.threads.upsert,
		ThreadUpdated: e.threads.upsert,
		ThreadDeleted: func(t model.Thread) {
			e.threads.remove(t.ID)
			e.store.RemoveThread(t.ID)
		},

		SummaryCreated: e.summaries.put,
		SummaryUpdated: e.summaries.put,
	})

	e.subscriber.SubscribeAll(e.userID)

	if err := e.broadcaster.Open(); err == nil {
		dispose := e.broadcaster.OnStreamUpdate(func(st model.StreamingState) {
			e.store.ApplyStreaming(st.ThreadID, st)
		})
		e.disposers = append(e.disposers, dispose)
	}

	e.logger.Info("sync engine started",
		zap.String("session_id", e.broadcaster.SessionID()),
		zap.Bool("degraded", e.subscriber.Degraded()))
}

// Close tears every registry down. After Close the engine must not be
// reused; a new login constructs a new Engine.
func (e *Engine) Close() {
	for _, dispose := range e.disposers {
		dispose()
	}
	e.disposers = nil

	e.subscriber.UnsubscribeAll()
	e.broadcaster.Close()
	e.store.Clear()
	e.threads.clear()
	e.summaries.clear()

	e.logger.Info("sync engine stopped")
}

// SessionID exposes the local session identifier.
func (e *Engine) SessionID() string {
	return e.broadcaster.SessionID()
}

// Degraded reports whether any notification channel failed to open.
func (e *Engine) Degraded() bool {
	return e.subscriber.Degraded()
}

// OnThreadMessagesUpdated registers a listener for canonical-list changes
// and returns a disposer.
func (e *Engine) OnThreadMessagesUpdated(fn reconcile.UpdateListener) func() {
	return e.store.OnThreadUpdated(fn)
}

// OnStreamBroadcast registers a listener for peer streaming broadcasts
// and returns a disposer.
func (e *Engine) OnStreamBroadcast(fn broadcast.Listener) func() {
	return e.broadcaster.OnStreamUpdate(fn)
}

// LoadThread fetches the durable snapshot for a thread and installs it as
// the canonical list.
func (e *Engine) LoadThread(ctx context.Context, threadID string) error {
	messages, err := e.durable.QueryMessages(ctx, e.userID, threadID)
	if err != nil {
		return fmt.Errorf("failed to load thread snapshot: %w", err)
	}
	e.store.LoadSnapshot(threadID, messages)
	return nil
}

// Messages returns the current canonical list for a thread. A final
// dedupe pass runs at the presentation boundary so duplicates never
// reach the UI even if one slipped through reconciliation.
func (e *Engine) Messages(threadID string) []model.Message {
	return reconcile.Dedupe(e.store.Messages(threadID))
}

// Threads returns the known threads for the user, loading from the
// durable store if the registry is empty.
func (e *Engine) Threads(ctx context.Context) ([]model.Thread, error) {
	if threads := e.threads.list(); len(threads) > 0 {
		return threads, nil
	}

	threads, err := e.durable.QueryThreads(ctx, e.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load threads: %w", err)
	}
	for _, t := range threads {
		e.threads.upsert(t)
	}
	return e.threads.list(), nil
}

// Summary returns the best-effort summary for a message, if one arrived.
func (e *Engine) Summary(messageID string) (model.MessageSummary, bool) {
	return e.summaries.get(messageID)
}
