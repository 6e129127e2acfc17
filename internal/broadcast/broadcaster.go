// Package broadcast propagates "content so far" for in-progress assistant
// messages between sessions of the same user. Updates never touch durable
// storage; each one carries the full accumulated content, so a lost update
// self-heals on the next periodic publish.
package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/session-sync/internal/model"
	"github.com/capitalize-ai/session-sync/pkg/logger"
	"github.com/capitalize-ai/session-sync/pkg/metrics"
)

// Listener receives peer-originated streaming states.
type Listener func(model.StreamingState)

type streamKey struct {
	threadID  string
	messageID string
}

// Broadcaster publishes this session's streaming updates and receives
// peer sessions' updates. The session id is generated once per client
// lifetime so receivers can suppress self-originated broadcasts.
type Broadcaster struct {
	transport Transport
	logger    *logger.Logger
	sessionID string
	userID    string

	mu        sync.Mutex
	active    map[streamKey]bool
	listeners map[int]Listener
	nextID    int
	cancelSub func()
}

// NewBroadcaster creates a broadcaster scoped to one user.
func NewBroadcaster(transport Transport, userID string, log *logger.Logger) *Broadcaster {
	return &Broadcaster{
		transport: transport,
		logger:    log,
		sessionID: uuid.New().String(),
		userID:    userID,
		active:    make(map[streamKey]bool),
		listeners: make(map[int]Listener),
	}
}

// SessionID returns the process-unique identifier of this session.
func (b *Broadcaster) SessionID() string {
	return b.sessionID
}

// Open subscribes to peer broadcasts. Safe to call once per broadcaster;
// a transport failure leaves the broadcaster publish-only and is logged,
// not returned as fatal to the engine.
func (b *Broadcaster) Open() error {
	cancel, err := b.transport.Subscribe(streamSubject(b.userID), b.receive)
	if err != nil {
		b.logger.Warn("broadcast channel degraded, peer updates unavailable", zap.Error(err))
		return err
	}

	b.mu.Lock()
	b.cancelSub = cancel
	b.mu.Unlock()
	return nil
}

// Close tears down the peer subscription and clears stream state.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelSub != nil {
		b.cancelSub()
		b.cancelSub = nil
	}
	b.active = make(map[streamKey]bool)
	b.listeners = make(map[int]Listener)
}

// OnStreamUpdate registers a listener for peer streaming states and
// returns a disposer.
func (b *Broadcaster) OnStreamUpdate(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// StartStreaming declares the start of a streaming instance for a message.
func (b *Broadcaster) StartStreaming(threadID, messageID string) {
	b.mu.Lock()
	b.active[streamKey{threadID, messageID}] = true
	b.mu.Unlock()

	metrics.StreamsActive.Inc()
	b.publish(threadID, messageID, "", true)
}

// UpdateStreamingContent publishes the latest full accumulated content for
// a streaming message. Fire and forget: the next update supersedes any
// lost one. An update for a stream instance that already ended is a
// logged no-op.
func (b *Broadcaster) UpdateStreamingContent(threadID, messageID, content string) {
	b.mu.Lock()
	active := b.active[streamKey{threadID, messageID}]
	b.mu.Unlock()

	if !active {
		b.logger.Debug("dropped streaming update for ended stream",
			zap.String("thread_id", threadID), zap.String("message_id", messageID))
		return
	}

	b.publish(threadID, messageID, content, true)
}

// EndStreaming publishes a terminal update and marks the stream inactive.
// An aborted generation must still call this with whatever partial content
// exists, so peer sessions stop expecting updates.
func (b *Broadcaster) EndStreaming(threadID, messageID, finalContent string) {
	key := streamKey{threadID, messageID}

	b.mu.Lock()
	active := b.active[key]
	delete(b.active, key)
	b.mu.Unlock()

	if active {
		metrics.StreamsActive.Dec()
	}
	b.publish(threadID, messageID, finalContent, false)
}

func (b *Broadcaster) publish(threadID, messageID, content string, streaming bool) {
	state := model.StreamingState{
		ThreadID:    threadID,
		MessageID:   messageID,
		SessionID:   b.sessionID,
		Content:     content,
		IsStreaming: streaming,
		UpdatedAt:   time.Now(),
	}

	data, err := json.Marshal(state)
	if err != nil {
		b.logger.Error("failed to marshal streaming state", zap.Error(err))
		return
	}

	if err := b.transport.Publish(streamSubject(b.userID), data); err != nil {
		// Best-effort: the next periodic update supersedes this one.
		b.logger.Debug("failed to publish streaming update", zap.Error(err))
		return
	}
	metrics.BroadcastsPublished.Inc()
}

// receive handles one inbound broadcast. Self-originated broadcasts are
// ignored: the originating session already holds the authoritative
// optimistic copy.
func (b *Broadcaster) receive(data []byte) {
	var state model.StreamingState
	if err := json.Unmarshal(data, &state); err != nil || state.MessageID == "" {
		metrics.BroadcastsReceived.WithLabelValues("malformed").Inc()
		return
	}

	if state.SessionID == b.sessionID {
		metrics.BroadcastsReceived.WithLabelValues("self").Inc()
		return
	}

	metrics.BroadcastsReceived.WithLabelValues("peer").Inc()

	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, fn := range b.listeners {
		listeners = append(listeners, fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
