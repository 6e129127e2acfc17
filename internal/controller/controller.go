package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/session-sync/internal/llm"
	"github.com/capitalize-ai/session-sync/internal/model"
	"github.com/capitalize-ai/session-sync/pkg/logger"
	"github.com/capitalize-ai/session-sync/pkg/metrics"
)

// Controller drives generation for one engine: it feeds content-so-far
// snapshots to the broadcaster, keeps the local optimistic copy current,
// and persists the finished message to the durable store.
type Controller struct {
	engine       *Engine
	llm          llm.Client
	republish    time.Duration
	defaultModel string
	logger       *logger.Logger

	mu   sync.Mutex
	gens map[string]*generation // one active generation per thread
}

// generation tracks one in-flight assistant response.
type generation struct {
	messageID string
	cancel    context.CancelFunc

	mu      sync.Mutex
	content string
}

func (g *generation) set(content string) {
	g.mu.Lock()
	g.content = content
	g.mu.Unlock()
}

func (g *generation) snapshot() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.content
}

// NewController creates a controller over an engine and a generation
// source. republish is the cadence at which streaming content is
// re-broadcast so dropped updates self-heal within one interval.
func NewController(engine *Engine, client llm.Client, republish time.Duration, defaultModel string, log *logger.Logger) *Controller {
	if republish <= 0 {
		republish = 100 * time.Millisecond
	}
	return &Controller{
		engine:       engine,
		llm:          client,
		republish:    republish,
		defaultModel: defaultModel,
		logger:       log,
		gens:         make(map[string]*generation),
	}
}

// SendMessage appends the user's message optimistically, persists it, and
// starts generating the assistant response. If threadID is empty a new
// thread is created on this first message. Returns the user message and
// the id of the assistant message being generated.
func (c *Controller) SendMessage(ctx context.Context, threadID string, req *model.SendMessageRequest) (*model.Message, string, error) {
	now := time.Now()

	if threadID == "" {
		thread, err := c.createThread(ctx, req.Content, now)
		if err != nil {
			return nil, "", err
		}
		threadID = thread.ID
	}

	userMsg := model.TextMessage(
		uuid.Must(uuid.NewV7()).String(),
		threadID,
		c.engine.userID,
		model.RoleUser,
		req.Content,
		now,
	)
	userMsg.Attachments = req.Attachments

	c.engine.store.ApplyLocal(threadID, userMsg)
	if err := c.engine.durable.CreateMessage(ctx, &userMsg); err != nil {
		return nil, "", fmt.Errorf("failed to persist user message: %w", err)
	}
	c.bumpThread(ctx, threadID, now)

	assistantID, err := c.startGeneration(ctx, threadID, req.Model)
	if err != nil {
		return &userMsg, "", err
	}

	return &userMsg, assistantID, nil
}

// StopGeneration aborts the thread's in-flight generation, if any. The
// partial content still gets a terminal broadcast and is persisted, so
// peer sessions settle on the same truncated message.
func (c *Controller) StopGeneration(threadID string) bool {
	c.mu.Lock()
	gen, ok := c.gens[threadID]
	c.mu.Unlock()

	if !ok {
		return false
	}
	gen.cancel()
	return true
}

// Retry regenerates from a point in the thread: every message at or after
// req.From is bulk-deleted locally and durably, then the exchange is
// re-sent.
func (c *Controller) Retry(ctx context.Context, threadID string, req *model.RetryRequest) (*model.Message, string, error) {
	c.StopGeneration(threadID)

	c.engine.store.RemoveFrom(threadID, req.From)
	if err := c.engine.durable.DeleteMessagesFrom(ctx, c.engine.userID, threadID, req.From); err != nil {
		return nil, "", fmt.Errorf("failed to truncate thread: %w", err)
	}

	return c.SendMessage(ctx, threadID, &model.SendMessageRequest{
		Content: req.Content,
		Model:   req.Model,
	})
}

// CreateThread creates an empty thread explicitly.
func (c *Controller) CreateThread(ctx context.Context, req *model.CreateThreadRequest) (*model.Thread, error) {
	now := time.Now()
	thread := &model.Thread{
		ID:             uuid.Must(uuid.NewV7()).String(),
		UserID:         c.engine.userID,
		Title:          req.Title,
		Tags:           req.Tags,
		ProjectID:      req.ProjectID,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}

	c.engine.threads.upsert(*thread)
	if err := c.engine.durable.CreateThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to persist thread: %w", err)
	}
	return thread, nil
}

// UpdateThread applies a rename/pin/tag mutation.
func (c *Controller) UpdateThread(ctx context.Context, threadID string, req *model.UpdateThreadRequest) (*model.Thread, error) {
	thread, ok := c.engine.threads.get(threadID)
	if !ok {
		return nil, fmt.Errorf("thread not found")
	}

	if req.Title != nil {
		thread.Title = *req.Title
	}
	if req.Pinned != nil {
		thread.Pinned = *req.Pinned
	}
	if req.Tags != nil {
		thread.Tags = req.Tags
	}
	thread.UpdatedAt = time.Now()

	c.engine.threads.upsert(thread)
	if err := c.engine.durable.UpdateThread(ctx, &thread); err != nil {
		return nil, fmt.Errorf("failed to persist thread update: %w", err)
	}
	return &thread, nil
}

// DeleteThread deletes a thread and forgets its canonical list.
func (c *Controller) DeleteThread(ctx context.Context, threadID string) error {
	c.StopGeneration(threadID)
	c.engine.threads.remove(threadID)
	c.engine.store.RemoveThread(threadID)

	if err := c.engine.durable.DeleteThread(ctx, c.engine.userID, threadID); err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// StreamActive reports whether this session is generating in the thread.
func (c *Controller) StreamActive(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.gens[threadID]
	return ok
}

func (c *Controller) createThread(ctx context.Context, firstMessage string, now time.Time) (*model.Thread, error) {
	title := firstMessage
	if len(title) > 80 {
		title = title[:80]
	}
	return c.CreateThread(ctx, &model.CreateThreadRequest{Title: title})
}

func (c *Controller) bumpThread(ctx context.Context, threadID string, at time.Time) {
	thread, ok := c.engine.threads.get(threadID)
	if !ok {
		return
	}
	thread.LastActivityAt = at
	c.engine.threads.upsert(thread)
	if err := c.engine.durable.UpdateThread(ctx, &thread); err != nil {
		c.logger.Warn("failed to bump thread activity", zap.String("thread_id", threadID), zap.Error(err))
	}
}

// startGeneration creates the assistant placeholder, announces the stream
// and launches the generation goroutine.
func (c *Controller) startGeneration(ctx context.Context, threadID, modelName string) (string, error) {
	if c.llm == nil {
		return "", fmt.Errorf("no generation source configured")
	}
	if modelName == "" {
		modelName = c.defaultModel
	}

	c.mu.Lock()
	if _, busy := c.gens[threadID]; busy {
		c.mu.Unlock()
		return "", fmt.Errorf("generation already in progress for thread")
	}

	assistant := model.TextMessage(
		uuid.Must(uuid.NewV7()).String(),
		threadID,
		c.engine.userID,
		model.RoleAssistant,
		"",
		time.Now(),
	)
	assistant.Model = &modelName

	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	gen := &generation{messageID: assistant.ID, cancel: cancel}
	c.gens[threadID] = gen
	c.mu.Unlock()

	history := c.history(threadID)

	c.engine.store.ApplyLocal(threadID, assistant)
	c.engine.broadcaster.StartStreaming(threadID, assistant.ID)

	go c.generate(genCtx, threadID, assistant, history, modelName, gen)

	return assistant.ID, nil
}

// generate runs one assistant response to completion or abort.
func (c *Controller) generate(ctx context.Context, threadID string, assistant model.Message, history []llm.ChatMessage, modelName string, gen *generation) {
	start := time.Now()
	done := make(chan struct{})

	// Periodic re-publish: a dropped broadcast self-heals within one
	// interval because every update carries the full content so far.
	go func() {
		ticker := time.NewTicker(c.republish)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if content := gen.snapshot(); content != "" {
					c.engine.broadcaster.UpdateStreamingContent(threadID, assistant.ID, content)
				}
			}
		}
	}()

	resp, err := c.llm.CompleteStream(ctx, &llm.CompletionRequest{
		Model:     modelName,
		Messages:  history,
		MaxTokens: 4096,
	}, func(contentSoFar string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		gen.set(contentSoFar)
		assistant.SetContent(contentSoFar)
		c.engine.store.ApplyLocal(threadID, assistant)
		return nil
	})
	close(done)

	c.mu.Lock()
	delete(c.gens, threadID)
	c.mu.Unlock()

	final := gen.snapshot()
	status := "success"
	if err != nil {
		// Aborts and failures still terminate the stream with whatever
		// partial content exists, so peers stop expecting updates.
		status = "aborted"
		c.logger.Warn("generation ended early",
			zap.String("thread_id", threadID),
			zap.String("message_id", assistant.ID),
			zap.Error(err))
	} else {
		final = resp.Content
	}

	assistant.SetContent(final)
	assistant.Citations = extractCitations(final)

	c.engine.store.ApplyLocal(threadID, assistant)
	c.engine.broadcaster.EndStreaming(threadID, assistant.ID, final)

	persistCtx, cancelPersist := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelPersist()

	if perr := c.engine.durable.CreateMessage(persistCtx, &assistant); perr != nil {
		c.logger.Error("failed to persist assistant message",
			zap.String("message_id", assistant.ID), zap.Error(perr))
	}
	c.bumpThread(persistCtx, threadID, time.Now())

	metrics.RecordLLMStream(modelName, status, time.Since(start).Seconds())

	if err == nil && final != "" {
		go c.summarize(threadID, assistant.ID, final)
	}
}

// summarize produces the best-effort per-message summary. Failures are
// logged and forgotten; nothing downstream depends on it.
func (c *Controller) summarize(threadID, messageID, content string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := c.llm.Complete(ctx, &llm.CompletionRequest{
		Model: c.defaultModel,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: "Summarize the following in one short sentence:\n\n" + content},
		},
		MaxTokens: 60,
	})
	if err != nil {
		c.logger.Debug("summary generation failed", zap.String("message_id", messageID), zap.Error(err))
		return
	}

	summary := &model.MessageSummary{
		ID:        uuid.Must(uuid.NewV7()).String(),
		MessageID: messageID,
		ThreadID:  threadID,
		UserID:    c.engine.userID,
		Summary:   resp.Content,
		CreatedAt: time.Now(),
	}
	if err := c.engine.durable.PutSummary(ctx, summary); err != nil {
		c.logger.Debug("failed to persist summary", zap.String("message_id", messageID), zap.Error(err))
	}
}

// history converts the canonical list into the generation request shape.
func (c *Controller) history(threadID string) []llm.ChatMessage {
	messages := c.engine.store.Messages(threadID)
	history := make([]llm.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		history = append(history, llm.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return history
}
