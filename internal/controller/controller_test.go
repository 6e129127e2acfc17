package controller

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/capitalize-ai/session-sync/internal/durable"
	"github.com/capitalize-ai/session-sync/internal/llm"
	"github.com/capitalize-ai/session-sync/internal/model"
	"github.com/capitalize-ai/session-sync/pkg/logger"
)

// fakeDurable records writes in memory and signals message persistence so
// tests can wait on the async generation goroutine.
type fakeDurable struct {
	mu          sync.Mutex
	threads     map[string]model.Thread
	messages    []model.Message
	summaries   []model.MessageSummary
	deletedFrom []time.Time

	msgCreated chan model.Message
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{
		threads:    make(map[string]model.Thread),
		msgCreated: make(chan model.Message, 16),
	}
}

func (f *fakeDurable) QueryThreads(ctx context.Context, userID string) ([]model.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Thread
	for _, t := range f.threads {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeDurable) QueryMessages(ctx context.Context, userID, threadID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, m := range f.messages {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeDurable) CreateThread(ctx context.Context, thread *model.Thread) error {
	f.mu.Lock()
	f.threads[thread.ID] = *thread
	f.mu.Unlock()
	return nil
}

func (f *fakeDurable) UpdateThread(ctx context.Context, thread *model.Thread) error {
	f.mu.Lock()
	f.threads[thread.ID] = *thread
	f.mu.Unlock()
	return nil
}

func (f *fakeDurable) DeleteThread(ctx context.Context, userID, threadID string) error {
	f.mu.Lock()
	delete(f.threads, threadID)
	f.mu.Unlock()
	return nil
}

func (f *fakeDurable) CreateMessage(ctx context.Context, msg *model.Message) error {
	f.mu.Lock()
	f.messages = append(f.messages, *msg)
	f.mu.Unlock()
	f.msgCreated <- *msg
	return nil
}

func (f *fakeDurable) UpdateMessage(ctx context.Context, msg *model.Message) error {
	return nil
}

func (f *fakeDurable) DeleteMessagesFrom(ctx context.Context, userID, threadID string, from time.Time) error {
	f.mu.Lock()
	f.deletedFrom = append(f.deletedFrom, from)
	kept := f.messages[:0]
	for _, m := range f.messages {
		if m.ThreadID == threadID && !m.CreatedAt.Before(from) {
			continue
		}
		kept = append(kept, m)
	}
	f.messages = kept
	f.mu.Unlock()
	return nil
}

func (f *fakeDurable) PutSummary(ctx context.Context, summary *model.MessageSummary) error {
	f.mu.Lock()
	f.summaries = append(f.summaries, *summary)
	f.mu.Unlock()
	return nil
}

// silentFeed never delivers change events.
type silentFeed struct{}

func (silentFeed) Subscribe(kind model.EntityKind, fn func(model.ChangeEnvelope)) (func(), error) {
	return func() {}, nil
}

// nopTransport swallows broadcasts.
type nopTransport struct{}

func (nopTransport) Publish(subject string, data []byte) error { return nil }
func (nopTransport) Subscribe(subject string, fn func(data []byte)) (func(), error) {
	return func() {}, nil
}

// fakeLLM streams a fixed sequence of content snapshots. If hold is
// non-nil the stream stays open after the last snapshot until the test
// releases it or the context is cancelled.
type fakeLLM struct {
	snapshots    []string
	final        string
	hold         chan struct{}
	streamed     chan struct{} // closed once all snapshots were delivered
	streamedOnce sync.Once
}

func newFakeLLM(final string, snapshots ...string) *fakeLLM {
	return &fakeLLM{snapshots: snapshots, final: final, streamed: make(chan struct{})}
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return &llm.CompletionResponse{Content: "one-line summary", Model: req.Model}, nil
}

func (f *fakeLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, callback llm.SnapshotCallback) (*llm.CompletionResponse, error) {
	for _, s := range f.snapshots {
		if err := callback(s); err != nil {
			return nil, err
		}
	}
	f.streamedOnce.Do(func() { close(f.streamed) })

	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &llm.CompletionResponse{Content: f.final, Model: req.Model}, nil
}

func (f *fakeLLM) Name() string     { return "fake" }
func (f *fakeLLM) Models() []string { return []string{"fake-1"} }

var _ durable.Store = (*fakeDurable)(nil)
var _ llm.Client = (*fakeLLM)(nil)

func newTestEngine(t *testing.T, fd *fakeDurable) *Engine {
	t.Helper()
	engine := NewEngine(EngineConfig{
		UserID:       "u1",
		DefaultModel: "fake-1",
	}, fd, silentFeed{}, nopTransport{}, logger.Nop())
	engine.Start(context.Background())
	t.Cleanup(engine.Close)
	return engine
}

func waitForMessage(t *testing.T, fd *fakeDurable, role model.Role) model.Message {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case m := <-fd.msgCreated:
			if m.Role == role {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for persisted %s message", role)
		}
	}
}

func TestSendMessageFullFlow(t *testing.T) {
	fd := newFakeDurable()
	engine := newTestEngine(t, fd)
	client := newFakeLLM("The answer is at https://example.com/ref.", "The", "The answer")
	c := NewController(engine, client, 10*time.Millisecond, "fake-1", logger.Nop())

	userMsg, assistantID, err := c.SendMessage(context.Background(), "", &model.SendMessageRequest{Content: "what is the answer?"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if userMsg.ID == "" || assistantID == "" {
		t.Fatal("missing user message id or assistant id")
	}
	if userMsg.Role != model.RoleUser || userMsg.Content != "what is the answer?" {
		t.Errorf("user message = %+v", userMsg)
	}

	// First message on an empty thread id creates the thread.
	threadID := userMsg.ThreadID
	if threadID == "" {
		t.Fatal("no thread assigned to first message")
	}
	fd.mu.Lock()
	thread, ok := fd.threads[threadID]
	fd.mu.Unlock()
	if !ok {
		t.Fatal("thread not persisted")
	}
	if thread.Title != "what is the answer?" {
		t.Errorf("thread title = %q", thread.Title)
	}

	if m := waitForMessage(t, fd, model.RoleUser); m.ID != userMsg.ID {
		t.Errorf("persisted user message id = %s, want %s", m.ID, userMsg.ID)
	}
	assistant := waitForMessage(t, fd, model.RoleAssistant)
	if assistant.ID != assistantID {
		t.Errorf("persisted assistant id = %s, want %s", assistant.ID, assistantID)
	}
	if assistant.Content != "The answer is at https://example.com/ref." {
		t.Errorf("assistant content = %q", assistant.Content)
	}
	if len(assistant.Citations) != 1 || assistant.Citations[0] != "https://example.com/ref" {
		t.Errorf("citations = %v", assistant.Citations)
	}

	// Canonical list holds both, in order, with the final content.
	messages := engine.Messages(threadID)
	if len(messages) != 2 {
		t.Fatalf("canonical list has %d messages, want 2", len(messages))
	}
	if messages[0].ID != userMsg.ID || messages[1].ID != assistantID {
		t.Errorf("order = [%s %s]", messages[0].ID, messages[1].ID)
	}
	if messages[1].Content != assistant.Content {
		t.Errorf("canonical assistant content = %q", messages[1].Content)
	}
}

func TestSendMessageTruncatesLongTitle(t *testing.T) {
	fd := newFakeDurable()
	engine := newTestEngine(t, fd)
	client := newFakeLLM("ok")
	c := NewController(engine, client, time.Millisecond, "fake-1", logger.Nop())

	long := strings.Repeat("x", 200)
	userMsg, _, err := c.SendMessage(context.Background(), "", &model.SendMessageRequest{Content: long})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	fd.mu.Lock()
	thread := fd.threads[userMsg.ThreadID]
	fd.mu.Unlock()
	if len(thread.Title) != 80 {
		t.Errorf("title length = %d, want 80", len(thread.Title))
	}
}

func TestSendMessageRejectsBusyThread(t *testing.T) {
	fd := newFakeDurable()
	engine := newTestEngine(t, fd)
	client := newFakeLLM("done", "partial")
	client.hold = make(chan struct{})
	c := NewController(engine, client, time.Millisecond, "fake-1", logger.Nop())

	userMsg, _, err := c.SendMessage(context.Background(), "", &model.SendMessageRequest{Content: "first"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	<-client.streamed

	if _, _, err := c.SendMessage(context.Background(), userMsg.ThreadID, &model.SendMessageRequest{Content: "second"}); err == nil {
		t.Error("second send accepted while generation in flight")
	}

	close(client.hold)
	waitForMessage(t, fd, model.RoleAssistant)
}

func TestStopGenerationPersistsPartial(t *testing.T) {
	fd := newFakeDurable()
	engine := newTestEngine(t, fd)
	client := newFakeLLM("never reached", "partial content")
	client.hold = make(chan struct{})
	c := NewController(engine, client, time.Millisecond, "fake-1", logger.Nop())

	userMsg, assistantID, err := c.SendMessage(context.Background(), "", &model.SendMessageRequest{Content: "go"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	<-client.streamed

	if !c.StreamActive(userMsg.ThreadID) {
		t.Fatal("stream not active before stop")
	}
	if !c.StopGeneration(userMsg.ThreadID) {
		t.Fatal("StopGeneration found nothing to stop")
	}

	assistant := waitForMessage(t, fd, model.RoleAssistant)
	if assistant.ID != assistantID {
		t.Fatalf("persisted id = %s, want %s", assistant.ID, assistantID)
	}
	if assistant.Content != "partial content" {
		t.Errorf("aborted assistant content = %q, want the partial snapshot", assistant.Content)
	}
	if c.StreamActive(userMsg.ThreadID) {
		t.Error("stream still active after stop")
	}
}

func TestStopGenerationIdleThread(t *testing.T) {
	fd := newFakeDurable()
	engine := newTestEngine(t, fd)
	c := NewController(engine, newFakeLLM("x"), time.Millisecond, "fake-1", logger.Nop())

	if c.StopGeneration("t-none") {
		t.Error("StopGeneration reported an abort on an idle thread")
	}
}

func TestRetryTruncatesAndResends(t *testing.T) {
	fd := newFakeDurable()
	engine := newTestEngine(t, fd)
	client := newFakeLLM("better answer")
	c := NewController(engine, client, time.Millisecond, "fake-1", logger.Nop())

	userMsg, _, err := c.SendMessage(context.Background(), "", &model.SendMessageRequest{Content: "original"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	threadID := userMsg.ThreadID
	waitForMessage(t, fd, model.RoleAssistant)

	retryUser, retryAssistant, err := c.Retry(context.Background(), threadID, &model.RetryRequest{
		From:    userMsg.CreatedAt,
		Content: "rephrased",
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retryAssistant == "" {
		t.Fatal("retry did not start a generation")
	}

	fd.mu.Lock()
	truncations := len(fd.deletedFrom)
	from := fd.deletedFrom[0]
	fd.mu.Unlock()
	if truncations != 1 {
		t.Fatalf("durable truncations = %d, want 1", truncations)
	}
	if !from.Equal(userMsg.CreatedAt) {
		t.Errorf("truncated from %v, want %v", from, userMsg.CreatedAt)
	}

	waitForMessage(t, fd, model.RoleAssistant)
	messages := engine.Messages(threadID)
	for _, m := range messages {
		if m.Content == "original" {
			t.Error("truncated message still in canonical list")
		}
	}
	if messages[0].ID != retryUser.ID {
		t.Errorf("canonical list does not start with the retried message")
	}
}

func TestThreadLifecycle(t *testing.T) {
	fd := newFakeDurable()
	engine := newTestEngine(t, fd)
	c := NewController(engine, newFakeLLM("x"), time.Millisecond, "fake-1", logger.Nop())
	ctx := context.Background()

	thread, err := c.CreateThread(ctx, &model.CreateThreadRequest{Title: "notes", Tags: []string{"work"}})
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}

	pinned := true
	title := "renamed"
	updated, err := c.UpdateThread(ctx, thread.ID, &model.UpdateThreadRequest{Title: &title, Pinned: &pinned})
	if err != nil {
		t.Fatalf("UpdateThread: %v", err)
	}
	if updated.Title != "renamed" || !updated.Pinned {
		t.Errorf("updated thread = %+v", updated)
	}
	if len(updated.Tags) != 1 || updated.Tags[0] != "work" {
		t.Errorf("partial update clobbered tags: %v", updated.Tags)
	}

	if err := c.DeleteThread(ctx, thread.ID); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	fd.mu.Lock()
	_, exists := fd.threads[thread.ID]
	fd.mu.Unlock()
	if exists {
		t.Error("thread still durable after delete")
	}
	if _, err := c.UpdateThread(ctx, thread.ID, &model.UpdateThreadRequest{Title: &title}); err == nil {
		t.Error("update of a deleted thread succeeded")
	}
}

func TestSummaryRecordedAfterGeneration(t *testing.T) {
	fd := newFakeDurable()
	engine := newTestEngine(t, fd)
	client := newFakeLLM("final body of the answer")
	c := NewController(engine, client, time.Millisecond, "fake-1", logger.Nop())

	_, assistantID, err := c.SendMessage(context.Background(), "", &model.SendMessageRequest{Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	waitForMessage(t, fd, model.RoleAssistant)

	deadline := time.Now().Add(5 * time.Second)
	for {
		fd.mu.Lock()
		n := len(fd.summaries)
		var got model.MessageSummary
		if n > 0 {
			got = fd.summaries[0]
		}
		fd.mu.Unlock()

		if n > 0 {
			if got.MessageID != assistantID {
				t.Errorf("summary message id = %s, want %s", got.MessageID, assistantID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no summary persisted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
