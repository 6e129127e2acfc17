package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/session-sync/internal/controller"
	"github.com/capitalize-ai/session-sync/internal/middleware"
	"github.com/capitalize-ai/session-sync/internal/model"
	"github.com/capitalize-ai/session-sync/pkg/logger"
	"github.com/capitalize-ai/session-sync/pkg/metrics"
)

// StreamHandler pushes engine events to the UI over SSE.
type StreamHandler struct {
	engine *controller.Engine
	logger *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(engine *controller.Engine, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		engine: engine,
		logger: log,
	}
}

// threadUpdatedEvent carries the new canonical list of a thread.
type threadUpdatedEvent struct {
	ThreadID string          `json:"thread_id"`
	Messages []model.Message `json:"messages"`
}

// streamUpdateEvent carries a peer session's streaming broadcast.
type streamUpdateEvent struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
	Streaming bool   `json:"is_streaming"`
	SessionID string `json:"session_id"`
}

// Stream handles GET /api/v1/threads/{id}/stream
//
// Sends the current canonical list immediately, then every subsequent
// "thread messages updated" and "streaming broadcast received" event for
// the thread, with periodic heartbeats.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	threadID := chi.URLParam(r, "id")

	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	// Event fan-in. Listener callbacks run on engine goroutines; a full
	// buffer drops the update, which the next full snapshot supersedes
	// anyway.
	events := make(chan func(), 64)
	push := func(fn func()) {
		select {
		case events <- fn:
		default:
			h.logger.Debug("SSE event buffer full, dropping update",
				zap.String("thread_id", threadID))
		}
	}

	disposeUpdates := h.engine.OnThreadMessagesUpdated(func(id string, messages []model.Message) {
		if id != threadID {
			return
		}
		push(func() {
			sendSSEEvent(w, flusher, "thread_updated", &threadUpdatedEvent{
				ThreadID: id,
				Messages: messages,
			})
		})
	})
	defer disposeUpdates()

	disposeStream := h.engine.OnStreamBroadcast(func(st model.StreamingState) {
		if st.ThreadID != threadID {
			return
		}
		push(func() {
			sendSSEEvent(w, flusher, "stream_update", &streamUpdateEvent{
				ThreadID:  st.ThreadID,
				MessageID: st.MessageID,
				Content:   st.Content,
				Streaming: st.IsStreaming,
				SessionID: st.SessionID,
			})
		})
	})
	defer disposeStream()

	// Initial snapshot so the client renders without waiting for the
	// first mutation.
	if len(h.engine.Messages(threadID)) == 0 {
		if err := h.engine.LoadThread(ctx, threadID); err != nil {
			h.logger.Warn("failed to load thread for stream",
				zap.String("thread_id", threadID), zap.Error(err))
		}
	}
	sendSSEEvent(w, flusher, "thread_updated", &threadUpdatedEvent{
		ThreadID: threadID,
		Messages: h.engine.Messages(threadID),
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("thread_id", threadID))
			return

		case fn := <-events:
			fn()

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]time.Time{
				"timestamp": time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
