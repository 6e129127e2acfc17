package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/session-sync/internal/controller"
	"github.com/capitalize-ai/session-sync/internal/middleware"
	"github.com/capitalize-ai/session-sync/internal/model"
	"github.com/capitalize-ai/session-sync/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	engine     *controller.Engine
	controller *controller.Controller
	logger     *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(engine *controller.Engine, ctrl *controller.Controller, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		engine:     engine,
		controller: ctrl,
		logger:     log,
	}
}

// SendMessageResponse returns the persisted user message and the id of
// the assistant message now being generated.
type SendMessageResponse struct {
	Message     *model.Message `json:"message"`
	AssistantID string         `json:"assistant_id,omitempty"`
}

// List handles GET /api/v1/threads/{id}/messages
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Lazy snapshot load: the first listing of a thread pulls the
	// durable snapshot into the canonical store.
	if len(h.engine.Messages(threadID)) == 0 {
		if err := h.engine.LoadThread(r.Context(), threadID); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load thread")
			return
		}
	}

	writeJSON(w, http.StatusOK, &model.ListMessagesResponse{
		Messages:     h.engine.Messages(threadID),
		StreamActive: h.controller.StreamActive(threadID),
	})
}

// Send handles POST /api/v1/threads/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	if threadID != "new" {
		if err := middleware.ValidateThreadID(threadID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		threadID = ""
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userMsg, assistantID, err := h.controller.SendMessage(r.Context(), threadID, &req)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, &SendMessageResponse{
		Message:     userMsg,
		AssistantID: assistantID,
	})
}

// Stop handles POST /api/v1/threads/{id}/stop
func (h *MessageHandler) Stop(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stopped := h.controller.StopGeneration(threadID)
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

// Retry handles POST /api/v1/threads/{id}/retry
func (h *MessageHandler) Retry(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	if err := middleware.ValidateThreadID(threadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	userMsg, assistantID, err := h.controller.Retry(r.Context(), threadID, &req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, &SendMessageResponse{
		Message:     userMsg,
		AssistantID: assistantID,
	})
}
