package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/convohub/messaging-platform/internal/middleware"
	"github.com/convohub/messaging-platform/internal/model"
	"github.com/convohub/messaging-platform/internal/service"
	"github.com/convohub/messaging-platform/internal/store"
	"github.com/convohub/messaging-platform/pkg/logger"
)

// OperatorHandler serves the operator takeover API.
type OperatorHandler struct {
	conversations *service.ConversationService
	logger        *logger.Logger
}

// NewOperatorHandler creates an operator handler.
func NewOperatorHandler(convs *service.ConversationService, log *logger.Logger) *OperatorHandler {
	return &OperatorHandler{conversations: convs, logger: log}
}

// ConversationResponse reports conversation state after an operator action.
type ConversationResponse struct {
	ConversationID string                   `json:"conversation_id"`
	Status         model.ConversationStatus `json:"status"`
	IsAIPaused     bool                     `json:"is_ai_paused"`
}

// OperatorSendRequest is an operator message.
type OperatorSendRequest struct {
	Content string `json:"content"`
}

// Takeover handles POST /api/v1/conversations/{id}/takeover.
func (h *OperatorHandler) Takeover(w http.ResponseWriter, r *http.Request) {
	conv, actor, ok := h.load(w, r)
	if !ok {
		return
	}

	conv, err := h.conversations.Takeover(r.Context(), conv.ID, actor)
	if err != nil {
		h.logger.Error("takeover failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "takeover failed")
		return
	}
	writeJSON(w, http.StatusOK, stateOf(conv))
}

// Release handles POST /api/v1/conversations/{id}/release.
func (h *OperatorHandler) Release(w http.ResponseWriter, r *http.Request) {
	conv, actor, ok := h.load(w, r)
	if !ok {
		return
	}

	conv, err := h.conversations.Release(r.Context(), conv.ID, actor)
	if err != nil {
		h.logger.Error("release failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "release failed")
		return
	}
	writeJSON(w, http.StatusOK, stateOf(conv))
}

// Send handles POST /api/v1/conversations/{id}/messages.
func (h *OperatorHandler) Send(w http.ResponseWriter, r *http.Request) {
	conv, actor, ok := h.load(w, r)
	if !ok {
		return
	}

	var req OperatorSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.conversations.SendAsOperator(r.Context(), conv.ID, actor, req.Content)
	if err != nil {
		if errors.Is(err, service.ErrNotInTakeover) {
			writeError(w, http.StatusConflict, "conversation is not in takeover")
			return
		}
		h.logger.Error("operator send failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "send failed")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *OperatorHandler) load(w http.ResponseWriter, r *http.Request) (*model.Conversation, string, bool) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, "", false
	}

	conv, err := h.conversations.Store().GetConversation(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return nil, "", false
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return nil, "", false
	}
	if conv.TenantID != middleware.GetTenantID(r.Context()) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return nil, "", false
	}
	return conv, middleware.GetUserID(r.Context()), true
}

func stateOf(conv *model.Conversation) *ConversationResponse {
	return &ConversationResponse{
		ConversationID: conv.ID,
		Status:         conv.Status,
		IsAIPaused:     conv.IsAIPaused,
	}
}
