package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/convohub/messaging-platform/internal/channel"
	"github.com/convohub/messaging-platform/internal/middleware"
	"github.com/convohub/messaging-platform/internal/model"
	"github.com/convohub/messaging-platform/internal/service"
	"github.com/convohub/messaging-platform/internal/store"
	"github.com/convohub/messaging-platform/pkg/logger"
	"github.com/convohub/messaging-platform/pkg/metrics"
)

// WidgetHandler serves the public widget API consumed by the embedded
// web client.
type WidgetHandler struct {
	inbound       *service.InboundService
	conversations *service.ConversationService
	store         *store.Store
	logger        *logger.Logger
}

// NewWidgetHandler creates a widget handler.
func NewWidgetHandler(inbound *service.InboundService, convs *service.ConversationService, st *store.Store, log *logger.Logger) *WidgetHandler {
	return &WidgetHandler{
		inbound:       inbound,
		conversations: convs,
		store:         st,
		logger:        log,
	}
}

// InitRequest is the widget bootstrap request.
type InitRequest struct {
	BotKey         string `json:"bot_key"`
	ExternalUserID string `json:"external_user_id,omitempty"`
}

// InitResponse is the widget bootstrap response.
type InitResponse struct {
	ConversationID string                   `json:"conversation_id"`
	ExternalUserID string                   `json:"external_user_id"`
	WelcomeMessage string                   `json:"welcome_message,omitempty"`
	Status         model.ConversationStatus `json:"status"`
	IsAIPaused     bool                     `json:"is_ai_paused"`
}

// SendRequest is the widget send request.
type SendRequest struct {
	Content string `json:"content"`
}

// SendResponse confirms a widget send with the authoritative server
// identity of the message.
type SendResponse struct {
	MessageID  string                   `json:"message_id"`
	CreatedAt  time.Time                `json:"created_at"`
	Reply      *model.Message           `json:"reply,omitempty"`
	Status     model.ConversationStatus `json:"status"`
	IsAIPaused bool                     `json:"is_ai_paused"`
}

// MessagesResponse is the widget poll response.
type MessagesResponse struct {
	Messages   []model.Message          `json:"messages"`
	Status     model.ConversationStatus `json:"status"`
	IsAIPaused bool                     `json:"is_ai_paused"`
}

// Init handles POST /widget/v1/init.
func (h *WidgetHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateBotKey(req.BotKey); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bot, err := h.store.GetBotByKey(r.Context(), req.BotKey)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	externalUserID := req.ExternalUserID
	if externalUserID == "" {
		externalUserID = uuid.Must(uuid.NewV7()).String()
	} else if err := middleware.ValidateExternalUserID(externalUserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.conversations.Resolve(r.Context(), bot.TenantID, bot.ID, model.ChannelWidget, externalUserID)
	if err != nil {
		h.logger.Error("widget init failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "init failed")
		return
	}

	writeJSON(w, http.StatusOK, &InitResponse{
		ConversationID: conv.ID,
		ExternalUserID: externalUserID,
		WelcomeMessage: bot.WelcomeMessage,
		Status:         conv.Status,
		IsAIPaused:     conv.IsAIPaused,
	})
}

// Send handles POST /widget/v1/conversations/{id}/messages.
func (h *WidgetHandler) Send(w http.ResponseWriter, r *http.Request) {
	conv, bot, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.inbound.Handle(r.Context(), bot, model.ChannelWidget, channel.InboundMessage{
		ExternalUserID: conv.ExternalUserID,
		Text:           req.Content,
	})
	if err != nil {
		h.logger.Error("widget send failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "send failed")
		return
	}

	writeJSON(w, http.StatusCreated, &SendResponse{
		MessageID:  res.Message.ID,
		CreatedAt:  res.Message.CreatedAt,
		Reply:      res.Reply,
		Status:     res.Conversation.Status,
		IsAIPaused: res.Conversation.IsAIPaused,
	})
}

// Messages handles GET /widget/v1/conversations/{id}/messages?since=...
// The cursor is the created_at of the newest message the client has seen,
// RFC3339Nano.
func (h *WidgetHandler) Messages(w http.ResponseWriter, r *http.Request) {
	conv, _, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since cursor")
			return
		}
		since = parsed
	}

	msgs, conv, err := h.conversations.ListMessagesSince(r.Context(), conv.ID, since, 100)
	if err != nil {
		metrics.WidgetPollsTotal.WithLabelValues("error").Inc()
		h.logger.Error("widget poll failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "poll failed")
		return
	}
	metrics.WidgetPollsTotal.WithLabelValues("ok").Inc()

	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, &MessagesResponse{
		Messages:   msgs,
		Status:     conv.Status,
		IsAIPaused: conv.IsAIPaused,
	})
}

// authorize loads the conversation in the URL and checks that the caller's
// bot key owns it. Failures are uniformly 404 to avoid leaking existence.
func (h *WidgetHandler) authorize(w http.ResponseWriter, r *http.Request) (*model.Conversation, *model.Bot, bool) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}

	bot, err := h.store.GetBotByKey(r.Context(), r.Header.Get("X-Bot-Key"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return nil, nil, false
	}

	conv, err := h.store.GetConversation(r.Context(), conversationID)
	if err != nil || conv.BotID != bot.ID {
		writeError(w, http.StatusNotFound, "not found")
		return nil, nil, false
	}
	return conv, bot, true
}
