package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/convohub/messaging-platform/internal/bridge"
	"github.com/convohub/messaging-platform/internal/signing"
	"github.com/convohub/messaging-platform/pkg/logger"
)

// CallbackHandler receives replies from the external workflow engine.
type CallbackHandler struct {
	dispatcher *bridge.Dispatcher
	logger     *logger.Logger
}

// NewCallbackHandler creates a callback handler.
func NewCallbackHandler(dispatcher *bridge.Dispatcher, log *logger.Logger) *CallbackHandler {
	return &CallbackHandler{dispatcher: dispatcher, logger: log}
}

// Handle handles POST /internal/automation/callback.
//
// Auth and tenant-mismatch failures are answered with generic rejections;
// detail stays on our side of the trust boundary in system events.
func (h *CallbackHandler) Handle(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload bridge.CallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.dispatcher.HandleCallback(r.Context(), parts[1], r.Header.Get("X-Tenant-ID"), &payload)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, signing.ErrInvalidToken), errors.Is(err, bridge.ErrTenantMismatch):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, bridge.ErrUnknownRun):
		writeError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error("callback processing failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "processing failed")
	}
}
