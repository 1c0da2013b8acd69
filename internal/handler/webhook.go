package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/convohub/messaging-platform/internal/channel"
	"github.com/convohub/messaging-platform/internal/incident"
	"github.com/convohub/messaging-platform/internal/model"
	"github.com/convohub/messaging-platform/internal/service"
	"github.com/convohub/messaging-platform/internal/signing"
	"github.com/convohub/messaging-platform/internal/store"
	"github.com/convohub/messaging-platform/pkg/logger"
	"github.com/convohub/messaging-platform/pkg/metrics"
)

const maxWebhookBody = 1 << 20

// WebhookHandler handles inbound channel provider webhooks.
type WebhookHandler struct {
	inbound     *service.InboundService
	store       *store.Store
	correlator  *incident.Correlator
	secret      string
	verifyToken string
	logger      *logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(inbound *service.InboundService, st *store.Store, corr *incident.Correlator, secret, verifyToken string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		inbound:     inbound,
		store:       st,
		correlator:  corr,
		secret:      secret,
		verifyToken: verifyToken,
		logger:      log,
	}
}

// Verify handles GET /webhooks/whatsapp/{botID}, the provider's
// subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	writeError(w, http.StatusForbidden, "verification failed")
}

// Receive handles POST /webhooks/whatsapp/{botID}.
//
// The signature is verified over the raw body exactly as received. After
// authentication the provider always gets a generic acknowledgment; its
// own retry semantics cover transient processing failures, and redelivery
// is made safe by provider-message-id dedup.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if !signing.VerifyInboundWebhook(h.secret, rawBody, r.Header.Get(signing.WebhookSignatureHeader)) {
		metrics.WebhookInboundTotal.WithLabelValues(string(model.ChannelWhatsApp), "signature_invalid").Inc()
		h.correlator.RecordEvent(r.Context(), model.EventSignatureInvalid, model.LevelWarning,
			"webhook", "invalid signature on whatsapp webhook", "")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	botID := chi.URLParam(r, "botID")
	bot, err := h.store.GetBot(r.Context(), botID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	messages, err := channel.ParseWhatsAppWebhook(rawBody)
	if err != nil {
		metrics.WebhookInboundTotal.WithLabelValues(string(model.ChannelWhatsApp), "malformed").Inc()
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	for _, in := range messages {
		res, err := h.inbound.Handle(r.Context(), bot, model.ChannelWhatsApp, in)
		if err != nil {
			h.logger.Error("inbound webhook processing failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "processing failed")
			return
		}
		outcome := "ok"
		if res.Duplicate {
			outcome = "duplicate"
		}
		metrics.WebhookInboundTotal.WithLabelValues(string(model.ChannelWhatsApp), outcome).Inc()
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
