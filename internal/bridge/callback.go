package bridge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/convohub/messaging-platform/internal/model"
	"github.com/convohub/messaging-platform/internal/signing"
	"github.com/convohub/messaging-platform/internal/store"
	"github.com/convohub/messaging-platform/pkg/metrics"
)

// CallbackPayload is the reply posted back by the workflow engine.
type CallbackPayload struct {
	TenantID string `json:"tenantId"`
	To       string `json:"to"`
	Text     string `json:"text"`
	Meta     struct {
		RunID string `json:"runId"`
	} `json:"meta"`
}

// HandleCallback verifies and applies a workflow engine callback.
//
// The token is the sole authority for tenant and run identity; the tenant
// header and payload tenant arrive over untrusted transport and must match
// it exactly. Duplicate callbacks for a completed run are a no-op success.
// A callback for a run the sweep already timed out is accepted late: the
// reply is still applied, the run keeps its terminal status.
func (d *Dispatcher) HandleCallback(ctx context.Context, token, tenantIDHeader string, payload *CallbackPayload) error {
	tenantID, runID, err := d.tokens.VerifyCallbackToken(token)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("auth_error").Inc()
		d.correlator.RecordEvent(ctx, model.EventCallbackTokenInvalid, model.LevelWarning,
			"callback", "callback token rejected", "")
		return signing.ErrInvalidToken
	}

	if tenantIDHeader != tenantID || payload.TenantID != tenantID {
		metrics.CallbacksTotal.WithLabelValues("tenant_mismatch").Inc()
		d.correlator.RecordEvent(ctx, model.EventCallbackTenantMismatch, model.LevelError,
			"callback", fmt.Sprintf("token tenant %s, transport tenant %s", tenantID, tenantIDHeader), tenantID)
		return ErrTenantMismatch
	}

	run, err := d.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.CallbacksTotal.WithLabelValues("unknown_run").Inc()
			d.correlator.RecordEvent(ctx, model.EventUnknownRun, model.LevelWarning,
				"callback", "callback for unknown run "+runID, tenantID)
			return ErrUnknownRun
		}
		return err
	}
	if run.TenantID != tenantID {
		metrics.CallbacksTotal.WithLabelValues("tenant_mismatch").Inc()
		d.correlator.RecordEvent(ctx, model.EventCallbackTenantMismatch, model.LevelError,
			"callback", "token tenant does not own run "+runID, tenantID)
		return ErrTenantMismatch
	}

	log := d.logger.WithRun(tenantID, run.ID, run.CorrelationID)

	if run.Terminal() {
		switch run.Status {
		case model.RunTimedOut:
			// The workflow finished after the sweep gave up on it. Apply
			// the reply anyway; the run keeps its terminal status.
			metrics.CallbacksTotal.WithLabelValues("late").Inc()
			d.correlator.RecordEvent(ctx, model.EventLateCallback, model.LevelInfo,
				"callback", "reply arrived after run timed out", tenantID)
			return d.applyReply(ctx, run, payload, false)
		default:
			metrics.CallbacksTotal.WithLabelValues("duplicate").Inc()
			log.Info("duplicate callback ignored", zap.String("status", string(run.Status)))
			return nil
		}
	}

	return d.applyReply(ctx, run, payload, true)
}

// applyReply persists and, unless the operator holds the conversation,
// delivers the engine's reply. completeRun is false for late callbacks
// whose run already reached a terminal status.
func (d *Dispatcher) applyReply(ctx context.Context, run *model.AutomationRun, payload *CallbackPayload, completeRun bool) error {
	conv, err := d.store.GetConversation(ctx, run.ConversationID)
	if err != nil {
		return err
	}

	// Operator authority wins: a takeover between dispatch and callback
	// suppresses delivery. The reply is kept as an audit-only message.
	if conv.IsAIPaused {
		msg := &model.Message{
			ConversationID: conv.ID,
			TenantID:       conv.TenantID,
			Channel:        conv.Channel,
			Sender:         model.SenderBot,
			Content:        payload.Text,
			Suppressed:     true,
		}
		if _, _, err := d.store.CreateMessage(ctx, msg); err != nil {
			return err
		}
		metrics.CallbacksTotal.WithLabelValues("suppressed").Inc()
		metrics.SuppressedRepliesTotal.Inc()
		d.correlator.RecordEvent(ctx, model.EventReplySuppressed, model.LevelInfo,
			"callback", "AI reply suppressed: operator holds conversation "+conv.ID, conv.TenantID)
		if completeRun {
			if err := d.store.CompleteRun(ctx, run.ID, model.RunSucceeded, "reply suppressed by takeover"); err != nil && !errors.Is(err, store.ErrRunNotPending) {
				return err
			}
			metrics.RunsCompletedTotal.WithLabelValues(run.TenantID, string(model.RunSucceeded)).Inc()
		}
		return nil
	}

	var providerID *string
	if sender := d.senders.For(conv.Channel); sender != nil {
		id, sendErr := sender.Send(ctx, conv.TenantID, conv.ExternalUserID, payload.Text)
		if sendErr != nil {
			metrics.DeliveriesTotal.WithLabelValues(string(conv.Channel), "error").Inc()
			metrics.CallbacksTotal.WithLabelValues("delivery_failed").Inc()
			d.correlator.RecordEvent(ctx, model.EventDeliveryFailed, model.LevelError,
				"callback", "workflow succeeded, delivery failed: "+sendErr.Error(), conv.TenantID)
			if completeRun {
				if err := d.store.CompleteRun(ctx, run.ID, model.RunFailed, "delivery failed: "+sendErr.Error()); err != nil && !errors.Is(err, store.ErrRunNotPending) {
					return err
				}
				metrics.RunsCompletedTotal.WithLabelValues(run.TenantID, string(model.RunFailed)).Inc()
			}
			return fmt.Errorf("bridge: channel delivery: %w", sendErr)
		}
		metrics.DeliveriesTotal.WithLabelValues(string(conv.Channel), "ok").Inc()
		if id != "" {
			providerID = &id
		}
	}

	msg := &model.Message{
		ConversationID:    conv.ID,
		TenantID:          conv.TenantID,
		Channel:           conv.Channel,
		ProviderMessageID: providerID,
		Sender:            model.SenderBot,
		Content:           payload.Text,
	}
	if _, _, err := d.store.CreateMessage(ctx, msg); err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues(conv.TenantID, string(model.SenderBot)).Inc()

	if completeRun {
		if err := d.store.CompleteRun(ctx, run.ID, model.RunSucceeded, ""); err != nil && !errors.Is(err, store.ErrRunNotPending) {
			return err
		}
		metrics.RunsCompletedTotal.WithLabelValues(run.TenantID, string(model.RunSucceeded)).Inc()
	}
	metrics.CallbacksTotal.WithLabelValues("ok").Inc()
	return nil
}
