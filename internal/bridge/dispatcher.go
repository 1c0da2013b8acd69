// Package bridge dispatches inbound messages to the external workflow
// engine and applies the engine's asynchronous callbacks.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/convohub/messaging-platform/internal/channel"
	"github.com/convohub/messaging-platform/internal/incident"
	"github.com/convohub/messaging-platform/internal/model"
	"github.com/convohub/messaging-platform/internal/signing"
	"github.com/convohub/messaging-platform/internal/store"
	"github.com/convohub/messaging-platform/pkg/logger"
	"github.com/convohub/messaging-platform/pkg/metrics"
)

var (
	// ErrAlreadyRunning is returned when the conversation has an in-flight
	// run. Dispatch is serialized per conversation to preserve response
	// ordering.
	ErrAlreadyRunning = errors.New("bridge: dispatch already running for conversation")
	// ErrAIPaused is returned when dispatch is requested while an operator
	// holds the conversation.
	ErrAIPaused = errors.New("bridge: conversation is AI-paused")
	// ErrAlreadyCompleted marks a duplicate callback for a completed run.
	// Callers treat it as success.
	ErrAlreadyCompleted = errors.New("bridge: run already completed")
	// ErrUnknownRun is returned for callbacks referencing no known run.
	ErrUnknownRun = errors.New("bridge: unknown run")
	// ErrTenantMismatch is returned when a callback's transport tenant does
	// not match the token's tenant. Always a security-relevant event.
	ErrTenantMismatch = errors.New("bridge: tenant mismatch")
)

// Config holds bridge dispatch policy.
type Config struct {
	Endpoint         string
	Secret           string
	Timeout          time.Duration
	MaxRetries       int
	BackoffBase      time.Duration
	CallbackURL      string
	CallbackTokenTTL time.Duration
	SweepHorizon     time.Duration
}

// Dispatcher signs and sends automation requests and tracks their runs.
type Dispatcher struct {
	cfg        Config
	store      *store.Store
	tokens     *signing.TokenIssuer
	senders    *channel.Registry
	correlator *incident.Correlator
	client     *http.Client
	tracer     trace.Tracer
	logger     *logger.Logger
}

// New creates a dispatcher.
func New(cfg Config, st *store.Store, tokens *signing.TokenIssuer, senders *channel.Registry, corr *incident.Correlator, log *logger.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.SweepHorizon <= 0 {
		cfg.SweepHorizon = 5 * time.Minute
	}
	return &Dispatcher{
		cfg:        cfg,
		store:      st,
		tokens:     tokens,
		senders:    senders,
		correlator: corr,
		client:     &http.Client{Timeout: cfg.Timeout},
		tracer:     otel.Tracer("bridge"),
		logger:     log,
	}
}

// dispatchPayload is the wire format posted to the workflow engine.
type dispatchPayload struct {
	Event     string `json:"event"`
	RunID     string `json:"runId"`
	TenantID  string `json:"tenantId"`
	Channel   string `json:"channel"`
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
	Callback  struct {
		URL   string `json:"url"`
		Token string `json:"token"`
	} `json:"callback"`
}

// Dispatch builds a signed, correlated request for an inbound message and
// sends it to the workflow engine. Acceptance (2xx) leaves the run pending;
// completion arrives later through HandleCallback. Network failures are
// retried with exponential backoff; a non-2xx response fails the run
// immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, conv *model.Conversation, bot *model.Bot, msg *model.Message) (*model.AutomationRun, error) {
	// Re-checked here, immediately before any network send, so an AI reply
	// cannot race a takeover that happened after the inbound webhook was
	// accepted.
	if conv.IsAIPaused {
		return nil, ErrAIPaused
	}

	run := &model.AutomationRun{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		WorkflowID:     bot.WorkflowID,
	}
	if err := d.store.CreateRun(ctx, run); err != nil {
		if errors.Is(err, store.ErrPendingRunExists) {
			return nil, ErrAlreadyRunning
		}
		return nil, err
	}

	log := d.logger.WithRun(run.TenantID, run.ID, run.CorrelationID)

	token, err := d.tokens.IssueCallbackToken(conv.TenantID, run.ID, d.cfg.CallbackTokenTTL)
	if err != nil {
		_ = d.store.CompleteRun(ctx, run.ID, model.RunFailed, "callback token issue failed")
		return nil, fmt.Errorf("issue callback token: %w", err)
	}

	payload := dispatchPayload{
		Event:     "message.received",
		RunID:     run.ID,
		TenantID:  conv.TenantID,
		Channel:   string(conv.Channel),
		From:      conv.ExternalUserID,
		To:        bot.ID,
		Text:      msg.Content,
		MessageID: msg.ID,
		Timestamp: msg.CreatedAt.Unix(),
	}
	payload.Callback.URL = d.cfg.CallbackURL
	payload.Callback.Token = token

	body, err := json.Marshal(payload)
	if err != nil {
		_ = d.store.CompleteRun(ctx, run.ID, model.RunFailed, "payload marshal failed")
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "bridge.dispatch",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("conversation.id", conv.ID),
		),
	)
	defer span.End()

	start := time.Now()
	status, err := d.send(ctx, run, body, log)
	metrics.RecordDispatch(run.TenantID, string(status), time.Since(start).Seconds())
	run.Status = status
	return run, err
}

// send runs the bounded retry loop. It returns the run status reached by
// the dispatch attempt; pending means the engine accepted the request.
func (d *Dispatcher) send(ctx context.Context, run *model.AutomationRun, body []byte, log *logger.Logger) (model.RunStatus, error) {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(d.cfg.BackoffBase << (attempt - 1)):
			case <-ctx.Done():
				lastErr = ctx.Err()
			}
			if ctx.Err() != nil {
				break
			}
		}

		// Persist the attempt before the wire call so a crash mid-retry
		// can be resumed from the run record.
		if err := d.store.IncrementRunAttempts(ctx, run.ID); err != nil {
			log.Error("failed to record dispatch attempt", zap.Error(err))
		}
		run.Attempts++
		metrics.DispatchAttemptsTotal.WithLabelValues(run.TenantID).Inc()

		code, err := d.post(ctx, body)
		if err != nil {
			lastErr = err
			log.Warn("bridge dispatch attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		if code >= 200 && code < 300 {
			log.Info("bridge dispatch accepted", zap.Int("attempt", attempt+1))
			return model.RunPending, nil
		}

		// A definitive rejection from the engine is permanent; retrying
		// would repeat the same answer.
		reason := "engine rejected dispatch: status " + strconv.Itoa(code)
		if err := d.store.CompleteRun(ctx, run.ID, model.RunFailed, reason); err != nil {
			log.Error("failed to mark run failed", zap.Error(err))
		}
		d.correlator.RecordEvent(ctx, model.EventBridgeRejected, model.LevelError, "bridge", reason, run.TenantID)
		return model.RunFailed, fmt.Errorf("bridge: %s", reason)
	}

	reason := "dispatch retries exhausted"
	if lastErr != nil {
		reason = "dispatch retries exhausted: " + lastErr.Error()
	}
	if err := d.store.CompleteRun(ctx, run.ID, model.RunTimedOut, reason); err != nil {
		log.Error("failed to mark run timed out", zap.Error(err))
	}
	d.correlator.RecordEvent(ctx, model.EventBridgeTimeout, model.LevelError, "bridge", reason, run.TenantID)
	return model.RunTimedOut, fmt.Errorf("bridge: %s", reason)
}

func (d *Dispatcher) post(ctx context.Context, body []byte) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}

	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signing.TimestampHeader, strconv.FormatInt(ts, 10))
	req.Header.Set(signing.SignatureHeader, signing.SignOutbound(d.cfg.Secret, ts, body))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
