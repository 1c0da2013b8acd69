package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/convohub/messaging-platform/internal/bridge"
	"github.com/convohub/messaging-platform/internal/channel"
	"github.com/convohub/messaging-platform/internal/incident"
	"github.com/convohub/messaging-platform/internal/llm"
	"github.com/convohub/messaging-platform/internal/model"
	"github.com/convohub/messaging-platform/pkg/logger"
	"github.com/convohub/messaging-platform/pkg/metrics"
)

// InboundService routes a normalized inbound message through conversation
// resolution and on to the automation bridge or the built-in responder.
type InboundService struct {
	conversations *ConversationService
	dispatcher    *bridge.Dispatcher
	responder     *llm.Responder
	senders       *channel.Registry
	correlator    *incident.Correlator
	logger        *logger.Logger
}

// NewInboundService creates an inbound service. dispatcher and responder
// may each be nil when the corresponding path is not configured.
func NewInboundService(convs *ConversationService, dispatcher *bridge.Dispatcher, responder *llm.Responder, senders *channel.Registry, corr *incident.Correlator, log *logger.Logger) *InboundService {
	return &InboundService{
		conversations: convs,
		dispatcher:    dispatcher,
		responder:     responder,
		senders:       senders,
		correlator:    corr,
		logger:        log,
	}
}

// InboundResult reports what the inbound flow did with a message.
type InboundResult struct {
	Conversation *model.Conversation
	Message      *model.Message
	Duplicate    bool
	Run          *model.AutomationRun
	Reply        *model.Message
}

// Handle resolves the conversation, records the message, and triggers a
// response path. Redelivered provider messages short-circuit as duplicates.
// Automation failures never propagate to the channel provider; they are
// recorded as system events and the provider receives its normal ack.
func (s *InboundService) Handle(ctx context.Context, bot *model.Bot, ch model.Channel, in channel.InboundMessage) (*InboundResult, error) {
	conv, err := s.conversations.Resolve(ctx, bot.TenantID, bot.ID, ch, in.ExternalUserID)
	if err != nil {
		return nil, err
	}

	ts := time.Now()
	if in.TimestampUnix > 0 {
		ts = time.Unix(in.TimestampUnix, 0)
	}
	msg, created, err := s.conversations.RecordInboundMessage(ctx, conv, in.Text, in.ProviderMessageID, ts)
	if err != nil {
		return nil, err
	}
	result := &InboundResult{Conversation: conv, Message: msg}
	if !created {
		result.Duplicate = true
		return result, nil
	}

	// An operator holds the conversation; no automated response path runs.
	if conv.IsAIPaused {
		return result, nil
	}

	if err := s.conversations.MarkAIActive(ctx, conv); err != nil {
		return nil, err
	}

	if bot.AutomationEnabled && s.dispatcher != nil {
		run, err := s.dispatcher.Dispatch(ctx, conv, bot, msg)
		switch {
		case err == nil:
			result.Run = run
		case errors.Is(err, bridge.ErrAlreadyRunning):
			// A run is already in flight; its callback answers for both
			// messages. Ordering is preserved by the one-pending invariant.
			s.logger.Debug("dispatch skipped: run in flight",
				zap.String("conversation_id", conv.ID))
		case errors.Is(err, bridge.ErrAIPaused):
			// Takeover raced the dispatch; the operator answers.
		default:
			// Terminal dispatch failure. Events and run status were
			// recorded by the bridge; the inbound caller still gets its
			// generic ack.
			result.Run = run
		}
		return result, nil
	}

	reply := s.respond(ctx, bot, conv)
	result.Reply = reply
	return result, nil
}

// respond runs the built-in responder and delivers its reply. Best-effort:
// a failed response is recorded as a system event and the message flow
// continues without a reply.
func (s *InboundService) respond(ctx context.Context, bot *model.Bot, conv *model.Conversation) *model.Message {
	if s.responder == nil {
		return nil
	}

	history, err := s.conversations.Store().ListRecentMessages(ctx, conv.ID, 20)
	if err != nil {
		s.logger.Error("failed to load responder history", zap.Error(err))
		return nil
	}

	text, err := s.responder.Reply(ctx, bot, history)
	if err != nil {
		s.correlator.RecordEvent(ctx, model.EventResponderFailed, model.LevelError,
			"responder", err.Error(), conv.TenantID)
		return nil
	}

	var providerID *string
	if sender := s.senders.For(conv.Channel); sender != nil {
		id, sendErr := sender.Send(ctx, conv.TenantID, conv.ExternalUserID, text)
		if sendErr != nil {
			metrics.DeliveriesTotal.WithLabelValues(string(conv.Channel), "error").Inc()
			s.correlator.RecordEvent(ctx, model.EventDeliveryFailed, model.LevelError,
				"responder", sendErr.Error(), conv.TenantID)
			return nil
		}
		metrics.DeliveriesTotal.WithLabelValues(string(conv.Channel), "ok").Inc()
		if id != "" {
			providerID = &id
		}
	}

	reply := &model.Message{
		ConversationID:    conv.ID,
		TenantID:          conv.TenantID,
		Channel:           conv.Channel,
		ProviderMessageID: providerID,
		Sender:            model.SenderBot,
		Content:           text,
	}
	if _, _, err := s.conversations.Store().CreateMessage(ctx, reply); err != nil {
		s.logger.Error("failed to persist responder reply", zap.Error(err))
		return nil
	}
	metrics.MessagesTotal.WithLabelValues(conv.TenantID, string(model.SenderBot)).Inc()
	return reply
}
