// Package service provides business logic for the messaging platform.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/convohub/messaging-platform/internal/channel"
	"github.com/convohub/messaging-platform/internal/model"
	"github.com/convohub/messaging-platform/internal/store"
	"github.com/convohub/messaging-platform/pkg/logger"
	"github.com/convohub/messaging-platform/pkg/metrics"
)

var (
	// ErrNotInTakeover is returned when an operator sends without holding
	// the conversation.
	ErrNotInTakeover = errors.New("service: conversation is not in takeover")
)

// ConversationService owns the conversation lifecycle state machine.
type ConversationService struct {
	store   *store.Store
	senders *channel.Registry
	logger  *logger.Logger
}

// NewConversationService creates a conversation service.
func NewConversationService(st *store.Store, senders *channel.Registry, log *logger.Logger) *ConversationService {
	return &ConversationService{store: st, senders: senders, logger: log}
}

// Store exposes the underlying store for collaborating services.
func (s *ConversationService) Store() *store.Store {
	return s.store
}

// Resolve returns the conversation for the channel-scoped user, creating it
// on first contact. Safe under concurrent duplicate webhook delivery.
func (s *ConversationService) Resolve(ctx context.Context, tenantID, botID string, ch model.Channel, externalUserID string) (*model.Conversation, error) {
	conv, created, err := s.store.ResolveConversation(ctx, tenantID, botID, ch, externalUserID)
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.String("tenant_id", tenantID),
			zap.String("channel", string(ch)),
		)
	}
	return conv, nil
}

// RecordInboundMessage persists an inbound user message and re-opens a
// closed conversation as waiting. Redelivered provider messages return the
// original row with created=false.
func (s *ConversationService) RecordInboundMessage(ctx context.Context, conv *model.Conversation, content, providerMessageID string, ts time.Time) (*model.Message, bool, error) {
	msg := &model.Message{
		ConversationID: conv.ID,
		TenantID:       conv.TenantID,
		Channel:        conv.Channel,
		Sender:         model.SenderUser,
		Content:        content,
		CreatedAt:      ts,
	}
	if providerMessageID != "" {
		msg.ProviderMessageID = &providerMessageID
	}

	created, result, err := s.store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return result, false, nil
	}
	metrics.MessagesTotal.WithLabelValues(conv.TenantID, string(model.SenderUser)).Inc()

	if conv.Status == model.StatusClosed {
		if err := s.store.SetConversationState(ctx, conv.ID, model.StatusWaiting, conv.IsAIPaused, "system"); err != nil {
			return nil, false, err
		}
		conv.Status = model.StatusWaiting
	}
	return result, true, nil
}

// MarkAIActive transitions a waiting conversation to ai_active once a
// response path is determined. Takeover and pause are left untouched.
func (s *ConversationService) MarkAIActive(ctx context.Context, conv *model.Conversation) error {
	if conv.Status != model.StatusWaiting || conv.IsAIPaused {
		return nil
	}
	if err := s.store.SetConversationState(ctx, conv.ID, model.StatusAIActive, false, "system"); err != nil {
		return err
	}
	conv.Status = model.StatusAIActive
	return nil
}

// Takeover pauses the AI and hands the conversation to a human operator.
// Taking over an already-taken-over conversation is a no-op success.
func (s *ConversationService) Takeover(ctx context.Context, conversationID, actor string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == model.StatusHumanTakeover && conv.IsAIPaused {
		return conv, nil
	}
	if err := s.store.SetConversationState(ctx, conversationID, model.StatusHumanTakeover, true, actor); err != nil {
		return nil, err
	}
	conv.Status = model.StatusHumanTakeover
	conv.IsAIPaused = true
	conv.LastActor = actor
	s.logger.Info("operator takeover",
		zap.String("conversation_id", conversationID),
		zap.String("actor", actor),
	)
	return conv, nil
}

// Release returns the conversation to the AI. Idempotent: releasing a
// conversation not in takeover still leaves it ai_active and unpaused.
func (s *ConversationService) Release(ctx context.Context, conversationID, actor string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetConversationState(ctx, conversationID, model.StatusAIActive, false, actor); err != nil {
		return nil, err
	}
	conv.Status = model.StatusAIActive
	conv.IsAIPaused = false
	conv.LastActor = actor
	s.logger.Info("operator release",
		zap.String("conversation_id", conversationID),
		zap.String("actor", actor),
	)
	return conv, nil
}

// SendAsOperator delivers an operator message to the customer. Only valid
// while the AI is paused.
func (s *ConversationService) SendAsOperator(ctx context.Context, conversationID, actor, content string) (*model.Message, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsAIPaused {
		return nil, ErrNotInTakeover
	}

	var providerID *string
	if sender := s.senders.For(conv.Channel); sender != nil {
		id, err := sender.Send(ctx, conv.TenantID, conv.ExternalUserID, content)
		if err != nil {
			metrics.DeliveriesTotal.WithLabelValues(string(conv.Channel), "error").Inc()
			return nil, err
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
		Sender:            model.SenderOperator,
		Content:           content,
	}
	if _, _, err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesTotal.WithLabelValues(conv.TenantID, string(model.SenderOperator)).Inc()
	return msg, nil
}

// ListMessagesSince returns visible messages after the cursor together with
// the current conversation state.
func (s *ConversationService) ListMessagesSince(ctx context.Context, conversationID string, since time.Time, limit int) ([]model.Message, *model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.ListMessagesSince(ctx, conversationID, since, limit)
	if err != nil {
		return nil, nil, err
	}
	return msgs, conv, nil
}
