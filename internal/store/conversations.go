package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/convohub/messaging-platform/internal/model"
)

// GetBot fetches a bot by id.
func (s *Store) GetBot(ctx context.Context, id string) (*model.Bot, error) {
	var bot model.Bot
	if err := s.db.WithContext(ctx).First(&bot, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &bot, nil
}

// GetBotByKey fetches an active bot by its widget public key.
func (s *Store) GetBotByKey(ctx context.Context, publicKey string) (*model.Bot, error) {
	var bot model.Bot
	err := s.db.WithContext(ctx).First(&bot, "public_key = ? AND active = ?", publicKey, true).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &bot, nil
}

// CreateBot persists a bot.
func (s *Store) CreateBot(ctx context.Context, bot *model.Bot) error {
	if bot.ID == "" {
		bot.ID = uuid.Must(uuid.NewV7()).String()
	}
	return s.db.WithContext(ctx).Create(bot).Error
}

// ResolveConversation is an idempotent get-or-create keyed by
// (tenant, bot, channel, external user). Concurrent first contact for the
// same key is resolved by the unique index on the tuple: a losing insert
// falls back to reading the winner's row.
func (s *Store) ResolveConversation(ctx context.Context, tenantID, botID string, channel model.Channel, externalUserID string) (*model.Conversation, bool, error) {
	find := func() (*model.Conversation, error) {
		var conv model.Conversation
		err := s.db.WithContext(ctx).
			First(&conv, "tenant_id = ? AND bot_id = ? AND channel = ? AND external_user_id = ?",
				tenantID, botID, channel, externalUserID).Error
		if err != nil {
			return nil, err
		}
		return &conv, nil
	}

	if conv, err := find(); err == nil {
		return conv, false, nil
	} else if err != gorm.ErrRecordNotFound {
		return nil, false, err
	}

	conv := &model.Conversation{
		ID:             uuid.Must(uuid.NewV7()).String(),
		TenantID:       tenantID,
		BotID:          botID,
		Channel:        channel,
		ExternalUserID: externalUserID,
		Status:         model.StatusWaiting,
		LastActor:      "system",
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		// Lost the race to a concurrent resolver; the row must exist now.
		if existing, findErr := find(); findErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return conv, true, nil
}

// GetConversation fetches a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &conv, nil
}

// SetConversationState updates the lifecycle status and AI-pause flag,
// recording the actor for audit.
func (s *Store) SetConversationState(ctx context.Context, id string, status model.ConversationStatus, paused bool, actor string) error {
	res := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"is_ai_paused": paused,
			"last_actor":   actor,
			"updated_at":   time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
