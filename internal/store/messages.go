package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/convohub/messaging-platform/internal/model"
)

// CreateMessage persists a message. When the message carries a provider
// message id that was already recorded for the tenant and channel (a
// redelivered webhook event), the existing row is returned and created is
// false.
func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) (created bool, result *model.Message, err error) {
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		if msg.ProviderMessageID != nil {
			var existing model.Message
			findErr := s.db.WithContext(ctx).
				First(&existing, "tenant_id = ? AND channel = ? AND provider_message_id = ?",
					msg.TenantID, msg.Channel, *msg.ProviderMessageID).Error
			if findErr == nil {
				return false, &existing, nil
			}
		}
		return false, nil, err
	}
	return true, msg, nil
}

// ListMessagesSince returns messages for a conversation created strictly
// after the cursor, oldest first, excluding suppressed entries. A zero
// cursor returns the full visible history.
func (s *Store) ListMessagesSince(ctx context.Context, conversationID string, since time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	var msgs []model.Message
	q := s.db.WithContext(ctx).
		Where("conversation_id = ? AND suppressed = ?", conversationID, false).
		Order("created_at ASC, id ASC").
		Limit(limit)
	if !since.IsZero() {
		q = q.Where("created_at > ?", since)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListRecentMessages returns the newest limit messages for a conversation,
// oldest first. Used to build responder context.
func (s *Store) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND suppressed = ?", conversationID, false).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
