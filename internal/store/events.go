package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/convohub/messaging-platform/internal/model"
)

// AppendEvent persists a system event.
func (s *Store) AppendEvent(ctx context.Context, ev *model.SystemEvent) error {
	return s.db.WithContext(ctx).Create(ev).Error
}

// CountEvents counts events with the same code and tenant recorded since
// the window start.
func (s *Store) CountEvents(ctx context.Context, code, tenantID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.SystemEvent{}).
		Where("code = ? AND tenant_id = ? AND created_at >= ?", code, tenantID, since).
		Count(&n).Error
	return n, err
}

// FindOpenIncident returns the unresolved incident for a code and tenant,
// or ErrNotFound.
func (s *Store) FindOpenIncident(ctx context.Context, code, tenantID string) (*model.Incident, error) {
	var inc model.Incident
	err := s.db.WithContext(ctx).
		Where("code = ? AND tenant_id = ? AND status <> ?", code, tenantID, model.IncidentResolved).
		First(&inc).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &inc, nil
}

// CreateIncident persists a new incident.
func (s *Store) CreateIncident(ctx context.Context, inc *model.Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.Must(uuid.NewV7()).String()
	}
	return s.db.WithContext(ctx).Create(inc).Error
}

// TouchIncident absorbs one more event into an existing incident.
func (s *Store) TouchIncident(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&model.Incident{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"event_count": gorm.Expr("event_count + 1"),
			"updated_at":  time.Now(),
		}).Error
}
