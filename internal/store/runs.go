package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/convohub/messaging-platform/internal/model"
)

// CreateRun persists a new pending automation run, enforcing the
// one-in-flight invariant per conversation inside a transaction.
func (s *Store) CreateRun(ctx context.Context, run *model.AutomationRun) error {
	if run.ID == "" {
		run.ID = uuid.Must(uuid.NewV7()).String()
	}
	if run.CorrelationID == "" {
		run.CorrelationID = uuid.Must(uuid.NewV7()).String()
	}
	run.Status = model.RunPending

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		err := tx.Model(&model.AutomationRun{}).
			Where("conversation_id = ? AND status = ?", run.ConversationID, model.RunPending).
			Count(&pending).Error
		if err != nil {
			return err
		}
		if pending > 0 {
			return ErrPendingRunExists
		}
		return tx.Create(run).Error
	})
}

// GetRun fetches a run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*model.AutomationRun, error) {
	var run model.AutomationRun
	if err := s.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &run, nil
}

// IncrementRunAttempts bumps the persisted attempt counter. The counter
// lives on the run row so a crash mid-retry remains inspectable.
func (s *Store) IncrementRunAttempts(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&model.AutomationRun{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

// CompleteRun transitions a run out of pending exactly once. Completing a
// run that already reached a terminal status returns ErrRunNotPending;
// completing an unknown run returns ErrNotFound.
func (s *Store) CompleteRun(ctx context.Context, id string, status model.RunStatus, lastError string) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&model.AutomationRun{}).
		Where("id = ? AND status = ?", id, model.RunPending).
		Updates(map[string]interface{}{
			"status":       status,
			"last_error":   lastError,
			"completed_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetRun(ctx, id); err != nil {
			return err
		}
		return ErrRunNotPending
	}
	return nil
}

// SweepPendingRuns marks pending runs created before the horizon as timed
// out and returns the affected runs.
func (s *Store) SweepPendingRuns(ctx context.Context, olderThan time.Time) ([]model.AutomationRun, error) {
	var stale []model.AutomationRun
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.RunPending, olderThan).
		Find(&stale).Error
	if err != nil {
		return nil, err
	}
	for i := range stale {
		if err := s.CompleteRun(ctx, stale[i].ID, model.RunTimedOut, "no callback before sweep horizon"); err != nil {
			// A callback may have completed the run between the read and
			// the update; skip it.
			continue
		}
		stale[i].Status = model.RunTimedOut
	}
	out := stale[:0]
	for _, r := range stale {
		if r.Status == model.RunTimedOut {
			out = append(out, r)
		}
	}
	return out, nil
}
