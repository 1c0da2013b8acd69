// Package incident converts operational failures into system events and
// escalates repeated events into incidents.
package incident

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/convohub/messaging-platform/internal/model"
	"github.com/convohub/messaging-platform/internal/store"
	"github.com/convohub/messaging-platform/pkg/logger"
	"github.com/convohub/messaging-platform/pkg/metrics"
)

// Mirror forwards events to an external bus. Implementations must be
// best-effort; errors are logged and dropped.
type Mirror interface {
	PublishEvent(ctx context.Context, ev *model.SystemEvent) error
}

// Correlator records system events and opens incidents when an event code
// repeats past the threshold within the rolling window.
type Correlator struct {
	store     *store.Store
	mirror    Mirror
	logger    *logger.Logger
	window    time.Duration
	threshold int
}

// New creates a correlator. mirror may be nil.
func New(st *store.Store, mirror Mirror, log *logger.Logger, window time.Duration, threshold int) *Correlator {
	if window <= 0 {
		window = 10 * time.Minute
	}
	if threshold <= 0 {
		threshold = 5
	}
	return &Correlator{
		store:     st,
		mirror:    mirror,
		logger:    log,
		window:    window,
		threshold: threshold,
	}
}

// RecordEvent appends a system event and runs escalation. It never fails
// the caller: observability must not break the operation that triggered it.
func (c *Correlator) RecordEvent(ctx context.Context, code string, level model.EventLevel, source, message, tenantID string) {
	ev := &model.SystemEvent{
		Code:     code,
		Level:    level,
		Source:   source,
		Message:  message,
		TenantID: tenantID,
	}
	if err := c.store.AppendEvent(ctx, ev); err != nil {
		c.logger.Error("failed to record system event",
			zap.String("code", code),
			zap.Error(err),
		)
		return
	}
	metrics.SystemEventsTotal.WithLabelValues(code, string(level)).Inc()

	if c.mirror != nil {
		if err := c.mirror.PublishEvent(ctx, ev); err != nil {
			c.logger.Warn("failed to mirror system event",
				zap.String("code", code),
				zap.Error(err),
			)
		}
	}

	c.maybeEscalate(ctx, code, level, tenantID)
}

// maybeEscalate counts same-code events within the window and opens or
// touches an incident past the threshold. One unresolved incident exists
// per (code, tenant) at a time.
func (c *Correlator) maybeEscalate(ctx context.Context, code string, level model.EventLevel, tenantID string) {
	since := time.Now().Add(-c.window)
	count, err := c.store.CountEvents(ctx, code, tenantID, since)
	if err != nil {
		c.logger.Error("failed to count events for escalation", zap.Error(err))
		return
	}
	if count < int64(c.threshold) {
		return
	}

	existing, err := c.store.FindOpenIncident(ctx, code, tenantID)
	if err == nil {
		if touchErr := c.store.TouchIncident(ctx, existing.ID); touchErr != nil {
			c.logger.Error("failed to update incident", zap.Error(touchErr))
		}
		return
	}
	if err != store.ErrNotFound {
		c.logger.Error("failed to look up open incident", zap.Error(err))
		return
	}

	severity := level
	if severity == model.LevelInfo {
		severity = model.LevelWarning
	}
	inc := &model.Incident{
		Title:      fmt.Sprintf("repeated %s events (%d in %s)", code, count, c.window),
		Severity:   severity,
		Status:     model.IncidentOpen,
		Code:       code,
		TenantID:   tenantID,
		EventCount: int(count),
		RootCause:  fmt.Sprintf("event code %s exceeded threshold %d within %s", code, c.threshold, c.window),
	}
	if err := c.store.CreateIncident(ctx, inc); err != nil {
		c.logger.Error("failed to create incident", zap.Error(err))
		return
	}
	metrics.IncidentsOpenedTotal.WithLabelValues(code).Inc()
	c.logger.Warn("incident opened",
		zap.String("incident_id", inc.ID),
		zap.String("code", code),
		zap.String("tenant_id", tenantID),
	)
}
