package bridge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/convohub/messaging-platform/internal/model"
	"github.com/convohub/messaging-platform/pkg/metrics"
)

// SweepTimeouts marks pending runs older than the sweep horizon as timed
// out. The workflow engine never confirmed completion for these; a late
// callback is still accepted per HandleCallback.
func (d *Dispatcher) SweepTimeouts(ctx context.Context) {
	horizon := time.Now().Add(-d.cfg.SweepHorizon)
	swept, err := d.store.SweepPendingRuns(ctx, horizon)
	if err != nil {
		d.logger.Error("run sweep failed", zap.Error(err))
		return
	}
	for _, run := range swept {
		metrics.RunsCompletedTotal.WithLabelValues(run.TenantID, string(model.RunTimedOut)).Inc()
		d.correlator.RecordEvent(ctx, model.EventBridgeTimeout, model.LevelError,
			"sweep", "run "+run.ID+" had no callback before the sweep horizon", run.TenantID)
	}
	if len(swept) > 0 {
		d.logger.Warn("swept stale automation runs", zap.Int("count", len(swept)))
	}
}
