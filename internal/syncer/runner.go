package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/resonate-home/resonate/internal/services"
	"github.com/resonate-home/resonate/pkg/models"
)

// Discoverer produces the device set for one sync pass.
type Discoverer interface {
	Discover(ctx context.Context, timeout time.Duration) ([]models.DiscoveredDevice, error)
}

// Runner drives periodic discover-then-sync passes and records each pass
// in the sync-run history.
type Runner struct {
	discoverer Discoverer
	syncer     *Syncer
	runs       services.SyncRunRepository
	logger     *zap.Logger
	interval   time.Duration
	timeout    time.Duration
}

// NewRunner creates a Runner. interval is the pause between passes;
// timeout is the multicast collection window per pass.
func NewRunner(discoverer Discoverer, syncer *Syncer, runs services.SyncRunRepository, logger *zap.Logger, interval, timeout time.Duration) *Runner {
	return &Runner{
		discoverer: discoverer,
		syncer:     syncer,
		runs:       runs,
		logger:     logger,
		interval:   interval,
		timeout:    timeout,
	}
}

// Run starts the periodic sync loop. It blocks until ctx is cancelled.
// The caller is responsible for running this in a goroutine.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("sync runner started",
		zap.Duration("interval", r.interval),
		zap.Duration("discovery_timeout", r.timeout),
	)

	// Run an initial pass immediately, then on a ticker.
	r.Pass(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sync runner stopped")
			return
		case <-ticker.C:
			r.Pass(ctx)
		}
	}
}

// Pass executes one discover-then-sync cycle and records it. Failures are
// logged and recorded on the run; they never stop the loop.
func (r *Runner) Pass(ctx context.Context) models.SyncResult {
	run := &models.SyncRun{}
	if err := r.runs.Create(ctx, run); err != nil {
		// History is best-effort; the sync itself still runs.
		r.logger.Warn("record sync run failed", zap.Error(err))
		run = nil
	}

	discovered, err := r.discoverer.Discover(ctx, r.timeout)
	if err != nil {
		r.logger.Warn("discovery failed", zap.Error(err))
		if run != nil {
			if ferr := r.runs.Finish(ctx, run.ID, "failed", models.SyncResult{}, err.Error()); ferr != nil {
				r.logger.Warn("finish sync run failed", zap.Error(ferr))
			}
		}
		return models.SyncResult{}
	}

	result := r.syncer.Sync(ctx, discovered)

	if run != nil {
		if err := r.runs.Finish(ctx, run.ID, "completed", result, ""); err != nil {
			r.logger.Warn("finish sync run failed", zap.Error(err))
		}
	}
	return result
}
