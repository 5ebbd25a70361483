// Copyright 2025 James Ross

// Package retention runs the periodic purge of terminal jobs past the
// spec §3 Job retention window (completedJobRetention / failedJobRetention).
// The spec assigns this to "the backing store" as a scheduled concern;
// grounded on the teacher's reaper.Run polling loop shape, this package
// drives the same queuemanager.Clean primitive the admin API exposes for
// manual cleans.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/config"
	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/obs"
	"github.com/flyingrobots/jobbroker/internal/queuemanager"
)

// Purger periodically cleans completed/failed jobs older than the
// configured retention window from every known queue.
type Purger struct {
	qmgr   *queuemanager.Manager
	cfg    config.Retention
	logger *zap.Logger
}

// New returns a Purger.
func New(qmgr *queuemanager.Manager, cfg config.Retention, logger *zap.Logger) *Purger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Purger{qmgr: qmgr, cfg: cfg, logger: logger}
}

// Run ticks at cfg.PurgeInterval until ctx is canceled, purging every known
// queue on each tick. Queues are purged one after another; an error on one
// queue is logged and does not stop the sweep of the others.
func (p *Purger) Run(ctx context.Context) {
	interval := p.cfg.PurgeInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Purger) sweep(ctx context.Context) {
	queues, err := p.qmgr.List(ctx)
	if err != nil {
		p.logger.Warn("retention: list queues failed", obs.Err(err))
		return
	}
	for _, q := range queues {
		p.purgeQueue(ctx, q)
	}
}

func (p *Purger) purgeQueue(ctx context.Context, queue string) {
	limit := p.cfg.PurgeBatchLimit
	if n, err := p.qmgr.Clean(ctx, queue, queuemanager.CleanOptions{
		Status: domain.JobCompleted, OlderThan: p.cfg.CompletedJobRetention, Limit: limit,
	}); err != nil {
		p.logger.Warn("retention: purge completed failed", obs.String("queue", queue), obs.Err(err))
	} else if n > 0 {
		p.logger.Info("retention: purged completed jobs", obs.String("queue", queue), obs.Int("count", int(n)))
	}
	if n, err := p.qmgr.Clean(ctx, queue, queuemanager.CleanOptions{
		Status: domain.JobFailed, OlderThan: p.cfg.FailedJobRetention, Limit: limit,
	}); err != nil {
		p.logger.Warn("retention: purge failed jobs failed", obs.String("queue", queue), obs.Err(err))
	} else if n > 0 {
		p.logger.Info("retention: purged failed jobs", obs.String("queue", queue), obs.Int("count", int(n)))
	}
}
