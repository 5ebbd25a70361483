// Copyright 2025 James Ross
package reaper

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/config"
	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/obs"
	"github.com/flyingrobots/jobbroker/internal/queuemanager"
	"github.com/flyingrobots/jobbroker/internal/redisstore"
)

// Reaper recovers jobs stuck in a queue's active list: a job whose StartedAt
// is older than cfg.StaleAfter is requeued, whether or not its worker is
// still reporting progress (spec supplement: claimNext/update
// is silent on stale-worker recovery, so the Job Tracker's active list is
// periodically reconciled the way the teacher's processing-list scan did).
type Reaper struct {
	store  *redisstore.Store
	qmgr   *queuemanager.Manager
	cfg    config.Reaper
	log    *zap.Logger
	nowFn  func() time.Time
}

// New returns a Reaper polling at cfg's cadence.
func New(store *redisstore.Store, qmgr *queuemanager.Manager, cfg config.Reaper, log *zap.Logger) *Reaper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reaper{store: store, qmgr: qmgr, cfg: cfg, log: log, nowFn: time.Now}
}

// Run ticks at cfg.PollInterval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanOnce(ctx)
		}
	}
}

// scanOnce walks every known queue's active list and requeues any job whose
// StartedAt is older than cfg.StaleAfter.
func (r *Reaper) scanOnce(ctx context.Context) {
	queues, err := r.qmgr.List(ctx)
	if err != nil {
		r.log.Warn("reaper list queues failed", obs.Err(err))
		return
	}
	for _, queue := range queues {
		r.scanQueue(ctx, queue)
	}
}

func (r *Reaper) scanQueue(ctx context.Context, queue string) {
	ids, err := r.store.JobIDsByStatus(ctx, queue, "active", 0)
	if err != nil {
		r.log.Warn("reaper scan queue failed", obs.String("queue", queue), obs.Err(err))
		return
	}
	for _, id := range ids {
		r.reapOne(ctx, queue, id)
	}
}

func (r *Reaper) reapOne(ctx context.Context, queue, jobID string) {
	raw, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return
	}
	if job.Status != domain.JobActive || job.StartedAt == nil {
		return
	}
	if r.nowFn().Sub(*job.StartedAt) < r.cfg.StaleAfter {
		return
	}

	job.Status = domain.JobWaiting
	job.StartedAt = nil
	job.Updates = append(job.Updates, domain.JobUpdate{
		Status:    domain.JobWaiting,
		Error:     "requeued after stale active timeout",
		Timestamp: r.nowFn().UTC(),
	})
	payload, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := r.store.UpdateJobState(ctx, jobID, []string{string(domain.JobActive)}, payload); err != nil {
		// lost the race with a legitimate update; leave it alone
		return
	}
	if err := r.store.RequeueStale(ctx, queue, jobID); err != nil {
		r.log.Error("reaper requeue failed", obs.String("job", jobID), obs.Err(err))
		return
	}
	obs.ReaperRecovered.Inc()
	r.log.Warn("requeued stale active job", obs.String("job", jobID), obs.String("queue", queue))
}
