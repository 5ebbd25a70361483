// Copyright 2025 James Ross
package queuemanager

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/obs"
	"github.com/flyingrobots/jobbroker/internal/redisstore"
)

// Manager implements the Queue Manager module (spec §4.2): materializing
// queues, authorizing Applications against them, pausing/resuming, purging
// terminal jobs, and reporting stats. Grounded on the admin-api's
// Peek/PurgeDLQ/PurgeAll handlers, generalized from two hardcoded priority
// queues to an arbitrary queue namespace.
type Manager struct {
	store  *redisstore.Store
	logger *zap.Logger
}

// New returns a Manager backed by store.
func New(store *redisstore.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger}
}

// Authorize checks that app is allowed to use queue, per its AllowedQueues
// wildcard (spec §4.2 "authorize(applicationId, queue)").
func (m *Manager) Authorize(app *domain.Application, queue string) error {
	if app.IsMaster {
		return nil
	}
	if !app.Settings.AllowsQueue(queue) {
		return domain.NewError(domain.CodeQueueAccessDenied, fmt.Sprintf("application %s is not allowed to use queue %q", app.ID, queue))
	}
	return nil
}

// Materialize idempotently registers a queue name so it appears in List
// even before any job has been enqueued onto it.
func (m *Manager) Materialize(ctx context.Context, queue string) error {
	return m.store.MaterializeQueue(ctx, queue)
}

// List returns every queue name known to the backing store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.ListQueues(ctx)
}

// ListForApp returns the subset of known queues app is allowed to see: every
// queue for the master application, or the intersection with its
// AllowedQueues wildcard otherwise (spec §4.2 applications only ever see
// their own queues/jobs).
func (m *Manager) ListForApp(ctx context.Context, app *domain.Application) ([]string, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	if app.IsMaster {
		return all, nil
	}
	out := make([]string, 0, len(all))
	for _, q := range all {
		if app.Settings.AllowsQueue(q) {
			out = append(out, q)
		}
	}
	return out, nil
}

// Pause stops a queue's workers from claiming new jobs.
func (m *Manager) Pause(ctx context.Context, queue string) error {
	m.logger.Info("queue paused", zap.String("queue", queue))
	return m.store.Pause(ctx, queue)
}

// Resume re-enables claiming on a paused queue.
func (m *Manager) Resume(ctx context.Context, queue string) error {
	m.logger.Info("queue resumed", zap.String("queue", queue))
	return m.store.Resume(ctx, queue)
}

// Stats reports the queue's waiting/active/completed/failed/delayed counts
// and paused state (spec §4.2 "stats(queue)").
func (m *Manager) Stats(ctx context.Context, queue string) (domain.QueueStats, error) {
	s, err := m.store.Stats(ctx, queue)
	if err != nil {
		return domain.QueueStats{}, err
	}
	obs.QueueLength.WithLabelValues(queue).Set(float64(s.Waiting + s.Active + s.Delayed))
	return domain.QueueStats{
		Name:      queue,
		Waiting:   s.Waiting,
		Active:    s.Active,
		Completed: s.Completed,
		Failed:    s.Failed,
		Delayed:   s.Delayed,
		Paused:    s.Paused,
	}, nil
}

// StatsAll reports Stats for every known queue (spec §4.2 "statsAll()").
func (m *Manager) StatsAll(ctx context.Context) ([]domain.QueueStats, error) {
	queues, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.QueueStats, 0, len(queues))
	for _, q := range queues {
		st, err := m.Stats(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// StatsAllForApp reports Stats for every queue visible to app (spec §4.2
// "statsAll()" scoped to the caller's AllowedQueues unless it is master).
func (m *Manager) StatsAllForApp(ctx context.Context, app *domain.Application) ([]domain.QueueStats, error) {
	queues, err := m.ListForApp(ctx, app)
	if err != nil {
		return nil, err
	}
	out := make([]domain.QueueStats, 0, len(queues))
	for _, q := range queues {
		st, err := m.Stats(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// CleanOptions configures Clean.
type CleanOptions struct {
	Status domain.JobStatus // JobCompleted or JobFailed
	OlderThan time.Duration
	Limit     int64
}

// Clean purges terminal jobs older than OlderThan from queue, capped at
// Limit, returning the number removed (spec §4.2 "clean(queue, status,
// olderThan, limit)"; retention purge reuses the same primitive).
func (m *Manager) Clean(ctx context.Context, queue string, opts CleanOptions) (int64, error) {
	if opts.Status != domain.JobCompleted && opts.Status != domain.JobFailed {
		return 0, domain.NewError(domain.CodeValidationError, "clean status must be completed or failed")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	before := time.Now().Add(-opts.OlderThan)
	n, err := m.store.PurgeOlderThan(ctx, queue, opts.Status == domain.JobFailed, before, limit)
	if err != nil {
		return 0, err
	}
	m.logger.Info("queue cleaned",
		zap.String("queue", queue),
		zap.String("status", string(opts.Status)),
		zap.Int64("removed", n),
	)
	return n, nil
}
