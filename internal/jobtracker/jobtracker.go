// Copyright 2025 James Ross
package jobtracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/obs"
	"github.com/flyingrobots/jobbroker/internal/queuemanager"
	"github.com/flyingrobots/jobbroker/internal/redisstore"
)

// EventSink receives job lifecycle events for fan-out to the Subscription
// Engine and per-job webhook dispatcher (spec §4.3 "on every transition,
// notify subscribers and any per-job webhook").
type EventSink interface {
	Dispatch(ctx context.Context, event domain.EventType, job *domain.Job)
}

// Tracker implements the Job Tracker module (spec §4.3): submission,
// status/progress updates serialized per job via the backing store's CAS,
// retrieval, listing (with metadata filtering), and webhook registration.
// Grounded on the teacher's worker.go processing loop (claim, process,
// durable state write, notify) generalized from the fixed two-priority
// queue pipeline to arbitrary named queues and an explicit state machine.
type Tracker struct {
	store   *redisstore.Store
	qmgr    *queuemanager.Manager
	sinks   []EventSink
	logger  *zap.Logger
	nowFunc func() time.Time
}

// New returns a Tracker. sinks are notified, in order, after every durable
// state transition.
func New(store *redisstore.Store, qmgr *queuemanager.Manager, logger *zap.Logger, sinks ...EventSink) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, qmgr: qmgr, sinks: sinks, logger: logger, nowFunc: time.Now}
}

// SubmitRequest is the input to Submit.
type SubmitRequest struct {
	Queue         string
	ApplicationID string
	Data          json.RawMessage
	Metadata      map[string]interface{}
	Delay         time.Duration
	Priority      int
	Attempts      int
	Webhooks      map[string]string // event -> URL, spec §4.4 ephemeral per-job webhooks
}

// Submit validates and enqueues a new job, returning the created record
// (spec §4.3 "submit(queue, data, metadata?, webhooks?)").
func (t *Tracker) Submit(ctx context.Context, app *domain.Application, req SubmitRequest) (*domain.Job, error) {
	if len(req.Data) == 0 {
		return nil, domain.NewError(domain.CodeMissingData, "job data is required")
	}
	if req.Queue == "" {
		return nil, domain.NewError(domain.CodeValidationError, "queue is required")
	}
	if err := t.qmgr.Authorize(app, req.Queue); err != nil {
		return nil, err
	}

	now := t.nowFunc().UTC()
	job := &domain.Job{
		ID:            uuid.NewString(),
		Queue:         req.Queue,
		ApplicationID: app.ID,
		Data:          req.Data,
		Metadata:      req.Metadata,
		Status:        domain.JobWaiting,
		SubmittedAt:   now,
		Webhooks:      req.Webhooks,
	}
	if req.Delay > 0 {
		job.Status = domain.JobDelayed
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := t.store.PutJob(ctx, job.ID, string(job.Status), payload); err != nil {
		return nil, domain.NewError(domain.CodeBackingStoreUnavailable, err.Error())
	}

	if err := t.qmgr.Materialize(ctx, req.Queue); err != nil {
		return nil, domain.NewError(domain.CodeBackingStoreUnavailable, err.Error())
	}
	if err := t.store.Enqueue(ctx, req.Queue, job.ID, redisstore.EnqueueOptions{
		Delay:    req.Delay,
		Priority: req.Priority,
		Attempts: req.Attempts,
	}); err != nil {
		return nil, domain.NewError(domain.CodeBackingStoreUnavailable, err.Error())
	}

	for k, v := range req.Metadata {
		if err := t.store.IndexMetadata(ctx, app.ID, k, domain.CoerceMetadataValue(v), job.ID); err != nil {
			t.logger.Warn("metadata index write failed", zap.Error(err), zap.String("job", job.ID))
		}
	}

	obs.JobsSubmitted.WithLabelValues(app.ID, req.Queue).Inc()
	t.logger.Info("job submitted", zap.String("job", job.ID), zap.String("queue", req.Queue), zap.String("application", app.ID))
	t.notify(ctx, domain.EventCreated, job)
	return job, nil
}

// Get retrieves a job by ID, enforcing that it belongs to app (unless app
// is the master application).
func (t *Tracker) Get(ctx context.Context, app *domain.Application, jobID string) (*domain.Job, error) {
	raw, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, domain.ErrJobNotFound
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	if !app.IsMaster && job.ApplicationID != app.ID {
		return nil, domain.ErrAccessDenied
	}
	return &job, nil
}

// Update applies a status/progress/result transition to a job, serialized
// through the backing store's compare-and-swap so concurrent worker
// updates cannot race (spec §4.3 "per-job serialization").
func (t *Tracker) Update(ctx context.Context, app *domain.Application, jobID string, upd domain.JobUpdate) (*domain.Job, error) {
	job, err := t.Get(ctx, app, jobID)
	if err != nil {
		return nil, err
	}
	if !job.CanTransition(upd.Status) {
		return nil, domain.NewError(domain.CodeConflict, fmt.Sprintf("cannot transition job %s from %s to %s", jobID, job.Status, upd.Status))
	}
	if err := validateUpdateContent(upd); err != nil {
		return nil, err
	}

	from := []string{string(job.Status)}
	now := t.nowFunc().UTC()
	applyUpdate(job, upd, now)

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	if err := t.store.UpdateJobState(ctx, jobID, from, payload); err != nil {
		if err == redisstore.ErrConflict {
			return nil, domain.NewError(domain.CodeConflict, "job state changed concurrently, retry")
		}
		return nil, domain.NewError(domain.CodeBackingStoreUnavailable, err.Error())
	}

	switch upd.Status {
	case domain.JobActive:
		_, _ = t.store.ClaimNext(ctx, job.Queue, 0) // no-op guard; claim already performed by worker loop
	case domain.JobCompleted, domain.JobFailed:
		if err := t.store.RemoveActive(ctx, job.Queue, jobID); err != nil {
			t.logger.Warn("remove active failed", zap.Error(err))
		}
		if err := t.store.MarkTerminal(ctx, job.Queue, jobID, upd.Status == domain.JobFailed, now); err != nil {
			t.logger.Warn("mark terminal failed", zap.Error(err))
		}
	}

	obs.JobsUpdated.WithLabelValues(string(upd.Status)).Inc()
	ev := eventForStatus(upd.Status)
	t.notify(ctx, ev, job)
	return job, nil
}

// validateUpdateContent enforces the per-transition content invariants (spec
// §4.3): progress must fall in [0,100], completed requires a result, failed
// requires an error.
func validateUpdateContent(upd domain.JobUpdate) error {
	if upd.Progress != nil && (*upd.Progress < 0 || *upd.Progress > 100) {
		return domain.NewError(domain.CodeValidationError, "progress must be between 0 and 100")
	}
	if upd.Status == domain.JobCompleted && len(upd.Result) == 0 {
		return domain.NewError(domain.CodeValidationError, "result is required to complete a job")
	}
	if upd.Status == domain.JobFailed && upd.Error == "" {
		return domain.NewError(domain.CodeValidationError, "error is required to fail a job")
	}
	return nil
}

func applyUpdate(job *domain.Job, upd domain.JobUpdate, now time.Time) {
	job.Status = upd.Status
	if upd.Progress != nil {
		job.Progress = *upd.Progress
	}
	if upd.Result != nil {
		job.Result = upd.Result
	}
	if upd.Error != "" {
		job.Error = upd.Error
	}
	job.Updates = append(job.Updates, domain.JobUpdate{
		Status:    upd.Status,
		Progress:  upd.Progress,
		Result:    upd.Result,
		Error:     upd.Error,
		Timestamp: now,
	})
	switch upd.Status {
	case domain.JobActive:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case domain.JobCompleted:
		job.CompletedAt = &now
	case domain.JobFailed:
		job.FailedAt = &now
	}
}

func eventForStatus(status domain.JobStatus) domain.EventType {
	switch status {
	case domain.JobActive:
		return domain.EventStarted
	case domain.JobCompleted:
		return domain.EventComplete
	case domain.JobFailed:
		return domain.EventFailed
	default:
		return domain.EventProgress
	}
}

// ListOptions filters List.
type ListOptions struct {
	Queue    string
	Status   domain.JobStatus
	Metadata map[string]string
	Limit    int
}

// List returns jobs visible to app matching the given filters (spec §4.3
// "list(queue?, status?, metadata?)"; metadata filtering is served from the
// secondary index populated at submit time).
func (t *Tracker) List(ctx context.Context, app *domain.Application, opts ListOptions) ([]*domain.Job, error) {
	if len(opts.Metadata) > 0 {
		var ids []string
		first := true
		for k, v := range opts.Metadata {
			matched, err := t.store.JobsByMetadata(ctx, app.ID, k, v)
			if err != nil {
				return nil, domain.NewError(domain.CodeBackingStoreUnavailable, err.Error())
			}
			if first {
				ids = matched
				first = false
				continue
			}
			ids = intersect(ids, matched)
		}
		jobs := make([]*domain.Job, 0, len(ids))
		for _, id := range ids {
			job, err := t.Get(ctx, app, id)
			if err != nil {
				continue
			}
			if matchesFilter(job, opts) {
				jobs = append(jobs, job)
			}
		}
		return limitJobs(jobs, opts.Limit), nil
	}

	queues := []string{opts.Queue}
	if opts.Queue == "" {
		all, err := t.qmgr.ListForApp(ctx, app)
		if err != nil {
			return nil, err
		}
		queues = all
	}

	limit := int64(opts.Limit)
	jobs := make([]*domain.Job, 0, opts.Limit)
	for _, q := range queues {
		var ids []string
		var err error
		if opts.Status != "" {
			ids, err = t.store.JobIDsByStatus(ctx, q, string(opts.Status), limit)
		} else {
			ids, err = t.store.AllJobIDs(ctx, q, limit)
		}
		if err != nil {
			return nil, domain.NewError(domain.CodeBackingStoreUnavailable, err.Error())
		}
		for _, id := range ids {
			job, err := t.Get(ctx, app, id)
			if err != nil {
				continue
			}
			jobs = append(jobs, job)
			if opts.Limit > 0 && len(jobs) >= opts.Limit {
				return jobs, nil
			}
		}
	}
	return jobs, nil
}

func matchesFilter(job *domain.Job, opts ListOptions) bool {
	if opts.Queue != "" && job.Queue != opts.Queue {
		return false
	}
	if opts.Status != "" && job.Status != opts.Status {
		return false
	}
	return true
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	out := make([]string, 0)
	for _, v := range b {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func limitJobs(jobs []*domain.Job, limit int) []*domain.Job {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}

// RegisterWebhook attaches (or replaces) the ephemeral per-job webhook URL
// for a given event on an existing job (spec §4.4 "registerWebhook(jobId,
// event, url)").
func (t *Tracker) RegisterWebhook(ctx context.Context, app *domain.Application, jobID string, event domain.EventType, url string) error {
	job, err := t.Get(ctx, app, jobID)
	if err != nil {
		return err
	}
	if job.Webhooks == nil {
		job.Webhooks = make(map[string]string)
	}
	job.Webhooks[string(event)] = url
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return t.store.PutJob(ctx, job.ID, string(job.Status), payload)
}

func (t *Tracker) notify(ctx context.Context, event domain.EventType, job *domain.Job) {
	for _, sink := range t.sinks {
		sink.Dispatch(ctx, event, job)
	}
}
