// Copyright 2025 James Ross

// Package scheduler implements the Schedule state machine and HTTP
// execution engine (spec §4.6): declarative cron/one-shot schedule CRUD,
// repeatable-job registration against the backing store, a polling worker
// that fires due schedules, and a retry-policy-bound HTTP client. Grounded
// on internal/calendar-view/validator.go's cron-parsing/timezone-validation
// style and internal/worker/worker.go's backoff helper, generalized from a
// fixed backoff constant to the per-schedule exponential|fixed policy. The
// HTTP execution path is wrapped with the same per-target breaker as
// internal/appwebhook, keyed by endpoint URL, so a dead schedule target
// can't burn the polling worker's attempts on every tick.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/breaker"
	"github.com/flyingrobots/jobbroker/internal/config"
	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/metadatastore"
	"github.com/flyingrobots/jobbroker/internal/obs"
	"github.com/flyingrobots/jobbroker/internal/redisstore"
)

// schedulerQueue is the backing-store queue namespace that owns every
// repeat/once timer the Scheduler registers, per spec §4.6's "scheduler
// queue" design note.
const schedulerQueue = "scheduler"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodPatch: true,
}

// Scheduler owns the Schedule lifecycle (spec §4.6 CREATED/REGISTERED/
// DISABLED state machine) and its execution worker.
type Scheduler struct {
	meta   metadatastore.Store
	store  *redisstore.Store
	client *http.Client
	logger *zap.Logger
	cfg    config.Scheduler
	nowFn  func() time.Time

	breakerMu  sync.Mutex
	breakers   map[string]*breaker.CircuitBreaker
	breakerCfg breakerConfig
}

type breakerConfig struct {
	window           time.Duration
	cooldown         time.Duration
	failureThreshold float64
	minSamples       int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBreaker overrides the per-target circuit breaker's tuning, mirroring
// internal/appwebhook's dispatcher-level breaker so a dead schedule target
// can't starve the shared polling worker (spec §4/§5 "every outbound HTTP
// call has a timeout").
func WithBreaker(window, cooldown time.Duration, failureThreshold float64, minSamples int) Option {
	return func(s *Scheduler) {
		s.breakerCfg = breakerConfig{window: window, cooldown: cooldown, failureThreshold: failureThreshold, minSamples: minSamples}
	}
}

// New returns a Scheduler.
func New(meta metadatastore.Store, store *redisstore.Store, cfg config.Scheduler, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		meta: meta, store: store, cfg: cfg, logger: logger,
		client:   &http.Client{Timeout: 30 * time.Second},
		nowFn:    time.Now,
		breakers: make(map[string]*breaker.CircuitBreaker),
		breakerCfg: breakerConfig{
			window: time.Minute, cooldown: 30 * time.Second, failureThreshold: 0.5, minSamples: 10,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) breakerFor(url string) *breaker.CircuitBreaker {
	s.breakerMu.Lock()
	defer s.breakerMu.Unlock()
	cb, ok := s.breakers[url]
	if !ok {
		cb = breaker.New(s.breakerCfg.window, s.breakerCfg.cooldown, s.breakerCfg.failureThreshold, s.breakerCfg.minSamples)
		s.breakers[url] = cb
	}
	return cb
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	Name        string
	Description string
	Enabled     bool
	Schedule    domain.ScheduleSpec
	Endpoint    domain.ScheduleEndpoint
	RetryPolicy domain.ScheduleRetryPolicy
	CreatedBy   string
	Metadata    map[string]interface{}
}

// Create validates req and persists a new Schedule, registering a backing-
// store timer if Enabled (spec §4.6 "CREATED -> validate -> REGISTERED |
// DISABLED").
func (s *Scheduler) Create(ctx context.Context, req CreateRequest) (*domain.Schedule, error) {
	if err := validate(req.Name, req.Schedule, req.Endpoint, s.nowFn()); err != nil {
		return nil, err
	}
	if _, err := s.meta.GetScheduleByName(ctx, req.Name); err == nil {
		return nil, domain.NewError(domain.CodeConflict, fmt.Sprintf("schedule name %q already exists", req.Name))
	} else if err != metadatastore.ErrNotFound {
		return nil, domain.NewError(domain.CodeMetadataStoreUnavailable, err.Error())
	}

	now := s.nowFn().UTC()
	sched := &domain.Schedule{
		ID: uuid.NewString(), Name: req.Name, Description: req.Description,
		Enabled: req.Enabled, Schedule: req.Schedule, Endpoint: req.Endpoint,
		RetryPolicy: req.RetryPolicy, CreatedBy: req.CreatedBy, Metadata: req.Metadata,
		CreatedAt: now, UpdatedAt: now,
	}
	if sched.Enabled {
		if err := s.register(ctx, sched); err != nil {
			return nil, err
		}
	}
	if err := s.meta.PutSchedule(ctx, sched); err != nil {
		return nil, domain.NewError(domain.CodeMetadataStoreUnavailable, err.Error())
	}
	return sched, nil
}

// Get returns a Schedule by ID.
func (s *Scheduler) Get(ctx context.Context, id string) (*domain.Schedule, error) {
	sched, err := s.meta.GetSchedule(ctx, id)
	if err == metadatastore.ErrNotFound {
		return nil, domain.NewError(domain.CodeScheduleNotFound, "schedule not found")
	} else if err != nil {
		return nil, domain.NewError(domain.CodeMetadataStoreUnavailable, err.Error())
	}
	return sched, nil
}

// List returns every Schedule.
func (s *Scheduler) List(ctx context.Context) ([]*domain.Schedule, error) {
	scheds, err := s.meta.ListSchedules(ctx)
	if err != nil {
		return nil, domain.NewError(domain.CodeMetadataStoreUnavailable, err.Error())
	}
	return scheds, nil
}

// Delete cancels the schedule's live timer (if any) then deletes the
// record, in that order (spec §9 "on Schedule deletion, cancel the key
// first, then delete the record").
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sched.BullJobKey != "" {
		if h, err := redisstore.ParseRepeatHandle(sched.BullJobKey); err == nil {
			if err := s.store.CancelRepeatable(ctx, h); err != nil {
				return domain.NewError(domain.CodeBackingStoreUnavailable, err.Error())
			}
		}
	}
	if err := s.meta.DeleteSchedule(ctx, id); err != nil {
		return domain.NewError(domain.CodeMetadataStoreUnavailable, err.Error())
	}
	return nil
}

// UpdateRequest is the input to Update.
type UpdateRequest struct {
	Description string
	Enabled     bool
	Schedule    domain.ScheduleSpec
	Endpoint    domain.ScheduleEndpoint
	RetryPolicy domain.ScheduleRetryPolicy
	Metadata    map[string]interface{}
}

// Update replaces a schedule's spec/endpoint/retry policy in place,
// cancelling and re-registering its backing-store timer so BullJobKey and
// NextExecutionAt stay consistent with the new spec (spec §4.6 cycles note:
// the Scheduler owns BullJobKey exclusively, so updates must re-derive it
// rather than leave a stale handle pointing at the old cron/at).
func (s *Scheduler) Update(ctx context.Context, id string, req UpdateRequest) (*domain.Schedule, error) {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validate(sched.Name, req.Schedule, req.Endpoint, s.nowFn()); err != nil {
		return nil, err
	}
	if sched.BullJobKey != "" {
		if h, err := redisstore.ParseRepeatHandle(sched.BullJobKey); err == nil {
			if err := s.store.CancelRepeatable(ctx, h); err != nil {
				return nil, domain.NewError(domain.CodeBackingStoreUnavailable, err.Error())
			}
		}
		sched.BullJobKey = ""
		sched.NextExecutionAt = nil
	}

	sched.Description = req.Description
	sched.Enabled = req.Enabled
	sched.Schedule = req.Schedule
	sched.Endpoint = req.Endpoint
	sched.RetryPolicy = req.RetryPolicy
	sched.Metadata = req.Metadata
	if sched.Enabled {
		if err := s.register(ctx, sched); err != nil {
			return nil, err
		}
	}
	sched.UpdatedAt = s.nowFn().UTC()
	if err := s.meta.PutSchedule(ctx, sched); err != nil {
		return nil, domain.NewError(domain.CodeMetadataStoreUnavailable, err.Error())
	}
	return sched, nil
}

// Toggle enables or disables a schedule, registering or cancelling its
// backing-store timer and recomputing nextExecutionAt (spec §4.6 "REGISTERED
// <-> DISABLED via toggle").
func (s *Scheduler) Toggle(ctx context.Context, id string, enabled bool) (*domain.Schedule, error) {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched.Enabled == enabled {
		return sched, nil
	}
	sched.Enabled = enabled
	if enabled {
		if err := s.register(ctx, sched); err != nil {
			return nil, err
		}
	} else if sched.BullJobKey != "" {
		if h, err := redisstore.ParseRepeatHandle(sched.BullJobKey); err == nil {
			if err := s.store.CancelRepeatable(ctx, h); err != nil {
				return nil, domain.NewError(domain.CodeBackingStoreUnavailable, err.Error())
			}
		}
		sched.BullJobKey = ""
		sched.NextExecutionAt = nil
	}
	sched.UpdatedAt = s.nowFn().UTC()
	if err := s.meta.PutSchedule(ctx, sched); err != nil {
		return nil, domain.NewError(domain.CodeMetadataStoreUnavailable, err.Error())
	}
	return sched, nil
}

// register computes the next fire time and registers a backing-store timer,
// setting sched.BullJobKey and sched.NextExecutionAt in place.
func (s *Scheduler) register(ctx context.Context, sched *domain.Schedule) error {
	next, err := nextFireTime(sched.Schedule, s.nowFn())
	if err != nil {
		return err
	}
	var h redisstore.RepeatHandle
	if sched.Schedule.Cron != "" {
		h, err = s.store.ScheduleRepeatable(ctx, schedulerQueue, sched.ID, next, sched.Schedule.Cron, sched.Schedule.Timezone, sched.Schedule.EndDate, sched.Schedule.Limit)
	} else {
		h, err = s.store.ScheduleOnce(ctx, schedulerQueue, sched.ID, next)
	}
	if err != nil {
		return domain.NewError(domain.CodeBackingStoreUnavailable, err.Error())
	}
	sched.BullJobKey = h.String()
	sched.NextExecutionAt = &next
	return nil
}

func nextFireTime(spec domain.ScheduleSpec, now time.Time) (time.Time, error) {
	if spec.At != nil {
		return *spec.At, nil
	}
	loc, err := loadLocation(spec.Timezone)
	if err != nil {
		return time.Time{}, domain.NewError(domain.CodeValidationError, err.Error())
	}
	schedule, err := cronParser.Parse(spec.Cron)
	if err != nil {
		return time.Time{}, domain.NewError(domain.CodeValidationError, fmt.Sprintf("invalid cron expression: %v", err))
	}
	return schedule.Next(now.In(loc)), nil
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func validate(name string, spec domain.ScheduleSpec, endpoint domain.ScheduleEndpoint, now time.Time) error {
	if name == "" {
		return domain.NewError(domain.CodeMissingName, "schedule name is required")
	}
	hasCron := spec.Cron != ""
	hasAt := spec.At != nil
	if hasCron == hasAt {
		return domain.NewError(domain.CodeValidationError, "exactly one of schedule.cron or schedule.at must be set")
	}
	if hasCron {
		if _, err := cronParser.Parse(spec.Cron); err != nil {
			return domain.NewError(domain.CodeValidationError, fmt.Sprintf("invalid cron expression: %v", err))
		}
	}
	if hasAt && !spec.At.After(now) {
		return domain.NewError(domain.CodeValidationError, "schedule.at must be strictly in the future")
	}
	if _, err := loadLocation(spec.Timezone); err != nil {
		return domain.NewError(domain.CodeValidationError, err.Error())
	}
	u, err := url.Parse(endpoint.URL)
	if err != nil || !u.IsAbs() {
		return domain.NewError(domain.CodeValidationError, "endpoint.url must be an absolute URL")
	}
	if !validMethods[strings.ToUpper(endpoint.Method)] {
		return domain.NewError(domain.CodeValidationError, fmt.Sprintf("endpoint.method %q is not supported", endpoint.Method))
	}
	return nil
}

// ExecuteResult is returned by both the manual Execute API and the internal
// fire path.
type ExecuteResult struct {
	ExecutionID string
	Status      domain.ExecutionStatus
	Error       string
	Attempts    int
}

// Execute bypasses the scheduled timer and runs §4.6.1 synchronously,
// still subject to the schedule's own retry policy, returning an
// executionId for correlation (spec §4.6 "Manual execute API").
func (s *Scheduler) Execute(ctx context.Context, id string) (ExecuteResult, error) {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return ExecuteResult{}, err
	}
	res := s.executeHTTP(ctx, sched)
	s.recordExecution(ctx, sched, res)
	return res, nil
}

// Fire is invoked by the polling worker when a repeat/once timer comes due.
// It reloads the Schedule, aborts if it was disabled since registration,
// executes the HTTP call, updates bookkeeping, and rotates or retires the
// backing-store timer (spec §4.6 "On each fire").
func (s *Scheduler) Fire(ctx context.Context, h redisstore.RepeatHandle) {
	sched, err := s.meta.GetSchedule(ctx, h.Key)
	if err != nil {
		s.logger.Warn("scheduler fire: schedule missing, cancelling handle", obs.String("handle", h.String()), obs.Err(err))
		_ = s.store.CancelRepeatable(ctx, h)
		return
	}
	if !sched.Enabled {
		_ = s.store.CancelRepeatable(ctx, h)
		return
	}

	res := s.executeHTTP(ctx, sched)
	s.recordExecution(ctx, sched, res)

	now := s.nowFn()
	if res.Status == domain.ExecutionSuccess {
		sched.ExecutionCount++
	}
	retire := sched.LimitReached() || sched.EndDatePassed(now) || sched.Schedule.Cron == ""
	if retire {
		sched.Enabled = false
		sched.BullJobKey = ""
		sched.NextExecutionAt = nil
		_ = s.store.CancelRepeatable(ctx, h)
	} else {
		next, err := nextFireTime(sched.Schedule, now)
		if err == nil {
			if err := s.store.RescheduleRepeat(ctx, h, next); err == nil {
				sched.NextExecutionAt = &next
			}
		}
	}
	sched.UpdatedAt = now.UTC()
	if err := s.meta.PutSchedule(ctx, sched); err != nil {
		s.logger.Warn("scheduler fire: put schedule failed", obs.String("schedule", sched.ID), obs.Err(err))
	}
}

func (s *Scheduler) recordExecution(ctx context.Context, sched *domain.Schedule, res ExecuteResult) {
	now := s.nowFn().UTC()
	sched.LastExecutedAt = &now
	sched.LastExecutionStatus = res.Status
	sched.LastExecutionError = res.Error
	outcome := "success"
	if res.Status == domain.ExecutionFailed {
		outcome = "failed"
	}
	obs.ScheduleExecutions.WithLabelValues(outcome).Inc()
}

// executeHTTP implements spec §4.6.1 verbatim: per-attempt HTTP call,
// <400 terminal success, 400-499 terminal failure (no retry), >=500 or
// transport error retryable with the schedule's exponential|fixed backoff.
func (s *Scheduler) executeHTTP(ctx context.Context, sched *domain.Schedule) ExecuteResult {
	attempts := sched.RetryPolicy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	timeout := sched.Endpoint.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := s.breakerFor(sched.Endpoint.URL)

	var lastErr string
	for n := 1; n <= attempts; n++ {
		if !cb.Allow() {
			s.logger.Warn("scheduler breaker open, skipping attempt", obs.String("schedule", sched.ID), obs.String("url", sched.Endpoint.URL))
			lastErr = "circuit breaker open for endpoint"
			break
		}
		status, err := s.doRequest(ctx, sched.Endpoint, timeout)
		cb.Record(err == nil)
		if err == nil {
			return ExecuteResult{ExecutionID: uuid.NewString(), Status: domain.ExecutionSuccess, Attempts: n}
		}
		lastErr = err.Error()
		if status >= 400 && status < 500 {
			return ExecuteResult{ExecutionID: uuid.NewString(), Status: domain.ExecutionFailed, Error: lastErr, Attempts: n}
		}
		if n < attempts {
			time.Sleep(scheduleBackoffDelay(sched.RetryPolicy.Backoff, n))
		}
	}
	return ExecuteResult{ExecutionID: uuid.NewString(), Status: domain.ExecutionFailed, Error: lastErr, Attempts: attempts}
}

func scheduleBackoffDelay(backoff domain.ScheduleBackoff, n int) time.Duration {
	delay := backoff.Delay
	if delay <= 0 {
		delay = time.Second
	}
	if backoff.Type == domain.BackoffFixed {
		return delay
	}
	mult := 1 << uint(n-1)
	return delay * time.Duration(mult)
}

func (s *Scheduler) doRequest(ctx context.Context, ep domain.ScheduleEndpoint, timeout time.Duration) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := ep.Method
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if ep.Body != "" {
		body = bytes.NewReader([]byte(ep.Body))
	}
	req, err := http.NewRequestWithContext(reqCtx, method, ep.URL, body)
	if err != nil {
		return 0, err
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Run polls for due schedule timers at cfg.PollInterval until ctx is
// canceled, firing each one (spec §4.6 execution worker).
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	batch := s.cfg.DueBatchSize
	if batch <= 0 {
		batch = 100
	}
	due, err := s.store.DueRepeatHandles(ctx, batch)
	if err != nil {
		s.logger.Warn("scheduler poll failed", obs.Err(err))
		return
	}
	for _, h := range due {
		if h.Queue != schedulerQueue {
			continue
		}
		s.Fire(ctx, h)
	}
}

// Reconcile lists every enabled Schedule and re-registers any whose handle
// is missing, called once at startup (spec §9 "on startup, reconcile by
// listing Schedules and re-registering any enabled ones whose handles are
// missing").
func (s *Scheduler) Reconcile(ctx context.Context) error {
	scheds, err := s.meta.ListSchedules(ctx)
	if err != nil {
		return err
	}
	for _, sched := range scheds {
		if !sched.Enabled {
			continue
		}
		if sched.BullJobKey != "" {
			if _, err := redisstore.ParseRepeatHandle(sched.BullJobKey); err == nil {
				continue
			}
		}
		if err := s.register(ctx, sched); err != nil {
			s.logger.Warn("scheduler reconcile: re-register failed", obs.String("schedule", sched.ID), obs.Err(err))
			continue
		}
		sched.UpdatedAt = s.nowFn().UTC()
		if err := s.meta.PutSchedule(ctx, sched); err != nil {
			s.logger.Warn("scheduler reconcile: put failed", obs.String("schedule", sched.ID), obs.Err(err))
		}
	}
	return nil
}
