// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/config"
	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/metadatastore"
	"github.com/flyingrobots/jobbroker/internal/redisstore"
)

func newTestScheduler(t *testing.T) (*Scheduler, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisstore.NewWithClient(rdb)
	meta := metadatastore.NewMemory()
	cfg := config.Scheduler{PollInterval: time.Second, DueBatchSize: 100}
	return New(meta, store, cfg, zap.NewNop()), mr
}

func TestValidateRequiresExactlyOneOfCronOrAt(t *testing.T) {
	now := time.Now()
	endpoint := domain.ScheduleEndpoint{URL: "https://example.com/hook", Method: http.MethodPost}

	if err := validate("job", domain.ScheduleSpec{}, endpoint, now); err == nil {
		t.Fatal("expected error when neither cron nor at is set")
	}
	future := now.Add(time.Hour)
	both := domain.ScheduleSpec{Cron: "* * * * *", At: &future}
	if err := validate("job", both, endpoint, now); err == nil {
		t.Fatal("expected error when both cron and at are set")
	}
}

func TestValidateRejectsPastAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	endpoint := domain.ScheduleEndpoint{URL: "https://example.com/hook", Method: http.MethodPost}
	if err := validate("job", domain.ScheduleSpec{At: &past}, endpoint, now); err == nil {
		t.Fatal("expected error for a schedule.at in the past")
	}
}

func TestValidateRejectsInvalidCron(t *testing.T) {
	now := time.Now()
	endpoint := domain.ScheduleEndpoint{URL: "https://example.com/hook", Method: http.MethodPost}
	if err := validate("job", domain.ScheduleSpec{Cron: "not a cron"}, endpoint, now); err == nil {
		t.Fatal("expected error for an invalid cron expression")
	}
}

func TestValidateRejectsRelativeURL(t *testing.T) {
	now := time.Now()
	endpoint := domain.ScheduleEndpoint{URL: "/relative/path", Method: http.MethodPost}
	if err := validate("job", domain.ScheduleSpec{Cron: "* * * * *"}, endpoint, now); err == nil {
		t.Fatal("expected error for a relative endpoint URL")
	}
}

func TestValidateRejectsUnsupportedMethod(t *testing.T) {
	now := time.Now()
	endpoint := domain.ScheduleEndpoint{URL: "https://example.com/hook", Method: "TRACE"}
	if err := validate("job", domain.ScheduleSpec{Cron: "* * * * *"}, endpoint, now); err == nil {
		t.Fatal("expected error for an unsupported HTTP method")
	}
}

func TestScheduleBackoffDelayFixed(t *testing.T) {
	backoff := domain.ScheduleBackoff{Type: domain.BackoffFixed, Delay: 5 * time.Second}
	if d := scheduleBackoffDelay(backoff, 1); d != 5*time.Second {
		t.Fatalf("expected fixed delay of 5s, got %v", d)
	}
	if d := scheduleBackoffDelay(backoff, 4); d != 5*time.Second {
		t.Fatalf("expected fixed delay unaffected by attempt number, got %v", d)
	}
}

func TestScheduleBackoffDelayExponential(t *testing.T) {
	backoff := domain.ScheduleBackoff{Type: domain.BackoffExponential, Delay: time.Second}
	if d := scheduleBackoffDelay(backoff, 1); d != time.Second {
		t.Fatalf("expected 1s on first attempt, got %v", d)
	}
	if d := scheduleBackoffDelay(backoff, 3); d != 4*time.Second {
		t.Fatalf("expected 4s on third attempt (1s * 2^2), got %v", d)
	}
}

func TestCreateGetDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	sched, mr := newTestScheduler(t)
	defer mr.Close()

	created, err := sched.Create(ctx, CreateRequest{
		Name:     "ping",
		Enabled:  true,
		Schedule: domain.ScheduleSpec{Cron: "* * * * *"},
		Endpoint: domain.ScheduleEndpoint{URL: "https://example.com/ping", Method: http.MethodPost},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.BullJobKey == "" {
		t.Fatal("expected an enabled schedule to register a backing-store timer")
	}

	got, err := sched.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "ping" {
		t.Fatalf("expected name 'ping', got %q", got.Name)
	}

	if err := sched.Delete(ctx, created.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := sched.Get(ctx, created.ID); domain.CodeOf(err) != domain.CodeScheduleNotFound {
		t.Fatalf("expected SCHEDULE_NOT_FOUND after delete, got %v", err)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	ctx := context.Background()
	sched, mr := newTestScheduler(t)
	defer mr.Close()

	req := CreateRequest{
		Name:     "dup",
		Schedule: domain.ScheduleSpec{Cron: "* * * * *"},
		Endpoint: domain.ScheduleEndpoint{URL: "https://example.com/hook", Method: http.MethodPost},
	}
	if _, err := sched.Create(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := sched.Create(ctx, req); domain.CodeOf(err) != domain.CodeConflict {
		t.Fatalf("expected CONFLICT on duplicate name, got %v", err)
	}
}

func TestToggleRegistersAndCancelsTimer(t *testing.T) {
	ctx := context.Background()
	sched, mr := newTestScheduler(t)
	defer mr.Close()

	created, err := sched.Create(ctx, CreateRequest{
		Name:     "toggle-me",
		Enabled:  false,
		Schedule: domain.ScheduleSpec{Cron: "* * * * *"},
		Endpoint: domain.ScheduleEndpoint{URL: "https://example.com/hook", Method: http.MethodPost},
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.BullJobKey != "" {
		t.Fatal("expected a disabled schedule not to register a timer")
	}

	enabled, err := sched.Toggle(ctx, created.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if enabled.BullJobKey == "" {
		t.Fatal("expected toggling on to register a timer")
	}

	disabled, err := sched.Toggle(ctx, created.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if disabled.BullJobKey != "" {
		t.Fatal("expected toggling off to clear the timer handle")
	}
}

func TestExecuteSucceedsAgainstHealthyEndpoint(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sched, mr := newTestScheduler(t)
	defer mr.Close()

	created, err := sched.Create(ctx, CreateRequest{
		Name:        "healthy",
		Schedule:    domain.ScheduleSpec{Cron: "* * * * *"},
		Endpoint:    domain.ScheduleEndpoint{URL: srv.URL, Method: http.MethodPost},
		RetryPolicy: domain.ScheduleRetryPolicy{Attempts: 3},
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := sched.Execute(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.ExecutionSuccess {
		t.Fatalf("expected success, got %s (%s)", res.Status, res.Error)
	}
}

func TestExecuteFailsTerminallyOnClientError(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	sched, mr := newTestScheduler(t)
	defer mr.Close()

	created, err := sched.Create(ctx, CreateRequest{
		Name:        "client-error",
		Schedule:    domain.ScheduleSpec{Cron: "* * * * *"},
		Endpoint:    domain.ScheduleEndpoint{URL: srv.URL, Method: http.MethodPost},
		RetryPolicy: domain.ScheduleRetryPolicy{Attempts: 3},
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := sched.Execute(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.ExecutionFailed {
		t.Fatalf("expected failed status, got %s", res.Status)
	}
	if res.Attempts != 1 {
		t.Fatalf("expected a 4xx to fail without retrying, got %d attempts", res.Attempts)
	}
}

func TestExecuteOpensBreakerAfterSustainedFailures(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sched, mr := newTestScheduler(t)
	defer mr.Close()
	sched.breakerCfg.minSamples = 2
	sched.breakerCfg.failureThreshold = 0.5
	sched.breakerCfg.cooldown = time.Minute
	sched.breakerCfg.window = time.Minute

	created, err := sched.Create(ctx, CreateRequest{
		Name:        "flaky",
		Schedule:    domain.ScheduleSpec{Cron: "* * * * *"},
		Endpoint:    domain.ScheduleEndpoint{URL: srv.URL, Method: http.MethodPost},
		RetryPolicy: domain.ScheduleRetryPolicy{Attempts: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := sched.Execute(ctx, created.ID); err != nil {
			t.Fatal(err)
		}
	}

	cb := sched.breakerFor(created.Endpoint.URL)
	if cb.Allow() {
		t.Fatal("expected breaker to be open after sustained 5xx failures")
	}
}
