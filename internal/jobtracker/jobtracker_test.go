// Copyright 2025 James Ross
package jobtracker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/queuemanager"
	"github.com/flyingrobots/jobbroker/internal/redisstore"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.EventType
}

func (r *recordingSink) Dispatch(ctx context.Context, event domain.EventType, job *domain.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func newTestTracker(t *testing.T, sinks ...EventSink) (*Tracker, *redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisstore.NewWithClient(rdb)
	qmgr := queuemanager.New(store, zap.NewNop())
	return New(store, qmgr, zap.NewNop(), sinks...), store, mr
}

var testApp = &domain.Application{ID: "app-1", Settings: domain.ApplicationSettings{AllowedQueues: []string{"*"}}}

func TestTrackerSubmitRejectsMissingData(t *testing.T) {
	tracker, _, mr := newTestTracker(t)
	defer mr.Close()

	_, err := tracker.Submit(context.Background(), testApp, SubmitRequest{Queue: "emails"})
	if domain.CodeOf(err) != domain.CodeMissingData {
		t.Fatalf("expected MISSING_DATA, got %v", err)
	}
}

func TestTrackerSubmitRejectsUnauthorizedQueue(t *testing.T) {
	tracker, _, mr := newTestTracker(t)
	defer mr.Close()

	scoped := &domain.Application{ID: "app-2", Settings: domain.ApplicationSettings{AllowedQueues: []string{"emails"}}}
	_, err := tracker.Submit(context.Background(), scoped, SubmitRequest{Queue: "billing", Data: json.RawMessage(`{}`)})
	if domain.CodeOf(err) != domain.CodeQueueAccessDenied {
		t.Fatalf("expected QUEUE_ACCESS_DENIED, got %v", err)
	}
}

func TestTrackerSubmitNotifiesSinks(t *testing.T) {
	sink := &recordingSink{}
	tracker, _, mr := newTestTracker(t, sink)
	defer mr.Close()

	job, err := tracker.Submit(context.Background(), testApp, SubmitRequest{
		Queue: "emails", Data: json.RawMessage(`{"to":"a@example.com"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobWaiting {
		t.Fatalf("expected waiting status, got %s", job.Status)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 1 || sink.events[0] != domain.EventCreated {
		t.Fatalf("expected one EventCreated notification, got %v", sink.events)
	}
}

func TestTrackerSubmitWithDelayMarksDelayed(t *testing.T) {
	tracker, _, mr := newTestTracker(t)
	defer mr.Close()

	job, err := tracker.Submit(context.Background(), testApp, SubmitRequest{
		Queue: "emails", Data: json.RawMessage(`{}`), Delay: 1000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != domain.JobDelayed {
		t.Fatalf("expected delayed status, got %s", job.Status)
	}
}

func TestTrackerGetEnforcesApplicationOwnership(t *testing.T) {
	ctx := context.Background()
	tracker, _, mr := newTestTracker(t)
	defer mr.Close()

	job, err := tracker.Submit(ctx, testApp, SubmitRequest{Queue: "emails", Data: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}

	other := &domain.Application{ID: "someone-else"}
	_, err = tracker.Get(ctx, other, job.ID)
	if err != domain.ErrAccessDenied {
		t.Fatalf("expected access denied for a foreign application, got %v", err)
	}

	master := domain.NewMasterApplication()
	got, err := tracker.Get(ctx, master, job.ID)
	if err != nil {
		t.Fatalf("expected master to see any job, got %v", err)
	}
	if got.ID != job.ID {
		t.Fatalf("expected job %s, got %s", job.ID, got.ID)
	}
}

func TestTrackerUpdateRejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	tracker, _, mr := newTestTracker(t)
	defer mr.Close()

	job, err := tracker.Submit(ctx, testApp, SubmitRequest{Queue: "emails", Data: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}

	_, err = tracker.Update(ctx, testApp, job.ID, domain.JobUpdate{Status: domain.JobCompleted})
	if domain.CodeOf(err) != domain.CodeConflict {
		t.Fatalf("expected CONFLICT transitioning waiting -> completed directly, got %v", err)
	}
}

func TestTrackerUpdateAppliesLegalTransitionAndNotifies(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	tracker, _, mr := newTestTracker(t, sink)
	defer mr.Close()

	job, err := tracker.Submit(ctx, testApp, SubmitRequest{Queue: "emails", Data: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := tracker.Update(ctx, testApp, job.ID, domain.JobUpdate{Status: domain.JobActive})
	if err != nil {
		t.Fatal(err)
	}
	if updated.StartedAt == nil {
		t.Fatal("expected StartedAt to be set on active transition")
	}

	progress := 50
	updated, err = tracker.Update(ctx, testApp, job.ID, domain.JobUpdate{Status: domain.JobActive, Progress: &progress})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Progress != 50 {
		t.Fatalf("expected progress 50, got %d", updated.Progress)
	}

	updated, err = tracker.Update(ctx, testApp, job.ID, domain.JobUpdate{Status: domain.JobCompleted, Result: json.RawMessage(`{"messageId":"m1"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if updated.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
	if !updated.IsTerminal() {
		t.Fatal("expected job to be terminal")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	want := []domain.EventType{domain.EventCreated, domain.EventStarted, domain.EventStarted, domain.EventComplete}
	if len(sink.events) != len(want) {
		t.Fatalf("expected events %v, got %v", want, sink.events)
	}
	for i, e := range want {
		if sink.events[i] != e {
			t.Fatalf("expected event[%d]=%s, got %s", i, e, sink.events[i])
		}
	}
}

func TestTrackerUpdateRejectsOutOfRangeProgress(t *testing.T) {
	ctx := context.Background()
	tracker, _, mr := newTestTracker(t)
	defer mr.Close()

	job, err := tracker.Submit(ctx, testApp, SubmitRequest{Queue: "emails", Data: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	progress := 150
	_, err = tracker.Update(ctx, testApp, job.ID, domain.JobUpdate{Status: domain.JobActive, Progress: &progress})
	if domain.CodeOf(err) != domain.CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR for out-of-range progress, got %v", err)
	}
}

func TestTrackerUpdateRejectsCompletedWithoutResult(t *testing.T) {
	ctx := context.Background()
	tracker, _, mr := newTestTracker(t)
	defer mr.Close()

	job, err := tracker.Submit(ctx, testApp, SubmitRequest{Queue: "emails", Data: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.Update(ctx, testApp, job.ID, domain.JobUpdate{Status: domain.JobActive}); err != nil {
		t.Fatal(err)
	}
	_, err = tracker.Update(ctx, testApp, job.ID, domain.JobUpdate{Status: domain.JobCompleted})
	if domain.CodeOf(err) != domain.CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR completing without a result, got %v", err)
	}
}

func TestTrackerUpdateRejectsFailedWithoutError(t *testing.T) {
	ctx := context.Background()
	tracker, _, mr := newTestTracker(t)
	defer mr.Close()

	job, err := tracker.Submit(ctx, testApp, SubmitRequest{Queue: "emails", Data: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tracker.Update(ctx, testApp, job.ID, domain.JobUpdate{Status: domain.JobActive}); err != nil {
		t.Fatal(err)
	}
	_, err = tracker.Update(ctx, testApp, job.ID, domain.JobUpdate{Status: domain.JobFailed})
	if domain.CodeOf(err) != domain.CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR failing without an error message, got %v", err)
	}
}

func TestTrackerListFiltersByMetadata(t *testing.T) {
	ctx := context.Background()
	tracker, _, mr := newTestTracker(t)
	defer mr.Close()

	_, err := tracker.Submit(ctx, testApp, SubmitRequest{
		Queue: "emails", Data: json.RawMessage(`{}`), Metadata: map[string]interface{}{"tenant": "acme"},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = tracker.Submit(ctx, testApp, SubmitRequest{
		Queue: "emails", Data: json.RawMessage(`{}`), Metadata: map[string]interface{}{"tenant": "globex"},
	})
	if err != nil {
		t.Fatal(err)
	}

	jobs, err := tracker.List(ctx, testApp, ListOptions{Metadata: map[string]string{"tenant": "acme"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job matching tenant=acme, got %d", len(jobs))
	}
}

func TestTrackerRegisterWebhook(t *testing.T) {
	ctx := context.Background()
	tracker, _, mr := newTestTracker(t)
	defer mr.Close()

	job, err := tracker.Submit(ctx, testApp, SubmitRequest{Queue: "emails", Data: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatal(err)
	}
	if err := tracker.RegisterWebhook(ctx, testApp, job.ID, domain.EventComplete, "https://example.com/hook"); err != nil {
		t.Fatal(err)
	}
	got, err := tracker.Get(ctx, testApp, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Webhooks[string(domain.EventComplete)] != "https://example.com/hook" {
		t.Fatalf("expected webhook registered, got %v", got.Webhooks)
	}
}
