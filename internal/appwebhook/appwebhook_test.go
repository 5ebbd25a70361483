// Copyright 2025 James Ross
package appwebhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/metadatastore"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"jobId":"abc"}`)
	sig := Sign(payload, "secret")
	if !Verify(payload, sig, "secret") {
		t.Fatal("expected signature to verify with the same secret")
	}
	if Verify(payload, sig, "wrong-secret") {
		t.Fatal("expected signature to fail verification with a different secret")
	}
	if Verify([]byte(`{"jobId":"tampered"}`), sig, "secret") {
		t.Fatal("expected signature to fail verification against a tampered payload")
	}
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	cfg := domain.RetryConfig{InitialDelay: 30 * time.Second, BackoffMultiplier: 10}
	d := backoffDelay(cfg, 5)
	if d > maxBackoff {
		t.Fatalf("expected backoff capped at %v, got %v", maxBackoff, d)
	}
}

func TestBackoffDelayGrowsWithAttempt(t *testing.T) {
	cfg := domain.RetryConfig{InitialDelay: time.Second, BackoffMultiplier: 2}
	first := backoffDelay(cfg, 1)
	third := backoffDelay(cfg, 3)
	if third <= first {
		t.Fatalf("expected backoff to grow with attempt number: first=%v third=%v", first, third)
	}
}

func TestDispatcherTestDeliversSynchronously(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(metadatastore.NewMemory(), zap.NewNop())
	wh := &domain.ApplicationWebhook{ID: "wh-1", URL: srv.URL, Secret: "sekrit"}
	if err := d.Test(context.Background(), wh); err != nil {
		t.Fatal(err)
	}

	select {
	case sig := <-received:
		if sig == "" {
			t.Fatal("expected a non-empty signature header")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for webhook delivery")
	}
}

func TestDispatcherTestReturnsErrorOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := New(metadatastore.NewMemory(), zap.NewNop())
	wh := &domain.ApplicationWebhook{ID: "wh-1", URL: srv.URL}
	if err := d.Test(context.Background(), wh); err == nil {
		t.Fatal("expected an error for a 400 response")
	}
}

func TestBreakerForIsStablePerURL(t *testing.T) {
	d := New(metadatastore.NewMemory(), zap.NewNop())
	a := d.breakerFor("https://a.example.com/hook")
	b := d.breakerFor("https://a.example.com/hook")
	c := d.breakerFor("https://b.example.com/hook")
	if a != b {
		t.Fatal("expected the same breaker instance for the same URL")
	}
	if a == c {
		t.Fatal("expected distinct breaker instances for distinct URLs")
	}
}

func TestLimiterForIsStablePerURL(t *testing.T) {
	d := New(metadatastore.NewMemory(), zap.NewNop())
	a := d.limiterFor("https://a.example.com/hook")
	b := d.limiterFor("https://a.example.com/hook")
	c := d.limiterFor("https://b.example.com/hook")
	if a != b {
		t.Fatal("expected the same limiter instance for the same URL")
	}
	if a == c {
		t.Fatal("expected distinct limiter instances for distinct URLs")
	}
}

func TestDispatchThrottlesDeliveriesPerTarget(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	meta := metadatastore.NewMemory()
	now := time.Now().UTC()
	wh := &domain.ApplicationWebhook{
		ID: "wh-1", ApplicationID: "app-1", URL: srv.URL, Active: true,
		Events: []domain.EventType{domain.EventWildcard}, CreatedAt: now, UpdatedAt: now,
	}
	if err := meta.PutWebhook(context.Background(), wh); err != nil {
		t.Fatal(err)
	}

	d := New(meta, zap.NewNop(), WithRateLimit(1000, 2))
	job := &domain.Job{ID: "job-1", ApplicationID: "app-1", Queue: "emails", Status: domain.JobCompleted}
	for i := 0; i < 4; i++ {
		d.Dispatch(context.Background(), domain.EventComplete, job)
	}

	deadline := time.After(2 * time.Second)
	for {
		if atomic.LoadInt32(&count) >= 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 4 deliveries to eventually land, got %d", atomic.LoadInt32(&count))
		case <-time.After(10 * time.Millisecond):
		}
	}
}
