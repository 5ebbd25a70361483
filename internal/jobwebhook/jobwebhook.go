// Copyright 2025 James Ross

// Package jobwebhook implements the ephemeral half of spec §4.4: per-job
// webhooks registered at submit time (or via registerWebhook), addressed by
// (jobId, event), unsigned, with a short timeout and a small best-effort
// retry. Durable, signed, application-scoped webhooks are a separate
// collaborator (internal/appwebhook) -- the two are kept apart per the
// spec's design note that the source's overlapping terminology must not be
// merged into one code path.
package jobwebhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/obs"
)

// DefaultTimeout is the spec §4.4 default for per-job webhooks.
const DefaultTimeout = 5 * time.Second

// maxAttempts bounds the best-effort retry for a per-job delivery. Per-job
// webhooks have no durable failure bookkeeping (no failureCount, no
// quarantine -- that belongs to the application webhook), so retries are
// capped low and failures are simply logged.
const maxAttempts = 2

// Dispatcher delivers per-job webhook notifications (spec §4.4 "Webhook
// resolution: first match of webhooks[status], else webhooks['*']").
// Grounded on event-hooks/webhook.go's WebhookSubscriber.ProcessEvent,
// stripped of signing/rate-limiting/health tracking.
type Dispatcher struct {
	client *http.Client
	logger *zap.Logger
	pool   chan struct{}
}

// New returns a Dispatcher bounding in-flight deliveries to concurrency.
func New(logger *zap.Logger, concurrency int) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 32
	}
	return &Dispatcher{
		client: &http.Client{Timeout: DefaultTimeout},
		logger: logger,
		pool:   make(chan struct{}, concurrency),
	}
}

type payload struct {
	JobID     string          `json:"jobId"`
	Status    domain.JobStatus `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Progress  *int            `json:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Dispatch resolves and delivers the webhook for job's current event, if
// any is registered. Delivery runs on a background goroutine so the caller
// (Job Tracker) never blocks the HTTP response on network I/O (spec §4.3).
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.EventType, job *domain.Job) {
	url, ok := resolve(job.Webhooks, event)
	if !ok {
		return
	}
	body := payload{
		JobID:     job.ID,
		Status:    job.Status,
		Timestamp: time.Now().UTC(),
		Error:     job.Error,
		Result:    job.Result,
	}
	if job.Status == domain.JobActive {
		p := job.Progress
		body.Progress = &p
	}

	go d.deliver(context.Background(), url, event, body)
}

func resolve(webhooks map[string]string, event domain.EventType) (string, bool) {
	if webhooks == nil {
		return "", false
	}
	if url, ok := webhooks[string(event)]; ok && url != "" {
		return url, true
	}
	if url, ok := webhooks[string(domain.EventWildcard)]; ok && url != "" {
		return url, true
	}
	return "", false
}

func (d *Dispatcher) deliver(ctx context.Context, url string, event domain.EventType, body payload) {
	select {
	case d.pool <- struct{}{}:
		defer func() { <-d.pool }()
	case <-ctx.Done():
		return
	}

	b, err := json.Marshal(body)
	if err != nil {
		d.logger.Error("jobwebhook marshal failed", obs.String("job", body.JobID), obs.Err(err))
		return
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			lastErr = err
			break
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Job-Id", body.JobID)
		req.Header.Set("X-Job-Status", string(body.Status))

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			obs.WebhookDeliveries.WithLabelValues("job", "transport_error").Inc()
			time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			obs.WebhookDeliveries.WithLabelValues("job", "success").Inc()
			return
		}
		lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			obs.WebhookDeliveries.WithLabelValues("job", "client_error").Inc()
			break
		}
		obs.WebhookDeliveries.WithLabelValues("job", "server_error").Inc()
		time.Sleep(time.Duration(attempt) * 200 * time.Millisecond)
	}

	d.logger.Warn("per-job webhook delivery failed",
		obs.String("job", body.JobID), obs.String("event", string(event)), obs.Err(lastErr))
}
