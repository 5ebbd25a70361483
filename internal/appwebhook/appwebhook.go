// Copyright 2025 James Ross

// Package appwebhook implements the durable half of spec §4.4: application-
// scoped webhooks with HMAC-SHA256 signing, exponential backoff with
// jitter, and self-quarantine after sustained failures. Directly adapted
// from event-hooks/webhook.go's WebhookSubscriber/WebhookDeliverer,
// retargeted at MetadataStore-persisted ApplicationWebhook records instead
// of in-process WebhookSubscription objects, and wrapped with the
// teacher's breaker package so a dead target host cannot starve the shared
// delivery pool.
package appwebhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/flyingrobots/jobbroker/internal/breaker"
	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/metadatastore"
	"github.com/flyingrobots/jobbroker/internal/obs"
)

// DefaultTimeout is the spec §4.4 default for application webhooks.
const DefaultTimeout = 30 * time.Second

const maxBackoff = 60 * time.Second

// Dispatcher delivers application-webhook notifications for every job
// transition matching a webhook's queue/event filter (spec §4.4).
type Dispatcher struct {
	store  metadatastore.Store
	client *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*breaker.CircuitBreaker
	limiters map[string]*rate.Limiter

	breakerCfg breakerConfig
	limiterCfg limiterConfig
}

type breakerConfig struct {
	window           time.Duration
	cooldown         time.Duration
	failureThreshold float64
	minSamples       int
}

// limiterConfig tunes the per-target token bucket that paces deliveries to a
// single webhook URL, independent of the breaker and independent of every
// other target's bucket.
type limiterConfig struct {
	ratePerSecond float64
	burst         int
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBreaker overrides the per-target circuit breaker's tuning.
func WithBreaker(window, cooldown time.Duration, failureThreshold float64, minSamples int) Option {
	return func(d *Dispatcher) {
		d.breakerCfg = breakerConfig{window: window, cooldown: cooldown, failureThreshold: failureThreshold, minSamples: minSamples}
	}
}

// WithRateLimit overrides the per-target token bucket's rate and burst.
func WithRateLimit(ratePerSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		d.limiterCfg = limiterConfig{ratePerSecond: ratePerSecond, burst: burst}
	}
}

// New returns a Dispatcher backed by store for webhook persistence.
func New(store metadatastore.Store, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		store:    store,
		client:   &http.Client{Timeout: DefaultTimeout},
		logger:   logger,
		breakers: make(map[string]*breaker.CircuitBreaker),
		limiters: make(map[string]*rate.Limiter),
		breakerCfg: breakerConfig{
			window: time.Minute, cooldown: 30 * time.Second, failureThreshold: 0.5, minSamples: 10,
		},
		limiterCfg: limiterConfig{ratePerSecond: 5, burst: 5},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) breakerFor(url string) *breaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.breakers[url]
	if !ok {
		cb = breaker.New(d.breakerCfg.window, d.breakerCfg.cooldown, d.breakerCfg.failureThreshold, d.breakerCfg.minSamples)
		d.breakers[url] = cb
	}
	return cb
}

func (d *Dispatcher) limiterFor(url string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[url]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(d.limiterCfg.ratePerSecond), d.limiterCfg.burst)
		d.limiters[url] = lim
	}
	return lim
}

// Dispatch loads the active application webhooks for job's owner and
// delivers the matching ones in parallel, each on its own background
// goroutine (spec §5 "fan-out across multiple webhooks ... is unordered and
// parallel").
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.EventType, job *domain.Job) {
	hooks, err := d.store.ListWebhooksByApplication(ctx, job.ApplicationID)
	if err != nil {
		d.logger.Warn("appwebhook list failed", obs.String("application", job.ApplicationID), obs.Err(err))
		return
	}
	for _, wh := range hooks {
		if !wh.Active || !wh.MatchesEvent(event) || !wh.MatchesQueue(job.Queue) {
			continue
		}
		go d.deliver(context.Background(), wh, event, job)
	}
}

type webhookBody struct {
	JobID     string          `json:"jobId"`
	Status    domain.JobStatus `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Progress  *int            `json:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (d *Dispatcher) deliver(ctx context.Context, wh *domain.ApplicationWebhook, event domain.EventType, job *domain.Job) {
	body := webhookBody{JobID: job.ID, Status: job.Status, Timestamp: time.Now().UTC(), Error: job.Error, Result: job.Result}
	if job.Status == domain.JobActive {
		p := job.Progress
		body.Progress = &p
	}
	payload, err := json.Marshal(body)
	if err != nil {
		d.logger.Error("appwebhook marshal failed", obs.String("webhook", wh.ID), obs.Err(err))
		return
	}

	maxAttempts := wh.RetryConfig.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	cb := d.breakerFor(wh.URL)
	limiter := d.limiterFor(wh.URL)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !cb.Allow() {
			d.logger.Warn("appwebhook breaker open, skipping attempt", obs.String("webhook", wh.ID))
			obs.WebhookDeliveries.WithLabelValues("application", "breaker_open").Inc()
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			d.logger.Warn("appwebhook rate limiter wait failed", obs.String("webhook", wh.ID), obs.Err(err))
			return
		}

		status, retryable, err := d.attempt(ctx, wh, event, payload, attempt)
		cb.Record(err == nil)
		if err == nil {
			d.recordSuccess(ctx, wh)
			obs.WebhookDeliveries.WithLabelValues("application", "success").Inc()
			return
		}
		if !retryable {
			d.recordFailure(ctx, wh)
			obs.WebhookDeliveries.WithLabelValues("application", "client_error").Inc()
			d.logger.Warn("appwebhook non-retryable failure", obs.String("webhook", wh.ID), obs.Int("status", status), obs.Err(err))
			return
		}
		obs.WebhookDeliveries.WithLabelValues("application", "server_error").Inc()
		if attempt == maxAttempts {
			d.recordFailure(ctx, wh)
			d.logger.Warn("appwebhook retries exhausted", obs.String("webhook", wh.ID), obs.Err(err))
			return
		}
		time.Sleep(backoffDelay(wh.RetryConfig, attempt))
	}
}

// backoffDelay implements spec §4.4: delay_n = min(initialDelay *
// multiplier^(n-1) + jitter, 60s), jitter in [0, 0.1*delay].
func backoffDelay(cfg domain.RetryConfig, attempt int) time.Duration {
	initial := cfg.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	mult := cfg.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	delay := float64(initial) * pow(mult, attempt-1)
	jitter := rand.Float64() * 0.1 * delay
	total := time.Duration(delay + jitter)
	if total > maxBackoff {
		total = maxBackoff
	}
	return total
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// attempt performs one HTTP delivery, returning the status code (0 on
// transport error), whether the failure is retryable, and an error when the
// delivery did not succeed.
func (d *Dispatcher) attempt(ctx context.Context, wh *domain.ApplicationWebhook, event domain.EventType, payload []byte, attemptN int) (int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "jobbroker-webhook/1.0")
	req.Header.Set("X-Webhook-Event", string(event))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Webhook-Attempt", strconv.Itoa(attemptN))
	if wh.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(payload, wh.Secret))
	}
	for _, h := range wh.Headers {
		req.Header.Set(h.Key, h.Value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, true, err
	}
	defer resp.Body.Close()
	_, _ = io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, false, nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return resp.StatusCode, false, fmt.Errorf("client error: HTTP %d", resp.StatusCode)
	}
	return resp.StatusCode, true, fmt.Errorf("server error: HTTP %d", resp.StatusCode)
}

// Test performs a single synchronous delivery attempt against wh using a
// synthetic payload, for the "send a test event" control-plane operation
// (spec §6 "POST /api/webhooks/{id}/test"). It does not affect
// failureCount/quarantine bookkeeping.
func (d *Dispatcher) Test(ctx context.Context, wh *domain.ApplicationWebhook) error {
	body := webhookBody{JobID: "test", Status: domain.JobCompleted, Timestamp: time.Now().UTC()}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	_, _, err = d.attempt(ctx, wh, domain.EventWildcard, payload, 1)
	return err
}

// Sign computes the HMAC-SHA256 signature of payload keyed by secret, used
// both for outbound signing and for verification in tests (spec §8
// "signature round-trip").
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return fmt.Sprintf("sha256=%x", h.Sum(nil))
}

// Verify reports whether signature matches the HMAC-SHA256 of payload keyed
// by secret.
func Verify(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

func (d *Dispatcher) recordSuccess(ctx context.Context, wh *domain.ApplicationWebhook) {
	fresh, err := d.store.GetWebhook(ctx, wh.ID)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	fresh.FailureCount = 0
	fresh.LastTriggeredAt = &now
	fresh.UpdatedAt = now
	if err := d.store.PutWebhook(ctx, fresh); err != nil {
		d.logger.Warn("appwebhook success bookkeeping failed", obs.String("webhook", wh.ID), obs.Err(err))
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, wh *domain.ApplicationWebhook) {
	fresh, err := d.store.GetWebhook(ctx, wh.ID)
	if err != nil {
		return
	}
	fresh.FailureCount++
	fresh.UpdatedAt = time.Now().UTC()
	if fresh.FailureCount >= domain.QuarantineThreshold {
		fresh.Active = false
		obs.WebhookQuarantined.Inc()
		d.logger.Warn("application webhook quarantined", obs.String("webhook", wh.ID), obs.Int("failures", fresh.FailureCount))
	}
	if err := d.store.PutWebhook(ctx, fresh); err != nil {
		d.logger.Warn("appwebhook failure bookkeeping failed", obs.String("webhook", wh.ID), obs.Err(err))
	}
}
