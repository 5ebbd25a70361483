// Copyright 2025 James Ross

// Package subscription implements the Subscription Engine (spec §4.5):
// evaluating application-scoped event filters against every job transition
// and delivering matching events to HTTP (or NATS) endpoints with linear
// backoff retry. Grounded on event-hooks/event-hooks.go's EventBus +
// EventFilter.Matches, generalized from priority/queue filters to the
// spec's queue+status+metadata predicate, and domain.Subscription.Matches
// carries the actual matching algorithm.
package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/metadatastore"
	"github.com/flyingrobots/jobbroker/internal/obs"
)

// DefaultTimeout is the spec §4.5 delivery timeout.
const DefaultTimeout = 30 * time.Second

// Engine evaluates subscriptions against job transitions and fans out
// deliveries (spec §4.5).
type Engine struct {
	store  metadatastore.Store
	client *http.Client
	logger *zap.Logger
	nats   *nats.Conn // optional, set by WithNATSConn (never dialed here); used by subscriptions with transport: nats
}

// New returns an Engine backed by store.
func New(store metadatastore.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, client: &http.Client{Timeout: DefaultTimeout}, logger: logger}
}

// WithNATSConn wires an already-connected NATS connection used by
// subscriptions configured with transport "nats" (spec supplement §5.3: the
// teacher's optional NATS transport kept as an alternate delivery backend).
func (e *Engine) WithNATSConn(conn *nats.Conn) *Engine {
	e.nats = conn
	return e
}

// Dispatch implements the Job Tracker's jobtracker.EventSink interface:
// matching algorithm (spec §4.5 step 1-2) then fan-out (step 3).
func (e *Engine) Dispatch(ctx context.Context, event domain.EventType, job *domain.Job) {
	subs, err := e.store.ListSubscriptionsByApplication(ctx, job.ApplicationID)
	if err != nil {
		e.logger.Warn("subscription list failed", obs.String("application", job.ApplicationID), obs.Err(err))
		return
	}
	for _, sub := range subs {
		if !sub.Active || !sub.Matches(event, job) {
			continue
		}
		go e.deliver(context.Background(), sub, event, job)
	}
}

type eventEnvelope struct {
	Subscription subRef          `json:"subscription"`
	Event        eventRef        `json:"event"`
	Job          jobRef          `json:"job"`
}

type subRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type eventRef struct {
	Type      domain.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
}

type jobRef struct {
	ID       string                 `json:"id"`
	Queue    string                 `json:"queue"`
	Status   domain.JobStatus       `json:"status"`
	Data     json.RawMessage        `json:"data"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Result   json.RawMessage        `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Progress *int                   `json:"progress,omitempty"`
}

func (e *Engine) deliver(ctx context.Context, sub *domain.Subscription, event domain.EventType, job *domain.Job) {
	env := eventEnvelope{
		Subscription: subRef{ID: sub.ID, Name: sub.Name},
		Event:        eventRef{Type: event, Timestamp: time.Now().UTC()},
		Job: jobRef{
			ID: job.ID, Queue: job.Queue, Status: job.Status, Data: job.Data,
			Metadata: job.Metadata, Result: job.Result, Error: job.Error,
		},
	}
	if job.Status == domain.JobActive {
		p := job.Progress
		env.Job.Progress = &p
	}
	payload, err := json.Marshal(env)
	if err != nil {
		e.logger.Error("subscription marshal failed", obs.String("subscription", sub.ID), obs.Err(err))
		return
	}

	maxAttempts := sub.RetryConfig.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoffMs := sub.RetryConfig.BackoffMs
	if backoffMs <= 0 {
		backoffMs = 1000
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if sub.Transport == domain.TransportNATS {
			lastErr = e.publishNATS(sub, event, payload)
		} else {
			lastErr = e.postHTTP(ctx, sub, event, job, payload)
		}
		if lastErr == nil {
			e.recordSuccess(ctx, sub)
			obs.SubscriptionDispatches.WithLabelValues("success").Inc()
			return
		}
		if attempt < maxAttempts {
			// linear backoff, spec §4.5: "wait backoffMs * attempt"
			time.Sleep(time.Duration(backoffMs*attempt) * time.Millisecond)
		}
	}

	obs.SubscriptionDispatches.WithLabelValues("failed").Inc()
	e.logger.Warn("subscription delivery exhausted retries",
		obs.String("subscription", sub.ID), obs.String("job", job.ID), obs.Err(lastErr))
	// spec §4.5 "on final failure, log ... do not auto-disable"; triggerCount
	// is intentionally left untouched per spec §8 "if all attempts fail,
	// triggerCount is not incremented".
}

// Test performs a single synchronous delivery attempt against sub using a
// synthetic job, for the "send a test event" control-plane operation (spec
// §6 "POST /api/subscriptions/{id}/test"). It does not affect triggerCount.
func (e *Engine) Test(ctx context.Context, sub *domain.Subscription) error {
	job := &domain.Job{ID: "test", Queue: "test", Status: domain.JobCompleted, ApplicationID: sub.ApplicationID}
	if sub.Transport == domain.TransportNATS {
		env := eventEnvelope{Subscription: subRef{ID: sub.ID, Name: sub.Name}, Event: eventRef{Type: domain.EventWildcard, Timestamp: time.Now().UTC()}, Job: jobRef{ID: job.ID, Queue: job.Queue, Status: job.Status}}
		payload, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return e.publishNATS(sub, domain.EventWildcard, payload)
	}
	env := eventEnvelope{Subscription: subRef{ID: sub.ID, Name: sub.Name}, Event: eventRef{Type: domain.EventWildcard, Timestamp: time.Now().UTC()}, Job: jobRef{ID: job.ID, Queue: job.Queue, Status: job.Status}}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return e.postHTTP(ctx, sub, domain.EventWildcard, job, payload)
}

func (e *Engine) postHTTP(ctx context.Context, sub *domain.Subscription, event domain.EventType, job *domain.Job, payload []byte) error {
	method := sub.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, sub.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Subscription-Id", sub.ID)
	req.Header.Set("X-Job-Id", job.ID)
	req.Header.Set("X-Job-Status", string(job.Status))
	req.Header.Set("X-Application-Id", sub.ApplicationID)
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscription endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (e *Engine) publishNATS(sub *domain.Subscription, event domain.EventType, payload []byte) error {
	if e.nats == nil {
		return fmt.Errorf("subscription %s configured for nats transport but no connection is wired", sub.ID)
	}
	subject := fmt.Sprintf("jobbroker.events.%s.%s", sub.ApplicationID, event)
	return e.nats.Publish(subject, payload)
}

func (e *Engine) recordSuccess(ctx context.Context, sub *domain.Subscription) {
	fresh, err := e.store.GetSubscription(ctx, sub.ID)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	fresh.TriggerCount++
	fresh.LastTriggeredAt = &now
	fresh.UpdatedAt = now
	if err := e.store.PutSubscription(ctx, fresh); err != nil {
		e.logger.Warn("subscription success bookkeeping failed", obs.String("subscription", sub.ID), obs.Err(err))
	}
}
