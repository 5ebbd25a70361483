// Copyright 2025 James Ross
package obs

import (
    "fmt"
    "net/http"

    "github.com/flyingrobots/jobbroker/internal/config"
    "github.com/prometheus/client_golang/prometheus"
    promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Name: "queue_length",
        Help: "Current length of a queue (waiting + active + delayed)",
    }, []string{"queue"})
    CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Name: "circuit_breaker_state",
        Help: "0 Closed, 1 HalfOpen, 2 Open",
    }, []string{"target"})
    CircuitBreakerTrips = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "circuit_breaker_trips_total",
        Help: "Count of times a circuit breaker transitioned to Open",
    }, []string{"target"})
    ReaperRecovered = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "reaper_recovered_total",
        Help: "Total number of jobs recovered by the reaper from stale active lists",
    })

    JobsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "broker_jobs_submitted_total",
        Help: "Total number of jobs submitted through the control plane",
    }, []string{"application", "queue"})
    JobsUpdated = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "broker_job_updates_total",
        Help: "Total number of job status updates accepted",
    }, []string{"status"})
    WebhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "broker_webhook_deliveries_total",
        Help: "Webhook delivery attempts by kind and outcome",
    }, []string{"kind", "outcome"})
    WebhookQuarantined = prometheus.NewCounter(prometheus.CounterOpts{
        Name: "broker_webhooks_quarantined_total",
        Help: "Total number of application webhooks auto-quarantined after repeated failures",
    })
    SubscriptionDispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "broker_subscription_dispatches_total",
        Help: "Subscription fan-out dispatch attempts by outcome",
    }, []string{"outcome"})
    ScheduleExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Name: "broker_schedule_executions_total",
        Help: "Schedule executions by outcome",
    }, []string{"outcome"})
)

func init() {
    prometheus.MustRegister(QueueLength, CircuitBreakerState, CircuitBreakerTrips, ReaperRecovered,
        JobsSubmitted, JobsUpdated, WebhookDeliveries, WebhookQuarantined, SubscriptionDispatches, ScheduleExecutions)
}

// StartMetricsServer exposes /metrics and returns a server for controlled shutdown.
// StartMetricsServer is retained for compatibility but consider using StartHTTPServer
// which also registers health endpoints.
func StartMetricsServer(cfg *config.Config) *http.Server {
    mux := http.NewServeMux()
    mux.Handle("/metrics", promhttp.Handler())
    srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
    go func() { _ = srv.ListenAndServe() }()
    return srv
}
