// Copyright 2025 James Ross

// Package httpapi is the thin HTTP surface (spec §6): gorilla/mux routing,
// a middleware chain mirroring admin-api/server.go's
// (RequestID/Recovery/RateLimit/Auth), and per-entity handlers that
// translate requests into internal/jobtracker, internal/queuemanager,
// internal/scheduler, and internal/metadatastore calls. Everything here is
// a thin translation layer; the domain logic lives in those packages.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/flyingrobots/jobbroker/internal/appwebhook"
	"github.com/flyingrobots/jobbroker/internal/audit"
	"github.com/flyingrobots/jobbroker/internal/authresolver"
	"github.com/flyingrobots/jobbroker/internal/config"
	"github.com/flyingrobots/jobbroker/internal/jobtracker"
	"github.com/flyingrobots/jobbroker/internal/metadatastore"
	"github.com/flyingrobots/jobbroker/internal/queuemanager"
	"github.com/flyingrobots/jobbroker/internal/redisstore"
	"github.com/flyingrobots/jobbroker/internal/scheduler"
	"github.com/flyingrobots/jobbroker/internal/subscription"
)

// Server wires the HTTP surface to the core engine's components.
type Server struct {
	cfg         *config.Config
	tracker     *jobtracker.Tracker
	qmgr        *queuemanager.Manager
	meta        metadatastore.Store
	sched       *scheduler.Scheduler
	appwebhooks *appwebhook.Dispatcher
	subs        *subscription.Engine
	resolver    authresolver.Resolver
	store       *redisstore.Store
	logger      *zap.Logger
	startedAt   time.Time
	audit       *audit.Logger
}

// WithAudit attaches an audit.Logger that records master-scoped destructive
// operations (spec §5 supplement). Returns s for chaining; safe to call
// with nil to leave auditing disabled.
func (s *Server) WithAudit(l *audit.Logger) *Server {
	s.audit = l
	return s
}

// auditLog records a destructive admin action if an audit.Logger is
// attached; a no-op otherwise so callers don't need a nil check.
func (s *Server) auditLog(r *http.Request, action, resource, result string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	actor := "unknown"
	if app := applicationFrom(r); app != nil {
		actor = app.ID
	}
	if err := s.audit.Log(audit.Entry{
		Timestamp: time.Now().UTC(), Actor: actor, Action: action, Resource: resource, Result: result, Details: details,
	}); err != nil {
		s.logger.Warn("audit log write failed", zap.Error(err))
	}
}

// NewServer returns a Server ready to build a router via Router().
func NewServer(cfg *config.Config, tracker *jobtracker.Tracker, qmgr *queuemanager.Manager, meta metadatastore.Store,
	sched *scheduler.Scheduler, webhooks *appwebhook.Dispatcher, subs *subscription.Engine, resolver authresolver.Resolver, store *redisstore.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg: cfg, tracker: tracker, qmgr: qmgr, meta: meta, sched: sched,
		appwebhooks: webhooks, subs: subs, resolver: resolver, store: store, logger: logger, startedAt: time.Now(),
	}
}

// Router builds the full *mux.Router for the HTTP surface (spec §6
// endpoint table).
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/openapi.yaml", s.handleOpenAPI).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(authMiddleware(s.resolver))

	api.HandleFunc("/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleUpdateJob).Methods(http.MethodPut)
	api.HandleFunc("/jobs/{id}/webhook", s.handleRegisterJobWebhook).Methods(http.MethodPost)

	api.HandleFunc("/queues", s.handleListQueues).Methods(http.MethodGet)
	api.HandleFunc("/queues", s.handleCreateQueue).Methods(http.MethodPost)
	api.HandleFunc("/queues/stats", s.handleQueuesStats).Methods(http.MethodGet)
	api.HandleFunc("/queues/{name}/stats", s.handleQueueStats).Methods(http.MethodGet)
	api.HandleFunc("/queues/{name}/pause", s.requireMaster(s.handleQueuePause)).Methods(http.MethodPost)
	api.HandleFunc("/queues/{name}/resume", s.requireMaster(s.handleQueueResume)).Methods(http.MethodPost)
	api.HandleFunc("/queues/{name}/clean", s.requireMaster(s.handleQueueClean)).Methods(http.MethodPost)

	api.HandleFunc("/applications", s.requireMaster(s.handleCreateApplication)).Methods(http.MethodPost)
	api.HandleFunc("/applications", s.requireMaster(s.handleListApplications)).Methods(http.MethodGet)
	api.HandleFunc("/applications/{id}", s.requireMaster(s.handleGetApplication)).Methods(http.MethodGet)
	api.HandleFunc("/applications/{id}", s.requireMaster(s.handlePatchApplication)).Methods(http.MethodPatch)
	api.HandleFunc("/applications/{id}", s.requireMaster(s.handleDeleteApplication)).Methods(http.MethodDelete)

	api.HandleFunc("/subscriptions", s.handleCreateSubscription).Methods(http.MethodPost)
	api.HandleFunc("/subscriptions", s.handleListSubscriptions).Methods(http.MethodGet)
	api.HandleFunc("/subscriptions/{id}", s.handleGetSubscription).Methods(http.MethodGet)
	api.HandleFunc("/subscriptions/{id}", s.handleUpdateSubscription).Methods(http.MethodPut)
	api.HandleFunc("/subscriptions/{id}", s.handleDeleteSubscription).Methods(http.MethodDelete)
	api.HandleFunc("/subscriptions/{id}/test", s.handleTestSubscription).Methods(http.MethodPost)

	api.HandleFunc("/webhooks", s.handleCreateWebhook).Methods(http.MethodPost)
	api.HandleFunc("/webhooks", s.handleListWebhooks).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/{id}", s.handleGetWebhook).Methods(http.MethodGet)
	api.HandleFunc("/webhooks/{id}", s.handlePatchWebhook).Methods(http.MethodPatch)
	api.HandleFunc("/webhooks/{id}", s.handleDeleteWebhook).Methods(http.MethodDelete)
	api.HandleFunc("/webhooks/{id}/test", s.handleTestWebhook).Methods(http.MethodPost)
	api.HandleFunc("/webhooks/{id}/regenerate-secret", s.handleRegenerateSecret).Methods(http.MethodPost)

	api.HandleFunc("/schedules", s.requireMaster(s.handleCreateSchedule)).Methods(http.MethodPost)
	api.HandleFunc("/schedules", s.requireMaster(s.handleListSchedules)).Methods(http.MethodGet)
	api.HandleFunc("/schedules/{id}", s.requireMaster(s.handleGetSchedule)).Methods(http.MethodGet)
	api.HandleFunc("/schedules/{id}", s.requireMaster(s.handleUpdateSchedule)).Methods(http.MethodPut)
	api.HandleFunc("/schedules/{id}", s.requireMaster(s.handleDeleteSchedule)).Methods(http.MethodDelete)
	api.HandleFunc("/schedules/{id}/toggle", s.requireMaster(s.handleToggleSchedule)).Methods(http.MethodPatch)
	api.HandleFunc("/schedules/{id}/execute", s.requireMaster(s.handleExecuteSchedule)).Methods(http.MethodPost)

	var handler http.Handler = r
	handler = recoveryMiddleware(s.logger)(handler)
	handler = requestIDMiddleware(handler)
	handler = rateLimitMiddleware(s.cfg.HTTP.RateLimitWindow, s.cfg.HTTP.RateLimitMaxRequests)(handler)
	handler = loggingMiddleware(s.logger)(handler)
	return handler
}

// requireMaster wraps h so it 403s unless the authenticated caller is the
// master pseudo-application (spec §4.2/§6 "admin subset requires master").
func (s *Server) requireMaster(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		app := applicationFrom(r)
		if app == nil || !app.IsMaster {
			writeErrCode(w, "PERMISSION_DENIED", "this operation requires the master API key")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := "connected"
	if err := s.store.Ping(ctx); err != nil {
		status = "disconnected"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok", "uptime": time.Since(s.startedAt).Seconds(), "redis": status,
	})
}
