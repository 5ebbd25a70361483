// Copyright 2025 James Ross
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/jobtracker"
)

type submitJobRequest struct {
	Queue    string                 `json:"queue"`
	Data     json.RawMessage        `json:"data"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	DelayMs  int64                  `json:"delayMs,omitempty"`
	Priority int                    `json:"priority,omitempty"`
	Attempts int                    `json:"attempts,omitempty"`
	Webhooks map[string]string      `json:"webhooks,omitempty"`
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrCode(w, domain.CodeValidationError, "invalid JSON body")
		return
	}
	app := applicationFrom(r)
	job, err := s.tracker.Submit(r.Context(), app, jobtracker.SubmitRequest{
		Queue: req.Queue, Data: req.Data, Metadata: req.Metadata,
		Delay: time.Duration(req.DelayMs) * time.Millisecond,
		Priority: req.Priority, Attempts: req.Attempts, Webhooks: req.Webhooks,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r)
	id := mux.Vars(r)["id"]
	job, err := s.tracker.Get(r.Context(), app, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// updateJobRequest mirrors the wire contract's transition verbs (spec §4.3
// "started", "progress", "completed", "failed"), not the resting JobStatus
// enum: a job is never told to become "waiting" or "delayed" over this
// endpoint, and "started"/"progress" both rest at active.
type updateJobRequest struct {
	Status   domain.EventType        `json:"status"`
	Progress *int                    `json:"progress,omitempty"`
	Result   json.RawMessage         `json:"result,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Metadata map[string]interface{}  `json:"metadata,omitempty"`
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r)
	id := mux.Vars(r)["id"]
	var req updateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrCode(w, domain.CodeValidationError, "invalid JSON body")
		return
	}
	status, ok := domain.TransitionStatus(req.Status)
	if !ok {
		writeErrCode(w, domain.CodeValidationError, "status must be one of started, progress, completed, failed")
		return
	}
	job, err := s.tracker.Update(r.Context(), app, id, domain.JobUpdate{
		Status: status, Progress: req.Progress, Result: req.Result, Error: req.Error, Metadata: req.Metadata,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r)
	q := r.URL.Query()
	opts := jobtracker.ListOptions{
		Queue:  q.Get("queue"),
		Status: domain.JobStatus(q.Get("status")),
	}
	if lim := q.Get("limit"); lim != "" {
		if n, err := strconv.Atoi(lim); err == nil {
			opts.Limit = n
		}
	}
	meta := make(map[string]string)
	for k, v := range q {
		if strings.HasPrefix(k, "metadata.") && len(v) > 0 {
			meta[strings.TrimPrefix(k, "metadata.")] = v[0]
		}
	}
	if len(meta) > 0 {
		opts.Metadata = meta
	}
	jobs, err := s.tracker.List(r.Context(), app, opts)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// registerJobWebhookRequest is the spec §4.4/§6 shape: a map of event to URL,
// so a single call can register or replace several of a job's ephemeral
// webhooks at once.
type registerJobWebhookRequest struct {
	Webhooks map[domain.EventType]string `json:"webhooks"`
}

func (s *Server) handleRegisterJobWebhook(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r)
	id := mux.Vars(r)["id"]
	var req registerJobWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrCode(w, domain.CodeValidationError, "invalid JSON body")
		return
	}
	if len(req.Webhooks) == 0 {
		writeErrCode(w, domain.CodeValidationError, "webhooks map with at least one event/url pair is required")
		return
	}
	for event, url := range req.Webhooks {
		if event == "" || url == "" {
			writeErrCode(w, domain.CodeValidationError, "webhook events and urls must be non-empty")
			return
		}
		if err := s.tracker.RegisterWebhook(r.Context(), app, id, event, url); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
