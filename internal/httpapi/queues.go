// Copyright 2025 James Ross
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/queuemanager"
)

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r)
	queues, err := s.qmgr.ListForApp(r.Context(), app)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queues": queues})
}

type createQueueRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeErrCode(w, domain.CodeValidationError, "name is required")
		return
	}
	if err := s.qmgr.Materialize(r.Context(), req.Name); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

func (s *Server) handleQueuesStats(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r)
	stats, err := s.qmgr.StatsAllForApp(r.Context(), app)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queues": stats})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r)
	name := mux.Vars(r)["name"]
	if err := s.qmgr.Authorize(app, name); err != nil {
		writeErr(w, err)
		return
	}
	stats, err := s.qmgr.Stats(r.Context(), name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.qmgr.Pause(r.Context(), name); err != nil {
		s.auditLog(r, "queue.pause", name, "failure", map[string]interface{}{"error": err.Error()})
		writeErr(w, err)
		return
	}
	s.auditLog(r, "queue.pause", name, "success", nil)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.qmgr.Resume(r.Context(), name); err != nil {
		s.auditLog(r, "queue.resume", name, "failure", map[string]interface{}{"error": err.Error()})
		writeErr(w, err)
		return
	}
	s.auditLog(r, "queue.resume", name, "success", nil)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type cleanQueueRequest struct {
	Status       domain.JobStatus `json:"status"`
	OlderThanMs  int64            `json:"olderThanMs"`
	Limit        int64            `json:"limit,omitempty"`
}

func (s *Server) handleQueueClean(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req cleanQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrCode(w, domain.CodeValidationError, "invalid JSON body")
		return
	}
	n, err := s.qmgr.Clean(r.Context(), name, queuemanager.CleanOptions{
		Status: req.Status, OlderThan: time.Duration(req.OlderThanMs) * time.Millisecond, Limit: req.Limit,
	})
	if err != nil {
		s.auditLog(r, "queue.clean", name, "failure", map[string]interface{}{"error": err.Error()})
		writeErr(w, err)
		return
	}
	s.auditLog(r, "queue.clean", name, "success", map[string]interface{}{"removed": n, "status": req.Status})
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}
