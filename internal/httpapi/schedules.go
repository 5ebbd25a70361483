// Copyright 2025 James Ross
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/scheduler"
)

type createScheduleRequest struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Enabled     *bool                      `json:"enabled,omitempty"`
	Schedule    domain.ScheduleSpec        `json:"schedule"`
	Endpoint    domain.ScheduleEndpoint    `json:"endpoint"`
	RetryPolicy domain.ScheduleRetryPolicy `json:"retryPolicy,omitempty"`
	Metadata    map[string]interface{}     `json:"metadata,omitempty"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r)
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrCode(w, domain.CodeValidationError, "invalid JSON body")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sched, err := s.sched.Create(r.Context(), scheduler.CreateRequest{
		Name: req.Name, Description: req.Description, Enabled: enabled,
		Schedule: req.Schedule, Endpoint: req.Endpoint, RetryPolicy: req.RetryPolicy,
		CreatedBy: app.ID, Metadata: req.Metadata,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	scheds, err := s.sched.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": scheds})
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sched, err := s.sched.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrCode(w, domain.CodeValidationError, "invalid JSON body")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	sched, err := s.sched.Update(r.Context(), id, scheduler.UpdateRequest{
		Description: req.Description, Enabled: enabled, Schedule: req.Schedule,
		Endpoint: req.Endpoint, RetryPolicy: req.RetryPolicy, Metadata: req.Metadata,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sched.Delete(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type toggleScheduleRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleToggleSchedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req toggleScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrCode(w, domain.CodeValidationError, "invalid JSON body")
		return
	}
	sched, err := s.sched.Toggle(r.Context(), id, req.Enabled)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleExecuteSchedule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := s.sched.Execute(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
