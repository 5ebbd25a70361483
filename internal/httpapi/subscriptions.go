// Copyright 2025 James Ross
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/metadatastore"
)

type createSubscriptionRequest struct {
	Name      string                     `json:"name"`
	Endpoint  string                     `json:"endpoint"`
	Method    string                     `json:"method,omitempty"`
	Transport domain.Transport           `json:"transport,omitempty"`
	Headers   map[string]string          `json:"headers,omitempty"`
	Filters   domain.SubscriptionFilter  `json:"filters,omitempty"`
	Events    []domain.EventType         `json:"events"`
	RetryConfig domain.RetryConfig       `json:"retryConfig,omitempty"`
	Active    *bool                      `json:"active,omitempty"`
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r)
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrCode(w, domain.CodeValidationError, "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeErrCode(w, domain.CodeMissingName, "name is required")
		return
	}
	if req.Endpoint == "" || len(req.Events) == 0 {
		writeErrCode(w, domain.CodeValidationError, "endpoint and events are required")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	now := time.Now().UTC()
	sub := &domain.Subscription{
		ID: uuid.NewString(), ApplicationID: app.ID, Name: req.Name, Endpoint: req.Endpoint,
		Method: req.Method, Transport: req.Transport, Headers: req.Headers, Filters: req.Filters,
		Events: req.Events, RetryConfig: req.RetryConfig, Active: active,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.meta.PutSubscription(r.Context(), sub); err != nil {
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r)
	subs, err := s.meta.ListSubscriptionsByApplication(r.Context(), app.ID)
	if err != nil {
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": subs})
}

func (s *Server) getOwnedSubscription(r *http.Request) (*domain.Subscription, error) {
	app := applicationFrom(r)
	id := mux.Vars(r)["id"]
	sub, err := s.meta.GetSubscription(r.Context(), id)
	if err == metadatastore.ErrNotFound {
		return nil, domain.NewError(domain.CodeSubscriptionNotFound, "subscription not found")
	} else if err != nil {
		return nil, domain.NewError(domain.CodeMetadataStoreUnavailable, err.Error())
	}
	if !app.IsMaster && sub.ApplicationID != app.ID {
		return nil, domain.NewError(domain.CodeSubscriptionNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.getOwnedSubscription(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.getOwnedSubscription(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrCode(w, domain.CodeValidationError, "invalid JSON body")
		return
	}
	if req.Name != "" {
		sub.Name = req.Name
	}
	if req.Endpoint != "" {
		sub.Endpoint = req.Endpoint
	}
	if req.Method != "" {
		sub.Method = req.Method
	}
	if req.Transport != "" {
		sub.Transport = req.Transport
	}
	if req.Headers != nil {
		sub.Headers = req.Headers
	}
	sub.Filters = req.Filters
	if len(req.Events) > 0 {
		sub.Events = req.Events
	}
	if req.RetryConfig.MaxAttempts > 0 {
		sub.RetryConfig = req.RetryConfig
	}
	if req.Active != nil {
		sub.Active = *req.Active
	}
	sub.UpdatedAt = time.Now().UTC()
	if err := s.meta.PutSubscription(r.Context(), sub); err != nil {
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.getOwnedSubscription(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.meta.DeleteSubscription(r.Context(), sub.ID); err != nil {
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTestSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.getOwnedSubscription(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.subs.Test(r.Context(), sub); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
