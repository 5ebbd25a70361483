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

type createWebhookRequest struct {
	URL         string              `json:"url"`
	Events      []domain.EventType  `json:"events"`
	Queues      []string            `json:"queues,omitempty"`
	Headers     []domain.HeaderPair `json:"headers,omitempty"`
	RetryConfig domain.RetryConfig  `json:"retryConfig,omitempty"`
	Active      *bool               `json:"active,omitempty"`
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r)
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrCode(w, domain.CodeValidationError, "invalid JSON body")
		return
	}
	if req.URL == "" || len(req.Events) == 0 {
		writeErrCode(w, domain.CodeValidationError, "url and events are required")
		return
	}
	secret, err := generateAPIKey()
	if err != nil {
		writeErrCode(w, "INTERNAL_ERROR", "failed to generate webhook secret")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	now := time.Now().UTC()
	wh := &domain.ApplicationWebhook{
		ID: uuid.NewString(), ApplicationID: app.ID, URL: req.URL, Events: req.Events,
		Queues: req.Queues, Headers: req.Headers, Secret: secret, RetryConfig: req.RetryConfig,
		Active: active, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.meta.PutWebhook(r.Context(), wh); err != nil {
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id": wh.ID, "applicationId": wh.ApplicationID, "url": wh.URL, "events": wh.Events,
		"queues": wh.Queues, "secret": secret, "active": wh.Active, "createdAt": wh.CreatedAt,
	})
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	app := applicationFrom(r)
	hooks, err := s.meta.ListWebhooksByApplication(r.Context(), app.ID)
	if err != nil {
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": hooks})
}

func (s *Server) getOwnedWebhook(r *http.Request) (*domain.ApplicationWebhook, error) {
	app := applicationFrom(r)
	id := mux.Vars(r)["id"]
	wh, err := s.meta.GetWebhook(r.Context(), id)
	if err == metadatastore.ErrNotFound {
		return nil, domain.NewError(domain.CodeWebhookNotFound, "webhook not found")
	} else if err != nil {
		return nil, domain.NewError(domain.CodeMetadataStoreUnavailable, err.Error())
	}
	if !app.IsMaster && wh.ApplicationID != app.ID {
		return nil, domain.NewError(domain.CodeWebhookNotFound, "webhook not found")
	}
	return wh, nil
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	wh, err := s.getOwnedWebhook(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

type patchWebhookRequest struct {
	URL         string              `json:"url,omitempty"`
	Events      []domain.EventType  `json:"events,omitempty"`
	Queues      []string            `json:"queues,omitempty"`
	Headers     []domain.HeaderPair `json:"headers,omitempty"`
	RetryConfig *domain.RetryConfig `json:"retryConfig,omitempty"`
	Active      *bool               `json:"active,omitempty"`
}

func (s *Server) handlePatchWebhook(w http.ResponseWriter, r *http.Request) {
	wh, err := s.getOwnedWebhook(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req patchWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrCode(w, domain.CodeValidationError, "invalid JSON body")
		return
	}
	if req.URL != "" {
		wh.URL = req.URL
	}
	if len(req.Events) > 0 {
		wh.Events = req.Events
	}
	if req.Queues != nil {
		wh.Queues = req.Queues
	}
	if req.Headers != nil {
		wh.Headers = req.Headers
	}
	if req.RetryConfig != nil {
		wh.RetryConfig = *req.RetryConfig
	}
	if req.Active != nil {
		wh.Active = *req.Active
		if wh.Active {
			wh.FailureCount = 0
		}
	}
	wh.UpdatedAt = time.Now().UTC()
	if err := s.meta.PutWebhook(r.Context(), wh); err != nil {
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, wh)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	wh, err := s.getOwnedWebhook(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.meta.DeleteWebhook(r.Context(), wh.ID); err != nil {
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	wh, err := s.getOwnedWebhook(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.appwebhooks.Test(r.Context(), wh); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleRegenerateSecret(w http.ResponseWriter, r *http.Request) {
	wh, err := s.getOwnedWebhook(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	secret, err := generateAPIKey()
	if err != nil {
		writeErrCode(w, "INTERNAL_ERROR", "failed to generate webhook secret")
		return
	}
	wh.Secret = secret
	wh.UpdatedAt = time.Now().UTC()
	if err := s.meta.PutWebhook(r.Context(), wh); err != nil {
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}
