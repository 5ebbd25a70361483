// Copyright 2025 James Ross
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/flyingrobots/jobbroker/internal/domain"
	"github.com/flyingrobots/jobbroker/internal/metadatastore"
)

// generateAPIKey produces a random 256-bit credential, hex-encoded, in the
// style of rbac-and-tokens.go's generateDefaultKey.
func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

type createApplicationRequest struct {
	Name              string   `json:"name"`
	AllowedQueues     []string `json:"allowedQueues,omitempty"`
	MaxConcurrentJobs int      `json:"maxConcurrentJobs,omitempty"`
}

func (s *Server) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeErrCode(w, domain.CodeMissingName, "name is required")
		return
	}
	key, err := generateAPIKey()
	if err != nil {
		writeErrCode(w, "INTERNAL_ERROR", "failed to generate api key")
		return
	}
	allowed := req.AllowedQueues
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	now := time.Now().UTC()
	app := &domain.Application{
		ID:   uuid.NewString(),
		Name: req.Name, APIKey: key,
		Settings:  domain.ApplicationSettings{AllowedQueues: allowed, MaxConcurrentJobs: req.MaxConcurrentJobs},
		CreatedAt: now, UpdatedAt: now,
	}
	if err := s.meta.PutApplication(r.Context(), app); err != nil {
		s.auditLog(r, "application.create", req.Name, "failure", map[string]interface{}{"error": err.Error()})
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	s.auditLog(r, "application.create", app.ID, "success", map[string]interface{}{"name": app.Name})
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id": app.ID, "name": app.Name, "apiKey": key, "settings": app.Settings,
		"createdAt": app.CreatedAt,
	})
}

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.meta.ListApplications(r.Context())
	if err != nil {
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"applications": apps})
}

func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	app, err := s.meta.GetApplication(r.Context(), id)
	if err == metadatastore.ErrNotFound {
		writeErrCode(w, domain.CodeApplicationNotFound, "application not found")
		return
	} else if err != nil {
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, app)
}

type patchApplicationRequest struct {
	Name              *string  `json:"name,omitempty"`
	AllowedQueues     []string `json:"allowedQueues,omitempty"`
	MaxConcurrentJobs *int     `json:"maxConcurrentJobs,omitempty"`
}

func (s *Server) handlePatchApplication(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	app, err := s.meta.GetApplication(r.Context(), id)
	if err == metadatastore.ErrNotFound {
		writeErrCode(w, domain.CodeApplicationNotFound, "application not found")
		return
	} else if err != nil {
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	var req patchApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrCode(w, domain.CodeValidationError, "invalid JSON body")
		return
	}
	if req.Name != nil {
		app.Name = *req.Name
	}
	if req.AllowedQueues != nil {
		app.Settings.AllowedQueues = req.AllowedQueues
	}
	if req.MaxConcurrentJobs != nil {
		app.Settings.MaxConcurrentJobs = *req.MaxConcurrentJobs
	}
	app.UpdatedAt = time.Now().UTC()
	if err := s.meta.PutApplication(r.Context(), app); err != nil {
		s.auditLog(r, "application.patch", id, "failure", map[string]interface{}{"error": err.Error()})
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	s.auditLog(r, "application.patch", id, "success", nil)
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) handleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == domain.MasterApplicationID {
		writeErrCode(w, domain.CodePermissionDenied, fmt.Sprintf("cannot delete the reserved %q application", id))
		return
	}
	if err := s.meta.DeleteApplication(r.Context(), id); err != nil {
		s.auditLog(r, "application.delete", id, "failure", map[string]interface{}{"error": err.Error()})
		writeErrCode(w, domain.CodeMetadataStoreUnavailable, err.Error())
		return
	}
	s.auditLog(r, "application.delete", id, "success", nil)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
