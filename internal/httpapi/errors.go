// Copyright 2025 James Ross
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/flyingrobots/jobbroker/internal/domain"
)

// errorEnvelope is the spec §6 error envelope shape returned on every
// endpoint failure.
type errorEnvelope struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Hints   []string `json:"hints,omitempty"`
}

// statusFor maps a domain error taxonomy code to its HTTP status (spec §7).
func statusFor(code string) int {
	switch code {
	case domain.CodeMissingAPIKey, domain.CodeInvalidAPIKey:
		return http.StatusUnauthorized
	case domain.CodeQueueAccessDenied, domain.CodePermissionDenied, domain.CodeAccessDenied:
		return http.StatusForbidden
	case domain.CodeValidationError, domain.CodeMissingData, domain.CodeMissingName:
		return http.StatusBadRequest
	case domain.CodeQueueNotFound, domain.CodeJobNotFound, domain.CodeSubscriptionNotFound,
		domain.CodeWebhookNotFound, domain.CodeScheduleNotFound, domain.CodeApplicationNotFound:
		return http.StatusNotFound
	case domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case domain.CodeBackingStoreUnavailable, domain.CodeMetadataStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr translates err into the spec's error envelope, preferring a
// *domain.Error's taxonomy code when present.
func writeErr(w http.ResponseWriter, err error) {
	code := domain.CodeOf(err)
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	writeJSON(w, statusFor(code), errorEnvelope{Error: errorBody{Code: code, Message: err.Error()}})
}

func writeErrCode(w http.ResponseWriter, code, message string) {
	writeJSON(w, statusFor(code), errorEnvelope{Error: errorBody{Code: code, Message: message}})
}
