// Copyright 2025 James Ross
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/flyingrobots/jobbroker/internal/authresolver"
	"github.com/flyingrobots/jobbroker/internal/domain"
)

type contextKey string

const (
	ctxKeyApplication contextKey = "application"
	ctxKeyRequestID   contextKey = "requestID"
)

// requestIDMiddleware stamps every request/response with a correlation ID,
// in the style of admin-api's RequestIDMiddleware.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

// recoveryMiddleware converts a panic into a 500 error envelope rather than
// crashing the process, matching admin-api's RecoveryMiddleware.
func recoveryMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
					writeErrCode(w, "INTERNAL_ERROR", "an internal error occurred")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware records method/path/status/duration for every request.
func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// authMiddleware resolves the `x-api-key` header into a domain.Application
// via the AuthResolver and stores it in the request context (spec §6
// "Authentication: header x-api-key").
func authMiddleware(resolver authresolver.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			app, err := resolver.Resolve(r.Context(), r.Header.Get("x-api-key"))
			if err != nil {
				writeErr(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyApplication, app)))
		})
	}
}

func applicationFrom(r *http.Request) *domain.Application {
	app, _ := r.Context().Value(ctxKeyApplication).(*domain.Application)
	return app
}

// rateLimitMiddleware implements the spec §6 per-key token bucket described
// by RATE_LIMIT_WINDOW_MS/RATE_LIMIT_MAX_REQUESTS, grounded on admin-api's
// RateLimitMiddleware but built on golang.org/x/time/rate instead of a
// hand-rolled bucket.
func rateLimitMiddleware(window time.Duration, maxRequests int) func(http.Handler) http.Handler {
	if maxRequests <= 0 || window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	limiters := &sync.Map{}
	limit := rate.Limit(float64(maxRequests) / window.Seconds())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("x-api-key")
			if key == "" {
				key = r.RemoteAddr
			}
			val, _ := limiters.LoadOrStore(key, rate.NewLimiter(limit, maxRequests))
			limiter := val.(*rate.Limiter)

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", maxRequests))
			if !limiter.Allow() {
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeErrCode(w, domain.CodeRateLimitExceeded, "rate limit exceeded")
				return
			}
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int(limiter.Tokens())))
			next.ServeHTTP(w, r)
		})
	}
}
