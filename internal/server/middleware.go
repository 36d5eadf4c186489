// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// ============================================================================
// Auth Middleware
// ============================================================================

// BearerAuth returns middleware that requires "Authorization: Bearer <token>".
// A missing or malformed header is 401; a wrong token is 403. An empty
// expected token disables the check.
func BearerAuth(expected string, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Warn().Str("remote", r.RemoteAddr).Str("reason", "missing_auth_header").Msg("auth denied")
				writeDetail(w, http.StatusUnauthorized, "Missing bearer token")
				return
			}

			if !ValidateBearerToken(strings.TrimPrefix(authHeader, "Bearer "), expected) {
				logger.Warn().Str("remote", r.RemoteAddr).Str("reason", "invalid_token").Msg("auth denied")
				writeDetail(w, http.StatusForbidden, "Invalid credentials")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ValidateBearerToken compares tokens using constant-time comparison.
// Returns false if either token is empty.
func ValidateBearerToken(token, expected string) bool {
	if token == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// ============================================================================
// Logging Middleware
// ============================================================================

// RequestLogger logs one line per request with status and timing.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
