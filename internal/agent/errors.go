// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

var (
	// ErrNoAgent is returned when no agent id is configured.
	ErrNoAgent = errors.New("agent id not configured")

	// ErrAuthFailed is returned on 401 or 403.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrAgentNotFound is returned on 404.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrRateLimited is returned on 429 once retries are exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotEventStream is returned when a 2xx response is not an event stream.
	ErrNotEventStream = errors.New("response is not an event stream")

	// ErrEventTooLarge is returned when a single frame exceeds MaxEventSize.
	ErrEventTooLarge = errors.New("event exceeds maximum size")

	// ErrRetriesExhausted wraps the last error after all attempts failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// StatusError is a non-2xx response without a more specific mapping.
type StatusError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent service returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("agent service returned %d: %s", e.Status, e.Message)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
