// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import "time"

// Outcome labels for finished generations.
const (
	OutcomeComplete  = "complete"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Result labels for transport open attempts.
const (
	OpenOK       = "ok"
	OpenRetry    = "retry"
	OpenRejected = "rejected"
	OpenError    = "error"
)

// Recorder receives generation lifecycle observations.
// Implementations must be safe for concurrent use and must not block.
type Recorder interface {
	// OpenAttempt is called once per HTTP attempt made to open a stream.
	OpenAttempt(result string)

	// StreamEvent is called for every event read from a stream.
	StreamEvent(kind string)

	// FirstEvent is called with the delay between submission and the first
	// event of a generation.
	FirstEvent(delay time.Duration)

	// GenerationFinished is called exactly once per generation.
	GenerationFinished(outcome string, elapsed time.Duration)
}

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) OpenAttempt(string)                       {}
func (Nop) StreamEvent(string)                       {}
func (Nop) FirstEvent(time.Duration)                 {}
func (Nop) GenerationFinished(string, time.Duration) {}
