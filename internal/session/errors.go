// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "errors"

var (
	// ErrEmptyMessage is returned by Submit for blank text.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrBusy is returned by Submit while a reply is streaming and the busy
	// policy is reject.
	ErrBusy = errors.New("a reply is still streaming")

	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("submission queue is full")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("session is closed")

	// ErrStreamIdle fails a generation that received no event within the
	// idle timeout.
	ErrStreamIdle = errors.New("stream idle timeout")

	// ErrCancelled is the cancellation cause for a user cancel.
	ErrCancelled = errors.New("cancelled")
)

// errStreamEnded resolves a reply whose stream task exited without
// deciding its outcome.
var errStreamEnded = errors.New("stream ended unexpectedly")

// AgentError is an error the agent reported inside the stream. Its text is
// the agent's message as sent.
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string { return e.Message }
