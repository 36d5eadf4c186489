// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types and exit codes for memchat commands.
//
// Commands always return errors; Execute decides how to display them and
// which exit code to use.

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/memchat/internal/agent"
	"github.com/jeranaias/memchat/internal/config"
	"github.com/jeranaias/memchat/internal/credential"
	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/session"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general error, including a failed reply
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates a configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates authentication or authorization failure
	ExitAuthError = 4
	// ExitNetworkError indicates the agent service could not be reached
	ExitNetworkError = 5
	// ExitNotFoundError indicates the agent was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitInterrupted follows the shell convention for SIGINT
	ExitInterrupted = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ReplyError reports a reply that ended failed or cancelled. Err, when
// set, is the cause the session recorded and decides the exit code.
type ReplyError struct {
	Status model.Status
	Reason string
	Err    error
}

func (e *ReplyError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("reply %s", e.Status)
	}
	return fmt.Sprintf("reply %s: %s", e.Status, e.Reason)
}

func (e *ReplyError) Unwrap() error { return e.Err }

// UsageError marks bad flags or arguments.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		usage   *UsageError
		reply   *ReplyError
		invalid config.ValidateErrors
	)
	switch {
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &invalid), errors.Is(err, agent.ErrNoAgent):
		return ExitConfigError
	case errors.Is(err, agent.ErrAuthFailed), errors.Is(err, credential.ErrNoCredential):
		return ExitAuthError
	case errors.Is(err, agent.ErrAgentNotFound):
		return ExitNotFoundError
	case errors.Is(err, agent.ErrRetriesExhausted):
		return ExitNetworkError
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, session.ErrStreamIdle):
		return ExitTimeoutError
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	case errors.As(err, &reply):
		if reply.Status == model.StatusCancelled {
			return ExitInterrupted
		}
		return ExitGeneralError
	}
	return ExitGeneralError
}
