// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"strings"

	"github.com/jeranaias/memchat/internal/model"
)

// =============================================================================
// PHASE
// =============================================================================

// Phase is the controller state.
type Phase int

const (
	// PhaseIdle means no generation is running.
	PhaseIdle Phase = iota

	// PhaseStreaming means a reply is pending and its stream is open.
	PhaseStreaming

	// PhaseFinalizing means the reply is resolved but the stream task has
	// not yet released the transport.
	PhaseFinalizing
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// =============================================================================
// BUSY POLICY
// =============================================================================

// BusyPolicy decides what Submit does while a reply is streaming.
type BusyPolicy string

const (
	// BusyReject refuses the submission with ErrBusy.
	BusyReject BusyPolicy = "reject"

	// BusyQueue holds the submission until the current reply finishes.
	BusyQueue BusyPolicy = "queue"
)

// ParseBusyPolicy parses a policy name.
func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch p := BusyPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case BusyReject, BusyQueue:
		return p, nil
	case "":
		return BusyReject, nil
	default:
		return "", fmt.Errorf("unknown busy policy %q (want reject or queue)", s)
	}
}

// =============================================================================
// STATE SNAPSHOT
// =============================================================================

// State is a point-in-time copy of the session. It shares nothing with the
// session and may be kept or modified freely.
type State struct {
	Draft string

	// Generating is true exactly when the last message is a pending reply.
	Generating bool

	Phase   Phase
	History []model.Message

	// Queued holds submissions waiting for the current reply.
	Queued []string

	// Err is why the most recent reply failed. It is nil while a reply
	// streams and after one completes or is cancelled. Transport failures
	// keep their sentinel chain (agent.ErrAuthFailed and the like).
	Err error
}

// Last returns the most recent message, or nil.
func (s State) Last() *model.Message {
	if len(s.History) == 0 {
		return nil
	}
	return &s.History[len(s.History)-1]
}

// Pending returns the in-flight reply, or nil.
func (s State) Pending() *model.Message {
	last := s.Last()
	if last == nil || last.Done {
		return nil
	}
	return last
}
