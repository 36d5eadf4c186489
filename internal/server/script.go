// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"strings"
	"time"
)

// Script describes how one reply is streamed.
type Script struct {
	// Status, when non-zero, is returned instead of a stream.
	Status int
	Detail string

	// Monologue is sent as an internal_monologue frame before the reply.
	Monologue string

	// FunctionCall is sent as a function_call frame followed by a
	// successful function_return.
	FunctionCall string

	// Replies are cumulative: each entry is the whole reply so far.
	Replies []string

	// Malformed sends a frame whose data is not JSON before the reply.
	Malformed bool

	// Error is sent as an internal_error frame after the replies.
	Error string

	// Stall keeps the stream open without sending anything after the
	// replies until the client disconnects.
	Stall bool

	// Delay is waited before each frame.
	Delay time.Duration
}

// MessageRequest is the body of POST /api/agents/{agent_id}/message.
type MessageRequest struct {
	AgentID string `json:"-"`
	Message string `json:"message"`
	Role    string `json:"role"`
}

// Responder decides how to answer a message.
type Responder func(req MessageRequest) Script

// EchoResponder answers with "You said: <message>", growing word by word.
func EchoResponder(req MessageRequest) Script {
	return Script{
		Monologue: "User said something, I should echo it back.",
		Replies:   Cumulative("You said: " + req.Message),
	}
}

// Fixed always returns s.
func Fixed(s Script) Responder {
	return func(MessageRequest) Script { return s }
}

// Cumulative splits text into successive prefixes ending at word
// boundaries, the way the service grows a reply.
func Cumulative(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return []string{text}
	}
	out := make([]string, 0, len(fields))
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f)
		out = append(out, b.String())
	}
	return out
}
