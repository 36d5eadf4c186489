// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "errors"

// ErrPendingExists is returned when appending while a reply is still in flight.
var ErrPendingExists = errors.New("a reply is already pending")

// =============================================================================
// HISTORY TYPE
// =============================================================================

// History is the ordered transcript of a single conversation.
//
// Messages are only appended; the one exception is the last message while it
// is a pending assistant reply, which is mutated in place.
type History struct {
	messages []*Message
}

// Append adds a message to the end of the transcript.
// A second not-done message is refused so that at most one reply is pending.
func (h *History) Append(msg *Message) error {
	if !msg.Done && h.Pending() != nil {
		return ErrPendingExists
	}
	h.messages = append(h.messages, msg)
	return nil
}

// AppendExchange adds a user message and its reply placeholder as one step,
// returning the placeholder.
func (h *History) AppendExchange(text string) (*Message, error) {
	if h.Pending() != nil {
		return nil, ErrPendingExists
	}
	if err := h.Append(NewUserMessage(text)); err != nil {
		return nil, err
	}
	reply := NewAssistantPlaceholder()
	if err := h.Append(reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Last returns the most recent message, or nil if empty.
func (h *History) Last() *Message {
	if len(h.messages) == 0 {
		return nil
	}
	return h.messages[len(h.messages)-1]
}

// Pending returns the in-flight reply, or nil. Only the last message can be
// pending.
func (h *History) Pending() *Message {
	last := h.Last()
	if last == nil || last.Done {
		return nil
	}
	return last
}

// Len returns the number of messages.
func (h *History) Len() int {
	return len(h.messages)
}

// Snapshot returns deep copies of all messages.
func (h *History) Snapshot() []Message {
	out := make([]Message, len(h.messages))
	for i, msg := range h.messages {
		out[i] = *msg
	}
	return out
}

// =============================================================================
// INVARIANT CHECKS
// =============================================================================

// Check verifies the structural invariants of a transcript: at most one
// message is not done, it is the last one and an assistant reply, and every
// user message is immediately followed by an assistant message.
func Check(msgs []Message) error {
	for i, msg := range msgs {
		if !msg.Done {
			if i != len(msgs)-1 {
				return errors.New("pending message is not last")
			}
			if msg.Role != RoleAssistant {
				return errors.New("pending message is not an assistant reply")
			}
		}
		if msg.Role == RoleUser {
			if !msg.Done || !msg.HasTimestamp() {
				return errors.New("user message must be done and timestamped")
			}
			if i+1 >= len(msgs) || msgs[i+1].Role != RoleAssistant {
				return errors.New("user message is not followed by its reply")
			}
		}
	}
	return nil
}
