// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Agent"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status is the lifecycle state of a message.
// Only assistant replies ever leave StatusComplete.
type Status string

const (
	StatusPending   Status = "pending"
	StatusComplete  Status = "complete"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single entry in the transcript.
type Message struct {
	// Identity
	ID   string `json:"id"`
	Role Role   `json:"role"`

	// Timestamp is the zero time when absent (a reply that has not yet
	// received a server date).
	Timestamp time.Time `json:"timestamp,omitzero"`

	// Content is replaced wholesale while streaming, never appended to.
	Content string `json:"content"`

	// Done is false only for the in-flight assistant reply.
	Done bool `json:"done"`

	// Status and Error describe how the reply ended.
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewUserMessage creates a terminal user message stamped with the current time.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        generateID(),
		Role:      RoleUser,
		Content:   content,
		Done:      true,
		Status:    StatusComplete,
		Timestamp: time.Now(),
	}
}

// NewAssistantPlaceholder creates the empty, not-yet-done reply that is
// filled in as stream events arrive.
func NewAssistantPlaceholder() *Message {
	return &Message{
		ID:     generateID(),
		Role:   RoleAssistant,
		Status: StatusPending,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// Replace supersedes the reply's id, content and timestamp with the values
// carried by a stream event. An empty id keeps the current one. It has no
// effect once the message is done.
func (m *Message) Replace(id, content string, ts time.Time) bool {
	if m.Done {
		return false
	}
	if id != "" {
		m.ID = id
	}
	m.Content = content
	m.Timestamp = ts
	return true
}

// Resolve moves a pending message to a terminal status. It reports false if
// the message was already done, so the transition happens exactly once.
func (m *Message) Resolve(status Status, errMsg string) bool {
	if m.Done || !status.Terminal() {
		return false
	}
	m.Done = true
	m.Status = status
	m.Error = errMsg
	return true
}

// HasTimestamp reports whether the message carries a point in time.
func (m *Message) HasTimestamp() bool {
	return !m.Timestamp.IsZero()
}

// Failed reports whether the reply ended in an error.
func (m *Message) Failed() bool {
	return m.Status == StatusFailed
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateID creates a unique local message ID.
func generateID() string {
	return uuid.NewString()
}
