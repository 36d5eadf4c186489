// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"bytes"
	"encoding/json"
	"time"
)

// =============================================================================
// EVENT KINDS
// =============================================================================

// Kind classifies an event by the payload field it carries.
type Kind string

const (
	KindAssistantMessage  Kind = "assistant_message"
	KindInternalMonologue Kind = "internal_monologue"
	KindFunctionCall      Kind = "function_call"
	KindFunctionReturn    Kind = "function_return"
	KindInternalError     Kind = "internal_error"

	// KindUnknown is a JSON object with none of the recognised fields.
	KindUnknown Kind = "unknown"

	// KindMalformed is a frame whose data is not a JSON object.
	KindMalformed Kind = "malformed"
)

// =============================================================================
// PAYLOAD
// =============================================================================

// Payload is the JSON body of one stream frame. Pointer fields distinguish
// an absent field from an empty one.
type Payload struct {
	ID                string  `json:"id,omitempty"`
	Date              string  `json:"date,omitempty"`
	AssistantMessage  *string `json:"assistant_message,omitempty"`
	InternalMonologue *string `json:"internal_monologue,omitempty"`
	FunctionCall      *string `json:"function_call,omitempty"`
	FunctionReturn    *string `json:"function_return,omitempty"`
	Status            string  `json:"status,omitempty"`
	InternalError     *string `json:"internal_error,omitempty"`
}

// kind returns the first recognised field present, in precedence order.
// An internal_error always wins so a failing frame is never mistaken for text.
func (p *Payload) kind() Kind {
	switch {
	case p.InternalError != nil:
		return KindInternalError
	case p.AssistantMessage != nil:
		return KindAssistantMessage
	case p.InternalMonologue != nil:
		return KindInternalMonologue
	case p.FunctionCall != nil:
		return KindFunctionCall
	case p.FunctionReturn != nil:
		return KindFunctionReturn
	default:
		return KindUnknown
	}
}

// =============================================================================
// EVENT
// =============================================================================

// Event is one frame read from an EventStream.
type Event struct {
	// Type is the SSE "event:" field, "message" when omitted.
	Type string

	// LastID is the SSE "id:" field in effect for this frame.
	LastID string

	// Data is the raw frame data with multiple data lines joined by "\n".
	Data []byte

	Kind    Kind
	Payload Payload
}

// Text returns the assistant message, or "" if the event carries none.
func (e Event) Text() string {
	if e.Payload.AssistantMessage == nil {
		return ""
	}
	return *e.Payload.AssistantMessage
}

// ErrorMessage returns the server-reported error text.
func (e Event) ErrorMessage() string {
	if e.Payload.InternalError == nil {
		return ""
	}
	return *e.Payload.InternalError
}

// Time parses the payload date. The second result is false when the date is
// missing or unparsable.
func (e Event) Time() (time.Time, bool) {
	return ParseDate(e.Payload.Date)
}

// dateLayouts are tried in order. The service emits Python isoformat()
// strings, which omit the zone for naive datetimes.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseDate parses an ISO-8601 timestamp. Dates without a zone are taken
// as UTC.
func ParseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// decodeEvent turns raw frame data into an Event. Data that is not a JSON
// object yields KindMalformed rather than an error.
func decodeEvent(eventType, lastID string, data []byte) Event {
	ev := Event{
		Type:   eventType,
		LastID: lastID,
		Data:   data,
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		ev.Kind = KindMalformed
		return ev
	}
	if err := json.Unmarshal(trimmed, &ev.Payload); err != nil {
		ev.Kind = KindMalformed
		ev.Payload = Payload{}
		return ev
	}
	ev.Kind = ev.Payload.kind()
	return ev
}
