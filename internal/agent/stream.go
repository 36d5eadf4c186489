// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxEventSize is the maximum allowed size of one SSE frame (1 MiB).
// Reply text is cumulative, so frames grow with the reply.
const MaxEventSize = 1 << 20

var doneMarker = []byte("[DONE]")

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
	lastID string
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{
		reader: bufio.NewReaderSize(r, 16*1024),
	}
}

// ReadEvent reads the next frame that carries data.
// Returns the event type, the last event id seen, and the data lines joined
// by "\n". Frames without data lines are skipped. Returns io.EOF when the
// stream ends.
func (s *SSEReader) ReadEvent() (string, string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	size := 0

	for {
		line, err := s.readLine(MaxEventSize - size)
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return eventType, s.lastID, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", "", nil, err
		}
		size += len(line)

		// Empty line dispatches the frame
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, s.lastID, bytes.Join(dataLines, []byte("\n")), nil
			}
			eventType = ""
			size = 0
			continue
		}

		// Comment
		if line[0] == ':' {
			continue
		}

		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], line[i+1:]
			value = bytes.TrimPrefix(value, []byte(" "))
		}

		switch string(field) {
		case "event":
			eventType = string(value)
		case "data":
			dataLines = append(dataLines, bytes.Clone(value))
		case "id":
			if bytes.IndexByte(value, 0) < 0 {
				s.lastID = string(value)
			}
		}
		// retry: and unknown fields are ignored
	}
}

// readLine returns one line without its terminator. A line longer than
// limit yields ErrEventTooLarge. A final unterminated line is returned with
// a nil error; io.EOF follows on the next call.
func (s *SSEReader) readLine(limit int) ([]byte, error) {
	var buf []byte
	for {
		frag, err := s.reader.ReadSlice('\n')
		if len(buf)+len(frag) > limit+2 {
			return nil, ErrEventTooLarge
		}
		buf = append(buf, frag...)

		switch {
		case err == nil:
			return bytes.TrimRight(buf, "\r\n"), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == io.EOF && len(buf) > 0:
			return bytes.TrimRight(buf, "\r\n"), nil
		default:
			return nil, err
		}
	}
}

// =============================================================================
// EVENT STREAM
// =============================================================================

// EventStream is one open reply stream. It is not safe for concurrent use
// except for Close, which may be called from any goroutine to unblock Next.
type EventStream struct {
	body   io.ReadCloser
	reader *SSEReader

	closeOnce sync.Once
	closeErr  error
	done      bool
}

func newEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{
		body:   body,
		reader: NewSSEReader(body),
	}
}

// NewEventStream wraps an already-open body. Used by tests and by callers
// that perform their own request.
func NewEventStream(body io.ReadCloser) *EventStream {
	return newEventStream(body)
}

// Next blocks until the next event. It returns io.EOF when the server ends
// the stream or sends the [DONE] marker.
func (s *EventStream) Next() (Event, error) {
	if s.done {
		return Event{}, io.EOF
	}

	for {
		eventType, lastID, data, err := s.reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				s.done = true
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("read event: %w", err)
		}

		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		if bytes.Equal(bytes.TrimSpace(data), doneMarker) {
			s.done = true
			return Event{}, io.EOF
		}

		if eventType == "" {
			eventType = "message"
		}
		return decodeEvent(eventType, lastID, data), nil
	}
}

// Close releases the connection. It is idempotent.
func (s *EventStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
