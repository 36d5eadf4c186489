// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/memchat/internal/agent"
)

const testTimeout = 5 * time.Second

var errStreamClosed = errors.New("stream closed")

// =============================================================================
// FAKE STREAM
// =============================================================================

type step struct {
	ev  agent.Event
	err error
}

// fakeStream is driven step by step from the test.
type fakeStream struct {
	steps  chan step
	closed chan struct{}
	once   sync.Once

	// closeGate, when set, makes Close block until it is closed.
	closeGate chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		steps:  make(chan step),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) Next() (agent.Event, error) {
	select {
	case st, ok := <-f.steps:
		if !ok {
			return agent.Event{}, io.EOF
		}
		return st.ev, st.err
	case <-f.closed:
		return agent.Event{}, errStreamClosed
	}
}

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	if f.closeGate != nil {
		<-f.closeGate
	}
	return nil
}

// push delivers ev to the reader. It returns false if the stream was closed
// first.
func (f *fakeStream) push(t *testing.T, ev agent.Event) bool {
	t.Helper()
	select {
	case f.steps <- step{ev: ev}:
		return true
	case <-f.closed:
		return false
	case <-time.After(testTimeout):
		t.Fatal("stream reader never took the event")
		return false
	}
}

func (f *fakeStream) fail(t *testing.T, err error) {
	t.Helper()
	select {
	case f.steps <- step{err: err}:
	case <-time.After(testTimeout):
		t.Fatal("stream reader never took the error")
	}
}

// end finishes the stream normally.
func (f *fakeStream) end() {
	close(f.steps)
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// =============================================================================
// FAKE TRANSPORT
// =============================================================================

type fakeTransport struct {
	mu       sync.Mutex
	requests []agent.Request
	openErr  error
	gate     chan struct{}
	streams  chan *fakeStream
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{streams: make(chan *fakeStream, 16)}
}

func (f *fakeTransport) Open(ctx context.Context, req agent.Request) (Stream, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	err := f.openErr
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	s := newFakeStream()
	f.streams <- s
	return s, nil
}

// next returns the stream opened by the next generation.
func (f *fakeTransport) next(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-f.streams:
		return s
	case <-time.After(testTimeout):
		t.Fatal("no stream was opened")
		return nil
	}
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	for i, r := range f.requests {
		out[i] = r.Message
	}
	return out
}

// =============================================================================
// EVENT HELPERS
// =============================================================================

func textEvent(id, text, date string) agent.Event {
	return agent.Event{
		Kind: agent.KindAssistantMessage,
		Payload: agent.Payload{
			ID:               id,
			AssistantMessage: &text,
			Date:             date,
		},
	}
}

func errorEvent(msg string) agent.Event {
	return agent.Event{
		Kind:    agent.KindInternalError,
		Payload: agent.Payload{InternalError: &msg},
	}
}

func monologueEvent(text string) agent.Event {
	return agent.Event{
		Kind:    agent.KindInternalMonologue,
		Payload: agent.Payload{InternalMonologue: &text},
	}
}

func malformedEvent() agent.Event {
	return agent.Event{Kind: agent.KindMalformed, Data: []byte("garbage")}
}

// waitIdle waits for the session to settle.
func waitIdle(t *testing.T, s *Session) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("session did not become idle: %v", err)
	}
	return s.State()
}

// eventually waits until cond holds for the current state.
func eventually(t *testing.T, s *Session, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		st := s.State()
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met; last state: phase=%s history=%d", st.Phase, len(st.History))
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// countingRecorder tallies recorder calls.
type countingRecorder struct {
	mu       sync.Mutex
	outcomes []string
	events   map[string]int
	firsts   int
}

func (r *countingRecorder) OpenAttempt(string) {}

func (r *countingRecorder) StreamEvent(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string]int)
	}
	r.events[kind]++
}

func (r *countingRecorder) FirstEvent(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.firsts++
}

func (r *countingRecorder) GenerationFinished(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *countingRecorder) snapshot() ([]string, map[string]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	events := make(map[string]int, len(r.events))
	for k, v := range r.events {
		events[k] = v
	}
	return append([]string(nil), r.outcomes...), events, r.firsts
}
