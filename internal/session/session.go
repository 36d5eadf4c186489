// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/memchat/internal/agent"
	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/telemetry"
)

// DefaultMaxQueued is the default capacity of the submission queue.
const DefaultMaxQueued = 8

// =============================================================================
// SESSION
// =============================================================================

// Session is the single conversation of a process run.
type Session struct {
	transport Transport

	// Configuration, fixed after New
	policy      BusyPolicy
	maxQueued   int
	idleTimeout time.Duration
	recorder    telemetry.Recorder
	logger      zerolog.Logger

	mu      sync.Mutex
	draft   string
	history model.History
	phase   Phase
	queue   []queuedSubmission
	gen     *generation
	genSeq  uint64
	lastErr error
	closed  bool
	subs    map[*Subscription]struct{}
	changed chan struct{}

	tasks sync.WaitGroup
}

// queuedSubmission is a message held back by the queue busy policy.
type queuedSubmission struct {
	Text       string
	EnqueuedAt time.Time
}

// generation is one submission's stream task. Its identity decides whether
// an event may still touch history.
type generation struct {
	id       uint64
	ctx      context.Context
	cancel   context.CancelCauseFunc
	text     string
	reply    *model.Message
	started  time.Time
	events   int
	resolved bool
}

// Option configures a Session.
type Option func(*Session)

// WithBusyPolicy sets what Submit does while a reply is streaming.
func WithBusyPolicy(p BusyPolicy) Option {
	return func(s *Session) {
		if p == BusyReject || p == BusyQueue {
			s.policy = p
		}
	}
}

// WithMaxQueued sets the queue capacity for BusyQueue.
func WithMaxQueued(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxQueued = n
		}
	}
}

// WithIdleTimeout fails a generation that goes d without an event.
// Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.idleTimeout = d
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r telemetry.Recorder) Option {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = l.With().Str("component", "session").Logger()
	}
}

// New creates an idle session with an empty history.
func New(t Transport, opts ...Option) *Session {
	s := &Session{
		transport: t,
		policy:    BusyReject,
		maxQueued: DefaultMaxQueued,
		recorder:  telemetry.Nop{},
		logger:    zerolog.Nop(),
		subs:      make(map[*Subscription]struct{}),
		changed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// SetDraft replaces the unsent input text.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draft == text {
		return
	}
	s.draft = text
	s.publishLocked()
}

// Submit sends text to the agent. The user message and an empty reply are
// in history by the time Submit returns; the network work happens in the
// background. While a reply is streaming the busy policy applies.
func (s *Session) Submit(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	// Queued submissions keep their order even while finalizing.
	busy := s.phase == PhaseStreaming || len(s.queue) > 0
	if busy {
		if s.policy != BusyQueue {
			return ErrBusy
		}
		if len(s.queue) >= s.maxQueued {
			return ErrQueueFull
		}
		s.queue = append(s.queue, queuedSubmission{Text: text, EnqueuedAt: time.Now()})
		s.draft = ""
		s.logger.Debug().Int("queued", len(s.queue)).Msg("submission queued")
		s.publishLocked()
		return nil
	}

	s.draft = ""
	return s.startLocked(text)
}

// Cancel stops the streaming reply, resolving it as cancelled, and drops
// any queued submissions. It reports whether a reply was cancelled.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := len(s.queue)
	s.queue = nil

	if s.phase != PhaseStreaming {
		if dropped > 0 {
			s.publishLocked()
		}
		return false
	}

	g := s.gen
	g.cancel(ErrCancelled)
	s.resolveLocked(g, model.StatusCancelled, nil)
	s.logger.Info().Uint64("generation", g.id).Int("dropped", dropped).Msg("generation cancelled")
	return true
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Wait blocks until the session is idle with nothing queued, or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.phase == PhaseIdle && len(s.queue) == 0 {
			s.mu.Unlock()
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Close cancels any streaming reply, waits for the stream task to release
// the transport and closes every subscription. It is safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	if s.phase == PhaseStreaming {
		s.gen.cancel(ErrClosed)
		s.resolveLocked(s.gen, model.StatusCancelled, nil)
	}
	s.mu.Unlock()

	s.tasks.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		sub.closeLocked()
	}
	return nil
}

// =============================================================================
// GENERATION LIFECYCLE
// =============================================================================

// startLocked inserts the exchange and launches the stream task.
func (s *Session) startLocked(text string) error {
	reply, err := s.history.AppendExchange(text)
	if err != nil {
		return err
	}

	s.genSeq++
	ctx, cancel := context.WithCancelCause(context.Background())
	g := &generation{
		id:      s.genSeq,
		ctx:     ctx,
		cancel:  cancel,
		text:    text,
		reply:   reply,
		started: time.Now(),
	}
	s.gen = g
	s.lastErr = nil
	s.phase = PhaseStreaming
	s.publishLocked()

	s.logger.Info().Uint64("generation", g.id).Int("history", s.history.Len()).Msg("generation started")

	s.tasks.Add(1)
	go s.run(g)
	return nil
}

// run owns the stream for one generation.
func (s *Session) run(g *generation) {
	defer s.tasks.Done()
	defer s.release(g)
	defer g.cancel(nil)

	stream, err := s.transport.Open(g.ctx, agent.Request{Message: g.text, Role: model.RoleUser})
	if err != nil {
		s.fail(g, err)
		return
	}
	defer stream.Close()

	// Cancelling the generation closes the stream, which unblocks Next.
	stop := context.AfterFunc(g.ctx, func() { stream.Close() })
	defer stop()

	var idle *time.Timer
	if s.idleTimeout > 0 {
		idle = time.AfterFunc(s.idleTimeout, func() { g.cancel(ErrStreamIdle) })
		defer idle.Stop()
	}

	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) && context.Cause(g.ctx) == nil {
				s.complete(g)
			} else {
				s.fail(g, err)
			}
			return
		}
		if idle != nil {
			idle.Reset(s.idleTimeout)
		}
		if !s.apply(g, ev) {
			return
		}
	}
}

// apply mutates the pending reply for one event. It reports false once
// the generation is no longer current or has been resolved.
func (s *Session) apply(g *generation, ev agent.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != g || g.resolved {
		return false
	}

	s.recorder.StreamEvent(string(ev.Kind))
	if g.events == 0 {
		s.recorder.FirstEvent(time.Since(g.started))
	}
	g.events++

	log := s.logger.With().Uint64("generation", g.id).Str("kind", string(ev.Kind)).Logger()

	switch ev.Kind {
	case agent.KindAssistantMessage:
		ts, ok := ev.Time()
		if !ok && ev.Payload.Date != "" {
			log.Debug().Str("date", ev.Payload.Date).Msg("unparsable event date")
		}
		if g.reply.Replace(ev.Payload.ID, ev.Text(), ts) {
			s.publishLocked()
		}

	case agent.KindInternalError:
		log.Warn().Str("error", ev.ErrorMessage()).Msg("agent reported error")
		s.resolveLocked(g, model.StatusFailed, &AgentError{Message: ev.ErrorMessage()})
		return false

	case agent.KindInternalMonologue, agent.KindFunctionCall, agent.KindFunctionReturn:
		log.Debug().Str("status", ev.Payload.Status).Msg("ignoring event")

	default:
		log.Warn().Bytes("data", truncate(ev.Data, 256)).Msg("ignoring unrecognised event")
	}
	return true
}

// complete resolves the reply after a normal end of stream.
func (s *Session) complete(g *generation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveLocked(g, model.StatusComplete, nil)
}

// fail resolves the reply after a transport error. A cancellation cause
// takes precedence over the error it provoked.
func (s *Session) fail(g *generation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cause := context.Cause(g.ctx)
	switch {
	case errors.Is(cause, ErrCancelled), errors.Is(cause, ErrClosed):
		s.resolveLocked(g, model.StatusCancelled, nil)
	case errors.Is(cause, ErrStreamIdle):
		s.resolveLocked(g, model.StatusFailed, ErrStreamIdle)
	default:
		s.logger.Warn().Uint64("generation", g.id).Err(err).Msg("generation failed")
		s.resolveLocked(g, model.StatusFailed, err)
	}
}

// resolveLocked moves the generation's reply to a terminal status exactly
// once and enters PhaseFinalizing. err is kept for State.Err and its text
// becomes the reply's error message.
func (s *Session) resolveLocked(g *generation, status model.Status, err error) {
	if s.gen != g || g.resolved {
		return
	}
	var errMsg string
	if err != nil {
		errMsg = err.Error()
	}
	g.resolved = true
	s.lastErr = err
	g.reply.Resolve(status, errMsg)
	s.phase = PhaseFinalizing

	elapsed := time.Since(g.started)
	s.recorder.GenerationFinished(string(status), elapsed)
	s.logger.Info().
		Uint64("generation", g.id).
		Str("status", string(status)).
		Int("events", g.events).
		Dur("elapsed", elapsed).
		Msg("generation finished")

	s.publishLocked()
}

// release runs after the stream task has let go of the transport. It
// returns the session to idle and starts the next queued submission.
func (s *Session) release(g *generation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A task that ends without resolving (it should not) still leaves a
	// terminal reply behind.
	if !g.resolved {
		s.resolveLocked(g, model.StatusFailed, errStreamEnded)
	}
	if s.gen != g {
		return
	}

	s.gen = nil
	s.phase = PhaseIdle

	if len(s.queue) > 0 && !s.closed {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.logger.Debug().Dur("waited", time.Since(next.EnqueuedAt)).Msg("starting queued submission")
		if err := s.startLocked(next.Text); err == nil {
			return
		}
	}
	s.publishLocked()
}

// =============================================================================
// PUBLISHING
// =============================================================================

// snapshotLocked builds a State. Generating is derived from history.
func (s *Session) snapshotLocked() State {
	st := State{
		Draft:      s.draft,
		Generating: s.history.Pending() != nil,
		Phase:      s.phase,
		History:    s.history.Snapshot(),
		Err:        s.lastErr,
	}
	if len(s.queue) > 0 {
		st.Queued = make([]string, len(s.queue))
		for i, q := range s.queue {
			st.Queued[i] = q.Text
		}
	}
	return st
}

// publishLocked hands the current state to every subscriber and wakes
// waiters. It never blocks.
func (s *Session) publishLocked() {
	close(s.changed)
	s.changed = make(chan struct{})

	if len(s.subs) == 0 {
		return
	}
	st := s.snapshotLocked()
	for sub := range s.subs {
		sub.offer(st)
	}
}

// truncate shortens b for logging.
func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
