// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// render.go - Prints session snapshots to the terminal as a transcript.

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/session"
)

// Renderer turns a sequence of session snapshots into append-only terminal
// output. Each stream event carries the whole reply so far, so only the new
// suffix is printed; a reply that is revised rather than extended is printed
// again in full on a fresh line.
type Renderer struct {
	out io.Writer

	// EchoUser prints user messages. The REPL leaves it off because the
	// terminal already shows what was typed.
	EchoUser bool

	// Timestamps prefixes each message with its time.
	Timestamps bool

	mu       sync.Mutex
	printed  int    // messages fully rendered
	partial  string // text of the pending reply already on screen
	started  bool   // header of the pending reply is on screen
	last     session.State
	rendered chan struct{}
}

// NewRenderer creates a renderer writing to out.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{
		out:      out,
		rendered: make(chan struct{}),
	}
}

// Run renders every snapshot from updates until the channel closes or ctx
// ends.
func (r *Renderer) Run(ctx context.Context, updates <-chan session.State) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			r.Render(st)
		}
	}
}

// Render prints whatever st adds to the transcript already on screen.
// Rendering the same snapshot twice prints nothing the second time.
func (r *Renderer) Render(st session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.printed < len(st.History) {
		msg := st.History[r.printed]
		switch {
		case msg.Role == model.RoleUser:
			if r.EchoUser {
				fmt.Fprintf(r.out, "%s%s %s\n", r.stamp(msg), RenderConditional(UserStyle, msg.Role.DisplayName()+":"), msg.Content)
			}
			r.printed++
			continue
		case !msg.Done:
			r.grow(msg)
		default:
			r.grow(msg)
			r.finish(msg)
			r.printed++
			continue
		}
		break
	}

	r.last = st
	close(r.rendered)
	r.rendered = make(chan struct{})
}

// grow prints the unseen part of a reply.
func (r *Renderer) grow(msg model.Message) {
	if !r.started {
		fmt.Fprintf(r.out, "%s%s ", r.stamp(msg), RenderConditional(AgentStyle, msg.Role.DisplayName()+":"))
		r.started = true
	}
	switch {
	case msg.Content == r.partial:
	case strings.HasPrefix(msg.Content, r.partial):
		io.WriteString(r.out, msg.Content[len(r.partial):])
	default:
		fmt.Fprintf(r.out, "\n%s %s", RenderConditional(DimStyle, "~"), msg.Content)
	}
	r.partial = msg.Content
}

// finish ends a reply's line and reports how it ended.
func (r *Renderer) finish(msg model.Message) {
	switch msg.Status {
	case model.StatusCancelled:
		if r.partial != "" {
			io.WriteString(r.out, " ")
		}
		io.WriteString(r.out, RenderConditional(WarningStyle, "[cancelled]"))
	case model.StatusFailed:
		if r.partial != "" {
			io.WriteString(r.out, "\n")
		}
		io.WriteString(r.out, RenderConditional(ErrorStyle, "[error] "+msg.Error))
	}
	io.WriteString(r.out, "\n")
	r.partial = ""
	r.started = false
}

func (r *Renderer) stamp(msg model.Message) string {
	if !r.Timestamps || !msg.HasTimestamp() {
		return ""
	}
	return RenderConditional(DimStyle, msg.Timestamp.Local().Format("15:04:05")) + " "
}

// WaitSettled blocks until the renderer has drawn a snapshot holding at least
// minLen messages with nothing streaming or queued, and returns it.
func (r *Renderer) WaitSettled(ctx context.Context, minLen int) (session.State, error) {
	for {
		r.mu.Lock()
		st := r.last
		ch := r.rendered
		r.mu.Unlock()

		if len(st.History) >= minLen && !st.Generating && len(st.Queued) == 0 {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ch:
		}
	}
}
