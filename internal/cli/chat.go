// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command for memchat.
//
// Command: chat (also the default when no command is given)
//
// Examples:
//   memchat                           Start interactive chat
//   memchat chat --agent-id agent-1   Talk to a specific agent
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /cancel             Cancel the streaming reply
//   /history            Show the conversation so far
//   /clear-draft        Discard the unsent draft
//   /status, /s         Show session status
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel the streaming reply, or clear the prompt
//   Ctrl+D              Exit chat
//
// The prompt returns only after the reply has settled, so chat never
// submits while a reply streams and the busy policy does not come into play.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/memchat/internal/config"
	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/session"
	"github.com/jeranaias/memchat/internal/telemetry"
	"github.com/jeranaias/memchat/internal/util"
)

func newChatCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runChat(cmd.Context())
		},
	}
}

// =============================================================================
// INPUT
// =============================================================================

// LineReader reads one line of input, pre-filled with draft.
// It returns liner.ErrPromptAborted on Ctrl+C and io.EOF on Ctrl+D.
type LineReader interface {
	ReadLine(prompt, draft string) (string, error)
	Close() error
}

// linerInput provides history and line editing on a terminal.
type linerInput struct {
	line        *liner.State
	historyFile string
}

func newLinerInput() *linerInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	in := &linerInput{line: line, historyFile: filepath.Join(dir, "chat_history")}

	if f, err := os.Open(in.historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return in
}

func (l *linerInput) ReadLine(prompt, draft string) (string, error) {
	input, err := l.line.PromptWithSuggestion(prompt, draft, -1)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		l.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (l *linerInput) Close() error {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(l.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			l.line.WriteHistory(f)
			f.Close()
		}
	}
	return l.line.Close()
}

// plainInput reads lines from a non-terminal such as a pipe.
type plainInput struct {
	r *bufio.Reader
}

func newPlainInput(r io.Reader) *plainInput {
	return &plainInput{r: bufio.NewReader(r)}
}

func (p *plainInput) ReadLine(string, string) (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *plainInput) Close() error { return nil }

// =============================================================================
// CHAT LOOP
// =============================================================================

// chatLoop drives one interactive conversation.
type chatLoop struct {
	sess     *session.Session
	renderer *Renderer
	input    LineReader
	out      io.Writer
	errOut   io.Writer

	// interrupts delivers Ctrl+C while a reply streams
	interrupts <-chan os.Signal

	started time.Time
}

func (a *app) runChat(ctx context.Context) error {
	return a.withMetrics(ctx, func(ctx context.Context, rec telemetry.Recorder) error {
		sess, cleanup, err := a.newSession(rec)
		if err != nil {
			return err
		}
		defer cleanup()

		var input LineReader
		if a.in == os.Stdin && CanPrompt() {
			input = newLinerInput()
		} else {
			input = newPlainInput(a.in)
		}
		defer input.Close()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt)
		defer signal.Stop(sigCh)

		loop := &chatLoop{
			sess:       sess,
			input:      input,
			out:        a.out,
			errOut:     a.errOut,
			interrupts: sigCh,
			started:    time.Now(),
		}
		loop.renderer = NewRenderer(a.out)
		loop.renderer.Timestamps = a.cfg.UI.ShowTimestamps

		printWelcome(a.out, a.cfg)
		return loop.run(ctx)
	})
}

// run reads and handles input until the user quits, input ends or ctx is
// cancelled.
func (c *chatLoop) run(ctx context.Context) error {
	sub := c.sess.Subscribe()
	defer sub.Close()

	renderCtx, stopRender := context.WithCancel(ctx)
	defer stopRender()
	go c.renderer.Run(renderCtx, sub.Updates())

	prompt := RenderConditional(PromptStyle, "memchat> ")
	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := c.input.ReadLine(prompt, c.sess.State().Draft)
		if errors.Is(err, liner.ErrPromptAborted) {
			// Ctrl+C at the prompt discards the draft; a second one on an
			// empty prompt exits.
			if c.sess.State().Draft == "" {
				fmt.Fprintln(c.out)
				return nil
			}
			c.sess.SetDraft("")
			continue
		}
		if err != nil {
			fmt.Fprintln(c.out)
			printGoodbye(c.out, c.sess.State(), c.started)
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if !c.handleSlashCommand(line) {
				printGoodbye(c.out, c.sess.State(), c.started)
				return nil
			}
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			printGoodbye(c.out, c.sess.State(), c.started)
			return nil
		}

		if err := c.send(ctx, line); err != nil {
			return err
		}
	}
}

// send submits one message and blocks until its reply has been rendered.
// Ctrl+C while waiting cancels the reply.
func (c *chatLoop) send(ctx context.Context, text string) error {
	c.sess.SetDraft(text)
	before := len(c.sess.State().History)

	// Drop an interrupt that arrived while no reply was streaming.
	select {
	case <-c.interrupts:
	default:
	}

	if err := c.sess.Submit(text); err != nil {
		// The draft is kept so the next prompt offers it again.
		fmt.Fprintf(c.errOut, "%s %v\n", RenderConditional(WarningStyle, "[not sent]"), err)
		return nil
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		for {
			select {
			case <-waitCtx.Done():
				return
			case <-c.interrupts:
				c.sess.Cancel()
			}
		}
	}()

	_, err := c.renderer.WaitSettled(waitCtx, before+2)
	if err != nil && ctx.Err() != nil {
		c.sess.Cancel()
		return nil
	}
	return err
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs a slash command. It returns false to exit.
func (c *chatLoop) handleSlashCommand(line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	switch command {
	case "/help", "/h", "/?", "/":
		printHelp(c.out)
	case "/cancel":
		if !c.sess.Cancel() {
			fmt.Fprintln(c.out, RenderConditional(DimStyle, "[nothing to cancel]"))
		}
	case "/history":
		printHistory(c.out, c.sess.State().History)
	case "/clear-draft":
		c.sess.SetDraft("")
		fmt.Fprintln(c.out, RenderConditional(DimStyle, "[draft cleared]"))
	case "/status", "/s":
		printStatus(c.out, c.sess.State(), c.started)
	case "/quit", "/q", "/exit":
		return false
	default:
		fmt.Fprintf(c.errOut, "%s unknown command: %s (type /help for commands)\n",
			RenderConditional(ErrorStyle, "[Error]"), command)
	}
	return true
}

// =============================================================================
// DISPLAY FUNCTIONS
// =============================================================================

func printWelcome(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, RenderConditional(TitleStyle, "memchat"))
	fmt.Fprintln(w, RenderSeparator(30))
	fmt.Fprintf(w, "%s %s\n", RenderConditional(LabelStyle, "Agent:"), cfg.Agent.AgentID)
	fmt.Fprintf(w, "%s %s\n", RenderConditional(LabelStyle, "Server:"), cfg.Agent.BaseURL)
	fmt.Fprintln(w, RenderConditional(DimStyle, "Type a message and press Enter. Commands: /help, /quit"))
	fmt.Fprintln(w)
}

func printHelp(w io.Writer) {
	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/cancel", "Cancel the streaming reply"},
		{"/history", "Show the conversation so far"},
		{"/clear-draft", "Discard the unsent draft"},
		{"/status, /s", "Show session status"},
		{"/quit, /q", "Exit chat"},
	}

	fmt.Fprintln(w, RenderConditional(TitleStyle, "Available Commands"))
	for _, c := range commands {
		fmt.Fprintf(w, "  %s  %s\n",
			RenderConditional(CommandStyle, fmt.Sprintf("%-14s", c.cmd)),
			c.desc)
	}
	fmt.Fprintln(w, RenderConditional(DimStyle, "Ctrl+C cancels a streaming reply, Ctrl+D exits"))
}

// previewWidth is the room left for a message after its number and label.
func previewWidth() int {
	return GetTerminalWidth() - 16
}

func printHistory(w io.Writer, history []model.Message) {
	if len(history) == 0 {
		fmt.Fprintln(w, RenderConditional(DimStyle, "[No messages yet]"))
		return
	}
	for i, msg := range history {
		label := RenderConditional(UserStyle, msg.Role.DisplayName())
		if msg.Role != model.RoleUser {
			label = RenderConditional(AgentStyle, msg.Role.DisplayName())
		}
		text := util.TruncateWidth(util.SingleLine(msg.Content), previewWidth())
		switch {
		case !msg.Done:
			text += " " + RenderConditional(DimStyle, "[streaming]")
		case msg.Status == model.StatusCancelled:
			text += " " + RenderConditional(WarningStyle, "[cancelled]")
		case msg.Failed():
			text += " " + RenderConditional(ErrorStyle, "[error: "+msg.Error+"]")
		}
		fmt.Fprintf(w, "  %d. %s: %s\n", i+1, label, text)
	}
}

func printStatus(w io.Writer, st session.State, started time.Time) {
	fmt.Fprintf(w, "  %s %s\n", RenderConditional(LabelStyle, "Phase:"), st.Phase)
	fmt.Fprintf(w, "  %s %d\n", RenderConditional(LabelStyle, "Messages:"), len(st.History))
	fmt.Fprintf(w, "  %s %d\n", RenderConditional(LabelStyle, "Queued:"), len(st.Queued))
	if p := st.Pending(); p != nil {
		fmt.Fprintf(w, "  %s %s\n", RenderConditional(LabelStyle, "Streaming:"),
			util.Tail(util.SingleLine(p.Content), previewWidth()))
	}
	if st.Draft != "" {
		fmt.Fprintf(w, "  %s %s\n", RenderConditional(LabelStyle, "Draft:"),
			util.TruncateWidth(util.SingleLine(st.Draft), previewWidth()))
	}
	fmt.Fprintf(w, "  %s %s\n", RenderConditional(LabelStyle, "Duration:"), time.Since(started).Round(time.Second))
}

func printGoodbye(w io.Writer, st session.State, started time.Time) {
	replies := 0
	for _, msg := range st.History {
		if msg.Role == model.RoleAssistant && msg.Status == model.StatusComplete {
			replies++
		}
	}
	if replies > 0 {
		fmt.Fprintf(w, "%s %d replies in %s\n",
			RenderConditional(DimStyle, "Session:"), replies, time.Since(started).Round(time.Second))
	}
	fmt.Fprintln(w, RenderConditional(DimStyle, "Goodbye!"))
}
