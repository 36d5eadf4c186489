// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot message command for memchat.
//
// Command: ask [message...]
//
// Examples:
//   memchat ask "What do you remember about me?"
//   echo "hello" | memchat ask
//   memchat ask --json --timeout 30s "status report"
//
// The reply streams to stdout. The exit status is non-zero when the reply
// fails or is cancelled.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/memchat/internal/logging"
	"github.com/jeranaias/memchat/internal/model"
	"github.com/jeranaias/memchat/internal/session"
	"github.com/jeranaias/memchat/internal/telemetry"
)

// maxStdinMessage bounds a message read from stdin.
const maxStdinMessage = 1 << 20

type askOptions struct {
	timeout time.Duration
	json    bool
}

func newAskCommand(a *app) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask [message...]",
		Short: "Send one message and print the reply",
		Long: `Send one message to the agent and print its reply as it streams.
With no arguments the message is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				data, err := io.ReadAll(io.LimitReader(a.in, maxStdinMessage))
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = string(data)
			}
			return a.runAsk(cmd.Context(), text, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "give up after this long (0 waits forever)")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the final reply as JSON instead of streaming it")
	return cmd
}

func (a *app) runAsk(ctx context.Context, text string, opts askOptions) error {
	defer logging.TraceDuration(a.logger, "ask")()

	return a.withMetrics(ctx, func(ctx context.Context, rec telemetry.Recorder) error {
		sess, cleanup, err := a.newSession(rec)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		if opts.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.timeout)
			defer cancel()
		}

		out := a.out
		if opts.json {
			out = io.Discard
		}
		renderer := NewRenderer(out)
		renderer.Timestamps = a.cfg.UI.ShowTimestamps

		sub := sess.Subscribe()
		defer sub.Close()
		renderCtx, stopRender := context.WithCancel(context.Background())
		defer stopRender()
		go renderer.Run(renderCtx, sub.Updates())

		if err := sess.Submit(text); err != nil {
			if errors.Is(err, session.ErrEmptyMessage) {
				return &UsageError{Err: err}
			}
			return err
		}

		st, err := renderer.WaitSettled(ctx, 2)
		if err != nil {
			// Resolve the reply as cancelled and let the renderer show it.
			sess.Cancel()
			settleCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			renderer.WaitSettled(settleCtx, 2)
			return err
		}

		reply := st.Last()
		if opts.json {
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(reply); err != nil {
				return err
			}
		}

		switch reply.Status {
		case model.StatusFailed:
			return &ReplyError{Status: reply.Status, Reason: reply.Error, Err: st.Err}
		case model.StatusCancelled:
			return &ReplyError{Status: reply.Status}
		}
		return nil
	})
}
