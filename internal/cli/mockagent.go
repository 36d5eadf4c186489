// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// mockagent.go - Runs the development agent server.
//
// Examples:
//   memchat mock-agent
//   memchat mock-agent --addr 127.0.0.1:9000 --token dev --delay 200ms
//   memchat mock-agent --reply "I remember everything."
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/memchat/internal/server"
)

type mockAgentOptions struct {
	addr  string
	token string
	reply string
	delay time.Duration
}

func newMockAgentCommand(a *app) *cobra.Command {
	var opts mockAgentOptions
	cmd := &cobra.Command{
		Use:   "mock-agent",
		Short: "Run a local agent server for development",
		Long: `Run a local server that implements the agent message endpoint.
It answers every message with a streamed reply, by default an echo.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runMockAgent(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", server.DefaultAddr, "listen address")
	cmd.Flags().StringVar(&opts.token, "token", "", "required bearer token (empty accepts any)")
	cmd.Flags().StringVar(&opts.reply, "reply", "", "fixed reply text instead of an echo")
	cmd.Flags().DurationVar(&opts.delay, "delay", 50*time.Millisecond, "pause before each streamed frame")
	return cmd
}

// mockResponder builds the responder the flags describe.
func mockResponder(opts mockAgentOptions) server.Responder {
	base := server.EchoResponder
	if opts.reply != "" {
		base = server.Fixed(server.Script{Replies: server.Cumulative(opts.reply)})
	}
	return func(req server.MessageRequest) server.Script {
		s := base(req)
		s.Delay = opts.delay
		return s
	}
}

func (a *app) runMockAgent(ctx context.Context, opts mockAgentOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(opts.addr).
		WithToken(opts.token).
		WithResponder(mockResponder(opts)).
		WithLogger(a.logger)

	fmt.Fprintf(a.out, "%s listening on http://%s\n", RenderConditional(SuccessStyle, "mock-agent"), opts.addr)
	if opts.token == "" {
		fmt.Fprintln(a.out, RenderConditional(DimStyle, "No token required; clients still need one configured (any value)."))
	}
	return srv.Run(ctx)
}
