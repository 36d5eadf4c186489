// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command, global flags and shared wiring for memchat.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/memchat/internal/agent"
	"github.com/jeranaias/memchat/internal/config"
	"github.com/jeranaias/memchat/internal/credential"
	"github.com/jeranaias/memchat/internal/logging"
	"github.com/jeranaias/memchat/internal/session"
	"github.com/jeranaias/memchat/internal/telemetry"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// APPLICATION STATE
// =============================================================================

// annotationNoValidate marks commands that run on an invalid config.
const annotationNoValidate = "memchat/no-validate"

// globalFlags are the persistent flags shared by every command. Empty or
// zero values leave the configuration untouched.
type globalFlags struct {
	configPath  string
	baseURL     string
	agentID     string
	tokenFile   string
	logLevel    string
	logFile     string
	metricsAddr string
	busyPolicy  string
	idleTimeout time.Duration
	noColor     bool
}

// app carries what PersistentPreRunE prepared to the command being run.
type app struct {
	flags  globalFlags
	cfg    *config.Config

	// idleTimeout is the exact stall limit; the config file only holds
	// whole seconds.
	idleTimeout time.Duration

	logger zerolog.Logger
	logs   io.Closer

	out    io.Writer
	errOut io.Writer
	in     io.Reader
}

// NewRootCommand builds the memchat command tree. Output goes to out and
// errOut; tests pass buffers.
func NewRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{in: in, out: out, errOut: errOut, logger: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "memchat",
		Short: "Chat with a stateful memory agent from the terminal",
		Long: `memchat talks to a stateful agent service. Each message is sent to one
agent and its reply is streamed back and shown as it grows.

Running memchat without a command starts an interactive chat.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd.Context())
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &UsageError{Err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configPath, "config", "", "config file (default ~/.memchat/config.toml)")
	pf.StringVar(&a.flags.baseURL, "base-url", "", "agent service URL")
	pf.StringVar(&a.flags.agentID, "agent-id", "", "agent to talk to")
	pf.StringVar(&a.flags.tokenFile, "token-file", "", "file holding the bearer token")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "trace, debug, info, warn, error or disabled")
	pf.StringVar(&a.flags.logFile, "log-file", "", `log file, or "stderr"`)
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&a.flags.busyPolicy, "busy-policy", "", "reject or queue messages sent while a reply streams (chat and ask wait for each reply, so only embedders of the session see a difference)")
	pf.DurationVar(&a.flags.idleTimeout, "idle-timeout", 0, "fail a reply after this long without events")
	pf.BoolVar(&a.flags.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newChatCommand(a),
		newAskCommand(a),
		newMockAgentCommand(a),
		newConfigCommand(a),
		newVersionCommand(a),
	)
	return root
}

// Execute runs memchat with os.Args and returns the process exit code.
func Execute(ctx context.Context) int {
	root := NewRootCommand(os.Stdin, os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", RenderConditional(ErrorStyle, "Error:"), err)
	}
	return ExitCode(err)
}

// setup loads configuration, applies flags and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	var (
		cfg *config.Config
		err error
	)
	if a.flags.configPath != "" {
		cfg, err = config.LoadFromPath(a.flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := a.applyFlags(cmd, cfg); err != nil {
		return err
	}
	// The config commands must work on a broken file so it can be fixed.
	if cmd.Annotations[annotationNoValidate] == "" {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	a.cfg = cfg

	if cfg.UI.NoColor {
		ForceColorsEnabled(false)
	}
	applyColorProfile()

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	a.logger = logger.With().Str("command", cmd.Name()).Logger()
	a.logs = closer
	ev := a.logger.Debug().Str("version", Version).Str("base_url", cfg.Agent.BaseURL)
	if cfg.Agent.Token != "" {
		ev = ev.Str("token", logging.Redact(cfg.Agent.Token))
	}
	ev.Msg("memchat start")
	return nil
}

// applyFlags lets explicitly set flags override file and environment.
func (a *app) applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := a.flags
	set := func(name string) bool { return cmd.Flags().Changed(name) }

	if set("base-url") {
		cfg.Agent.BaseURL = f.baseURL
	}
	if set("agent-id") {
		cfg.Agent.AgentID = f.agentID
	}
	if set("token-file") {
		cfg.Agent.TokenFile = f.tokenFile
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if set("log-file") {
		cfg.Log.File = f.logFile
	}
	if set("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if set("busy-policy") {
		cfg.Session.BusyPolicy = f.busyPolicy
	}
	a.idleTimeout = time.Duration(cfg.Stream.IdleTimeoutSecs) * time.Second
	if set("idle-timeout") {
		if f.idleTimeout < 0 {
			return &UsageError{Err: fmt.Errorf("invalid --idle-timeout %s: must not be negative", f.idleTimeout)}
		}
		a.idleTimeout = f.idleTimeout
		// Shown by config show; rounded up so a short limit never reads as 0.
		cfg.Stream.IdleTimeoutSecs = int((f.idleTimeout + time.Second - 1) / time.Second)
	}
	if set("no-color") {
		cfg.UI.NoColor = f.noColor
	}
	return nil
}

func (a *app) teardown() {
	if a.logs != nil {
		a.logs.Close()
	}
}

// =============================================================================
// WIRING
// =============================================================================

// credentials builds the token source: the literal token, then the token
// file, then the environment variable. The closer stops the file watcher.
func (a *app) credentials() (credential.Source, func(), error) {
	ac := a.cfg.Agent
	var chain credential.Chain
	cleanup := func() {}

	if ac.Token != "" {
		chain = append(chain, credential.Static(ac.Token))
	}
	if ac.TokenFile != "" {
		f, err := credential.NewFile(ac.TokenFile, a.logger)
		if err != nil {
			return nil, nil, err
		}
		chain = append(chain, f)
		cleanup = func() { f.Close() }
	}
	if ac.TokenEnv != "" {
		chain = append(chain, credential.Env(ac.TokenEnv))
	}
	return chain, cleanup, nil
}

// newSession connects a session to the configured agent.
func (a *app) newSession(rec telemetry.Recorder) (*session.Session, func(), error) {
	cfg := a.cfg
	if cfg.Agent.AgentID == "" {
		return nil, nil, fmt.Errorf("%w: set agent.agent_id, MEMCHAT_AGENT_ID or --agent-id", agent.ErrNoAgent)
	}

	policy, err := session.ParseBusyPolicy(cfg.Session.BusyPolicy)
	if err != nil {
		return nil, nil, err
	}

	creds, closeCreds, err := a.credentials()
	if err != nil {
		return nil, nil, err
	}

	client := agent.NewClient(cfg.Agent.BaseURL, cfg.Agent.AgentID, creds).
		WithMaxRetries(cfg.Stream.MaxRetries).
		WithRateLimit(cfg.Stream.RetryRateLimit).
		WithRecorder(rec).
		WithLogger(a.logger)
	a.logger.Debug().Str("agent_id", client.AgentID()).Str("base_url", client.BaseURL()).Msg("agent client ready")

	sess := session.New(session.FromClient(client),
		session.WithBusyPolicy(policy),
		session.WithMaxQueued(cfg.Session.MaxQueued),
		session.WithIdleTimeout(a.idleTimeout),
		session.WithRecorder(rec),
		session.WithLogger(a.logger.With().Str("agent_id", client.AgentID()).Logger()),
	)

	cleanup := func() {
		sess.Close()
		closeCreds()
	}
	return sess, cleanup, nil
}

// withMetrics runs fn with a recorder. When a metrics address is configured
// the Prometheus endpoint is served alongside fn and stopped when fn returns.
func (a *app) withMetrics(ctx context.Context, fn func(ctx context.Context, rec telemetry.Recorder) error) error {
	if a.cfg.Metrics.Addr == "" {
		return fn(ctx, telemetry.Nop{})
	}

	metrics := telemetry.NewMetrics()
	srv := telemetry.NewServer(a.cfg.Metrics.Addr, metrics)
	a.logger.Info().Str("addr", a.cfg.Metrics.Addr).Msg("serving metrics")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return fn(gctx, metrics)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	return g.Wait()
}

// =============================================================================
// VERSION
// =============================================================================

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(a.out, "memchat %s (%s, built %s, %s/%s)\n",
				Version, GitCommit, BuildDate, runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
