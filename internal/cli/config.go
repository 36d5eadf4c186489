// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for memchat.
//
// Command: config [subcommand]
//
// Subcommands:
//   show (default)      Display the effective configuration
//   get <key>           Print one value
//   set <key> <value>   Set a value in the config file
//   init [--force]      Write a config file with the defaults
//   path                Show configuration file path
//   keys                List every key
//
// Examples:
//   memchat config
//   memchat config set agent.agent_id agent-0f1e2d
//   memchat config set session.busy_policy queue
//   memchat config get stream.idle_timeout_secs
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jeranaias/memchat/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	noValidate := map[string]string{annotationNoValidate: "true"}

	cmd := &cobra.Command{
		Use:         "config",
		Short:       "View and modify configuration",
		Args:        cobra.NoArgs,
		Annotations: noValidate,
		RunE: func(*cobra.Command, []string) error {
			return a.configShow()
		},
	}

	show := &cobra.Command{
		Use:         "show",
		Short:       "Display the effective configuration (token redacted)",
		Args:        cobra.NoArgs,
		Annotations: noValidate,
		RunE: func(*cobra.Command, []string) error {
			return a.configShow()
		},
	}

	get := &cobra.Command{
		Use:         "get <key>",
		Short:       "Print one effective configuration value",
		Args:        cobra.ExactArgs(1),
		Annotations: noValidate,
		RunE: func(_ *cobra.Command, args []string) error {
			if args[0] == "agent.token" {
				return &UsageError{Err: errors.New("agent.token is not printed; use config show")}
			}
			v, err := a.cfg.Get(args[0])
			if err != nil {
				return &UsageError{Err: err}
			}
			fmt.Fprintln(a.out, v)
			return nil
		},
	}

	set := &cobra.Command{
		Use:         "set <key> <value>",
		Short:       "Set a value in the config file",
		Args:        cobra.ExactArgs(2),
		Annotations: noValidate,
		RunE: func(_ *cobra.Command, args []string) error {
			return a.configSet(args[0], args[1])
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with the defaults",
		Args:        cobra.NoArgs,
		Annotations: noValidate,
		RunE: func(*cobra.Command, []string) error {
			return a.configInit(force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	path := &cobra.Command{
		Use:         "path",
		Short:       "Show the configuration file path",
		Args:        cobra.NoArgs,
		Annotations: noValidate,
		RunE: func(*cobra.Command, []string) error {
			p, err := a.configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, p)
			return nil
		},
	}

	keys := &cobra.Command{
		Use:         "keys",
		Short:       "List every configuration key",
		Args:        cobra.NoArgs,
		Annotations: noValidate,
		RunE: func(*cobra.Command, []string) error {
			for _, k := range config.Keys() {
				fmt.Fprintln(a.out, k)
			}
			return nil
		},
	}

	cmd.AddCommand(show, get, set, initCmd, path, keys)
	return cmd
}

func (a *app) configPath() (string, error) {
	if a.flags.configPath != "" {
		return a.flags.configPath, nil
	}
	return config.ConfigPath()
}

func (a *app) configShow() error {
	fmt.Fprintln(a.out, a.cfg.String())
	if err := a.cfg.Validate(); err != nil {
		fmt.Fprintf(a.errOut, "%s %v\n", RenderConditional(WarningStyle, "[invalid]"), err)
	}
	return nil
}

// configSet edits the file itself, so environment overrides and flags are
// not written back.
func (a *app) configSet(key, value string) error {
	path, err := a.configPath()
	if err != nil {
		return err
	}

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if cfg, err = config.LoadTOML(path); err != nil {
			return err
		}
	}

	if err := cfg.Set(key, value); err != nil {
		return &UsageError{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.SaveTo(path); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s updated\n", RenderConditional(SuccessStyle, "[OK]"), key)
	return nil
}

func (a *app) configInit(force bool) error {
	path, err := a.configPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if a.flags.configPath == "" {
		if err := config.EnsureConfigDir(); err != nil {
			return err
		}
	}
	if err := config.Default().SaveTo(path); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s wrote %s\n", RenderConditional(SuccessStyle, "[OK]"), path)
	return nil
}
