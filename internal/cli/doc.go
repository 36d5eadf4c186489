// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the memchat command line.
//
// # Commands
//
//   - chat: interactive REPL (default)
//   - ask: send one message and print the reply
//   - mock-agent: run a local development agent server
//   - config: show and edit configuration
//   - version: print build information
//
// # Usage
//
//	os.Exit(cli.Execute(ctx))
//
// Commands return errors; Execute prints them and maps them to exit codes
// with ExitCode.
package cli
