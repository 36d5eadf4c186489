// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for memchat.
//
// Configuration is TOML with sensible defaults, .env support, environment
// variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - AgentConfig: Remote agent location and credentials
//   - StreamConfig: Open retries and the idle watchdog
//   - SessionConfig: Busy policy for overlapping submissions
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Command-line flags
//   - Environment variables (MEMCHAT_*), including those from ./.env
//   - ~/.memchat/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config
