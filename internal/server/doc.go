// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides a development stand-in for the agent service.
//
// It implements the single endpoint memchat talks to so the client can be
// exercised without a real agent backend, and it doubles as the fixture for
// end-to-end tests.
//
// # Endpoints
//
//   - POST /api/agents/{agent_id}/message - Stream a reply as server-sent events
//   - GET  /health                        - Health check
//
// # Behaviour
//
// Each reply is produced by a Responder, which returns a Script: an optional
// internal monologue, a sequence of cumulative assistant_message texts, and
// optional failure modes (an internal_error frame, a stall, or a plain HTTP
// status). Only one message per agent is processed at a time; a concurrent
// request gets 423 Locked, as the real service does.
//
// # Security Features
//
//   - Bearer token authentication with constant-time comparison
//   - Request body size limit
//   - Panic recovery
package server
