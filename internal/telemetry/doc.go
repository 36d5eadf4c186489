// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides generation metrics for memchat.
//
// The session and transport report through the Recorder interface. Nop
// discards everything and is the default; Metrics backs the interface with
// Prometheus collectors that can be served over HTTP.
//
// # Key Types
//
//   - Recorder: Hooks called by the session and transport
//   - Metrics: Prometheus-backed Recorder with its own registry
//   - Server: Optional /metrics endpoint
//
// # Usage
//
//	m := telemetry.NewMetrics()
//	sess := session.New(client, session.WithRecorder(m))
//	srv := telemetry.NewServer(":9090", m)
//	go srv.ListenAndServe()
//
// # Privacy
//
// Metrics carry outcome labels and durations only. Message content is never
// recorded.
package telemetry
