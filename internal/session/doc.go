// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session implements the chat session state machine.
//
// A Session owns the conversation history and at most one in-flight
// generation. Submitting a message inserts the user message and an empty
// assistant reply immediately, then a background task opens a stream and
// applies each event to the pending reply. Stream end, failure or
// cancellation resolves the reply to a terminal status.
//
// # Phases
//
//	Idle --Submit--> Streaming
//	Streaming --event--> Streaming
//	Streaming --close | error | Cancel--> Finalizing
//	Finalizing --task released--> Idle
//	Finalizing --Submit--> Streaming
//
// # Key Types
//
//   - Session: History plus streaming controller
//   - State: Immutable snapshot handed to views
//   - Subscription: Latest-wins feed of State snapshots
//   - Transport: Opens a reply stream (satisfied by the agent client)
//
// # Usage
//
//	sess := session.New(session.FromClient(client),
//	    session.WithIdleTimeout(time.Minute),
//	    session.WithLogger(logger))
//	defer sess.Close()
//
//	sub := sess.Subscribe()
//	go func() {
//	    for st := range sub.Updates() {
//	        render(st)
//	    }
//	}()
//
//	if err := sess.Submit("hi"); err != nil {
//	    ...
//	}
//
// # Thread Safety
//
// All methods are safe for concurrent use. Mutations are serialised behind a
// single mutex and publishing to subscribers never blocks.
package session
