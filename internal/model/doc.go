// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for the chat transcript.
//
// This package defines the domain types the session layer mutates and the
// view layer reads: messages, their roles and terminal status, and the
// ordered conversation history.
//
// # Key Types
//
//   - Message: Single message with role, content, timestamp and completion state
//   - History: Ordered transcript, append-only except for the pending reply
//   - Role: Message role enumeration (user, assistant, system)
//   - Status: Terminal outcome of an assistant reply
//
// # Usage
//
// Record a request/response pair:
//
//	var h model.History
//	h.Append(model.NewUserMessage("Hello!"))
//	h.Append(model.NewAssistantPlaceholder())
//	h.Pending().Replace("srv-1", "Hi there", time.Now())
//	h.Pending().Resolve(model.StatusComplete, "")
//
// History is not safe for concurrent use; the session serialises access.
package model
