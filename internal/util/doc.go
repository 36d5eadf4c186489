// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across memchat.
//
// # Key Functions
//
// String Utilities:
//   - TruncateWidth, Tail: display-width aware truncation for the terminal
//   - SingleLine: whitespace collapsing for one-line previews
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
package util
