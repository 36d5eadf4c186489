// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

const ellipsis = "..."

// TruncateWidth truncates a string to a maximum terminal display width.
// Wide characters (CJK, most emoji) count as two columns.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= len(ellipsis) {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, ellipsis)
}

// SingleLine collapses newlines and runs of whitespace into single spaces,
// for status lines and previews.
func SingleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Tail returns the last maxWidth columns of s, prefixed with "..." when
// anything was cut. Used to show the growing end of a streamed reply.
func Tail(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= len(ellipsis) {
		return ""
	}
	budget := maxWidth - len(ellipsis)
	runes := []rune(s)
	width := 0
	i := len(runes)
	for i > 0 {
		w := runewidth.RuneWidth(runes[i-1])
		if width+w > budget {
			break
		}
		width += w
		i--
	}
	return ellipsis + string(runes[i:])
}
