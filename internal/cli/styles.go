// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styling for the memchat CLI.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// applyColorProfile configures lipgloss for the current terminal. It runs
// after flags are parsed so --no-color takes effect.
func applyColorProfile() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for banners and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// PromptStyle is the REPL prompt
	PromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	// UserStyle labels the user's messages
	UserStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("75")) // Blue

	// AgentStyle labels the agent's replies
	AgentStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("141")) // Purple

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Light gray

	// SuccessStyle is used for success messages
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	// ErrorStyle is used for error messages and failed replies
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// WarningStyle is used for cancellations and warnings
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Yellow/Orange

	// DimStyle is used for hints and timestamps
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	// CommandStyle highlights slash commands in help output
	CommandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")) // Bright green
)

// =============================================================================
// HELPERS
// =============================================================================

// RenderConditional renders text with style if colors are enabled,
// otherwise returns the text unmodified.
func RenderConditional(style lipgloss.Style, text string) string {
	if !ColorsEnabled() {
		return text
	}
	return style.Render(text)
}

// RenderSeparator renders a horizontal rule of the given width.
func RenderSeparator(width int) string {
	if width <= 0 {
		width = 30
	}
	return RenderConditional(DimStyle, strings.Repeat("─", width))
}
