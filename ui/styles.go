// Package ui provides the interactive front-ends for vpnd-client.
// This file contains the terminal color theme and styles.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// palette holds one color per role, in a light and a dark variant.
type palette struct {
	accent  lipgloss.AdaptiveColor
	secure  lipgloss.AdaptiveColor
	pending lipgloss.AdaptiveColor
	danger  lipgloss.AdaptiveColor
	muted   lipgloss.AdaptiveColor
	text    lipgloss.AdaptiveColor
}

var defaultPalette = palette{
	accent:  lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"},
	secure:  lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#66BB6A"},
	pending: lipgloss.AdaptiveColor{Light: "#EF6C00", Dark: "#FFB74D"},
	danger:  lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#EF5350"},
	muted:   lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"},
	text:    lipgloss.AdaptiveColor{Light: "#212121", Dark: "#EEEEEE"},
}

// Styles is the set of lipgloss styles used by the TUI.
type Styles struct {
	Title   lipgloss.Style
	Hint    lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Secure  lipgloss.Style
	Pending lipgloss.Style
	Danger  lipgloss.Style
	Muted   lipgloss.Style
	Banner  lipgloss.Style
}

// NewStyles returns the styles for theme: "light", "dark" or "auto".
// "auto" follows the terminal background.
func NewStyles(theme string) Styles {
	pick := func(c lipgloss.AdaptiveColor) lipgloss.TerminalColor {
		switch theme {
		case "light":
			return lipgloss.Color(c.Light)
		case "dark":
			return lipgloss.Color(c.Dark)
		}
		return c
	}
	p := defaultPalette

	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(pick(p.accent)),
		Hint:    lipgloss.NewStyle().Foreground(pick(p.muted)),
		Label:   lipgloss.NewStyle().Width(16).Foreground(pick(p.muted)),
		Value:   lipgloss.NewStyle().Foreground(pick(p.text)),
		Secure:  lipgloss.NewStyle().Bold(true).Foreground(pick(p.secure)),
		Pending: lipgloss.NewStyle().Bold(true).Foreground(pick(p.pending)),
		Danger:  lipgloss.NewStyle().Bold(true).Foreground(pick(p.danger)),
		Muted:   lipgloss.NewStyle().Foreground(pick(p.muted)),
		Banner: lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(pick(p.pending)),
	}
}
