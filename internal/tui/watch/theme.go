// Package watch implements the pdfgate live dashboard. It polls /healthz,
// follows the /events stream and renders batch activity per operation.
package watch

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/AdamLaszab/zadanie-skuska/internal/events"
)

// Palette colours adapt to light and dark terminals.
var (
	colorGood   = lipgloss.AdaptiveColor{Light: "#1E7F3C", Dark: "#5FD787"}
	colorBusy   = lipgloss.AdaptiveColor{Light: "#A66A00", Dark: "#F0C674"}
	colorBad    = lipgloss.AdaptiveColor{Light: "#B3261E", Dark: "#FF6B6B"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#7A7A7A"}
	colorFaint  = lipgloss.AdaptiveColor{Light: "#C8C8C8", Dark: "#3F3F3F"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#2F5FA7", Dark: "#7AA2F7"}
	colorFrame  = lipgloss.AdaptiveColor{Light: "#7A3E9D", Dark: "#BB9AF7"}
)

// Theme is the set of styles the dashboard panels render with.
type Theme struct {
	Good  lipgloss.Style
	Busy  lipgloss.Style
	Bad   lipgloss.Style
	Muted lipgloss.Style
	Faint lipgloss.Style
	Note  lipgloss.Style

	Panel   lipgloss.Style
	Heading lipgloss.Style
	Label   lipgloss.Style
	Meter   lipgloss.Style
}

func NewDefaultTheme() Theme {
	fg := func(c lipgloss.TerminalColor) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return Theme{
		Good:  fg(colorGood),
		Busy:  fg(colorBusy),
		Bad:   fg(colorBad),
		Muted: fg(colorMuted),
		Faint: fg(colorFaint),
		Note:  fg(colorBusy).Italic(true),

		Panel:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorFrame),
		Heading: lipgloss.NewStyle().Bold(true).Padding(0, 1),
		Label:   fg(colorAccent).Bold(true),
		Meter:   fg(colorAccent),
	}
}

// ForEvent picks the style an event type is rendered with.
func (t Theme) ForEvent(eventType string) lipgloss.Style {
	switch eventType {
	case events.TypeBatchSucceeded, events.TypeDownloadRedeemed:
		return t.Good
	case events.TypeBatchFailed:
		return t.Bad
	case events.TypeBatchStarted:
		return t.Busy
	case events.TypeCapabilityReaped, events.TypeWorkspacesSwept:
		return t.Note
	}
	return t.Muted
}
