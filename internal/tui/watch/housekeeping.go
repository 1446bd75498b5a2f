package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AdamLaszab/zadanie-skuska/internal/events"
)

// Housekeeping tracks downloads and the background reaper.
type Housekeeping struct {
	Downloads     int
	DownloadBytes int64
	LastDownload  string

	Reaped    int
	Swept     int
	Retained  int
	LastReap  time.Time
	LastSweep time.Time
}

// Apply folds one download or reaper event into h.
func (h *Housekeeping) Apply(e events.Event) {
	switch e.Type {
	case events.TypeDownloadRedeemed:
		var p events.DownloadRedeemed
		if json.Unmarshal(e.Data, &p) != nil {
			return
		}
		h.Downloads++
		h.DownloadBytes += p.Size
		h.LastDownload = p.DisplayName
	case events.TypeCapabilityReaped:
		var p events.CapabilityReaped
		if json.Unmarshal(e.Data, &p) != nil {
			return
		}
		h.Reaped += p.Count
		h.LastReap = e.At
	case events.TypeWorkspacesSwept:
		var p events.WorkspacesSwept
		if json.Unmarshal(e.Data, &p) != nil {
			return
		}
		h.Swept += p.Deleted
		h.Retained = p.Retained
		h.LastSweep = e.At
	}
}

func renderHousekeeping(h Housekeeping, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	downloads := fmt.Sprintf(" Downloads: %d (%s)", h.Downloads, humanBytes(h.DownloadBytes))
	if h.LastDownload != "" {
		downloads += theme.Muted.Render("  last: " + h.LastDownload)
	}

	reaper := fmt.Sprintf(" Expired links reaped: %d  Workspaces swept: %d  Retained: %d",
		h.Reaped, h.Swept, h.Retained)
	var seen []string
	if !h.LastReap.IsZero() {
		seen = append(seen, "reap "+formatAgo(now.Sub(h.LastReap)))
	}
	if !h.LastSweep.IsZero() {
		seen = append(seen, "sweep "+formatAgo(now.Sub(h.LastSweep)))
	}
	lines := []string{theme.Heading.Render("HOUSEKEEPING"), downloads, reaper}
	if len(seen) > 0 {
		lines = append(lines, theme.Muted.Render(" "+strings.Join(seen, ", ")))
	}
	return theme.Panel.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
