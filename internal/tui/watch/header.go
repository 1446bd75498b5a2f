package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState is the latest /healthz answer.
type HealthState struct {
	Status          string
	UptimeSeconds   int64
	BatchesInFlight int
	BatchCapacity   int
	AuthEnabled     bool
	Connected       bool
	LastCheck       time.Time
}

func renderHeader(health HealthState, ticker Ticker, pulse Pulse, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	statusText := theme.Good.Render("SERVING")
	if !health.Connected {
		statusText = theme.Bad.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.Bad.Render("DEGRADED")
	}

	lastEvent := "never"
	if !pulse.LastEvent().IsZero() {
		lastEvent = formatAgo(now.Sub(pulse.LastEvent()))
	}

	title := fmt.Sprintf(" PDFGATE WATCH %s", theme.Label.Render(ticker.Current()))
	clock := theme.Muted.Render(now.Format("15:04:05"))
	pad := max(1, innerWidth-lipgloss.Width(title)-lipgloss.Width(clock)-4)
	titleLine := title + strings.Repeat(" ", pad) + clock + " "

	authText := "open"
	if health.AuthEnabled {
		authText = "bearer"
	}
	statsLine := fmt.Sprintf(" %s  up %s  batches %d/%d %s  auth: %s",
		statusText,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.BatchesInFlight, health.BatchCapacity,
		theme.Meter.Render(gauge(health.BatchesInFlight, health.BatchCapacity, 16)),
		authText,
	)

	activityLine := fmt.Sprintf(" Last event: %s %s", lastEvent, pulse.Render(theme))

	return theme.Panel.Width(innerWidth).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine),
	)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func formatAgo(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
