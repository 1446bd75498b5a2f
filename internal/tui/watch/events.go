package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AdamLaszab/zadanie-skuska/internal/events"
)

const maxEventRows = 10

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Heading.Render("EVENT STREAM"),
			theme.Muted.Render("  Waiting for events..."),
		)
		return theme.Panel.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= maxEventRows {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Heading.Render("EVENT STREAM"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return theme.Panel.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	kind := theme.ForEvent(e.Type).Render(fmt.Sprintf("%-18s", e.Type))
	return theme.Muted.Render(e.At.Format("15:04:05")) + " " + kind + " " + describeEvent(e)
}

// describeEvent picks the few payload fields worth a glance.
func describeEvent(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if id, ok := data["batch_id"].(string); ok {
		parts = append(parts, fmt.Sprintf("[%s]", shortID(id)))
	}
	for _, key := range []string{"operation", "display_name", "artifact", "code"} {
		if v, ok := data[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	if n, ok := data["count"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%d link(s)", int(n)))
	}
	if n, ok := data["deleted"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%d workspace(s)", int(n)))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
