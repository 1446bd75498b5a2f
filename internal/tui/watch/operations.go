package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AdamLaszab/zadanie-skuska/internal/events"
)

// OperationState aggregates the batches seen for one operation.
type OperationState struct {
	Name       string
	Active     map[string]*BatchState
	Succeeded  int
	Failed     int
	LastStatus string
	LastCode   string
	LastRun    time.Time
}

// BatchState is one batch between its started and finished events.
type BatchState struct {
	ID        string
	Operation string
	Inputs    int
	Channel   string
	StartTime time.Time
}

// Board is every operation seen since the dashboard started.
type Board map[string]*OperationState

func (b Board) operation(name string) *OperationState {
	op, ok := b[name]
	if !ok {
		op = &OperationState{Name: name, Active: make(map[string]*BatchState)}
		b[name] = op
	}
	return op
}

// Apply folds one batch event into the board. Other event types are
// ignored.
func (b Board) Apply(e events.Event) {
	switch e.Type {
	case events.TypeBatchStarted:
		var p events.BatchStarted
		if err := json.Unmarshal(e.Data, &p); err != nil || p.BatchID == "" {
			return
		}
		b.operation(p.Operation).Active[p.BatchID] = &BatchState{
			ID:        p.BatchID,
			Operation: p.Operation,
			Inputs:    p.Inputs,
			Channel:   p.Channel,
			StartTime: e.At,
		}

	case events.TypeBatchSucceeded, events.TypeBatchFailed:
		var p events.BatchFinished
		if err := json.Unmarshal(e.Data, &p); err != nil || p.BatchID == "" {
			return
		}
		op := b.operation(p.Operation)
		delete(op.Active, p.BatchID)
		op.LastRun = e.At
		op.LastCode = p.Code
		if e.Type == events.TypeBatchSucceeded {
			op.Succeeded++
			op.LastStatus = "succeeded"
		} else {
			op.Failed++
			op.LastStatus = "failed"
		}
	}
}

// Names returns operation names in stable order.
func (b Board) Names() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func renderOperations(board Board, selected int, theme Theme, width int, now time.Time) string {
	innerWidth := width - 4

	if len(board) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Heading.Render("OPERATIONS"),
			theme.Muted.Render("  No batches yet..."),
		)
		return theme.Panel.Width(innerWidth).Render(content)
	}

	lines := []string{theme.Heading.Render("OPERATIONS")}
	for i, name := range board.Names() {
		lines = append(lines, renderOperationRow(board[name], i == selected, theme, now))
	}
	return theme.Panel.Width(innerWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func renderOperationRow(op *OperationState, isSelected bool, theme Theme, now time.Time) string {
	nameStyle := lipgloss.NewStyle()
	if isSelected {
		nameStyle = nameStyle.Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))
	}

	state := theme.Muted.Render("[idle]")
	if n := len(op.Active); n > 0 {
		state = theme.Busy.Render(fmt.Sprintf("[%d running]", n))
	}

	totals := fmt.Sprintf("%s %s",
		theme.Good.Render(fmt.Sprintf("✔ %d", op.Succeeded)),
		theme.Bad.Render(fmt.Sprintf("✘ %d", op.Failed)),
	)

	var last string
	if !op.LastRun.IsZero() {
		last = "last " + formatAgo(now.Sub(op.LastRun))
		if op.LastStatus == "failed" && op.LastCode != "" {
			last += " " + theme.Bad.Render(op.LastCode)
		}
	}

	var row strings.Builder
	fmt.Fprintf(&row, " %s  %s  %s  %s", nameStyle.Render(fmt.Sprintf("%-16s", op.Name)), state, totals, last)

	ids := make([]string, 0, len(op.Active))
	for id := range op.Active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b := op.Active[id]
		fmt.Fprintf(&row, "\n    └─ %s %d file(s) via %s %s",
			theme.Label.Render(shortID(b.ID)),
			b.Inputs,
			b.Channel,
			theme.Muted.Render(now.Sub(b.StartTime).Round(time.Millisecond).String()),
		)
	}
	return row.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
