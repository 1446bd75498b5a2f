package auditlog

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdamLaszab/zadanie-skuska/internal/audit"
)

type fakeSource struct {
	entries []audit.Entry
	err     error
	calls   []int
}

func (f *fakeSource) List(_ context.Context, page, perPage int) (audit.Page, error) {
	f.calls = append(f.calls, page)
	if f.err != nil {
		return audit.Page{}, f.err
	}
	start := min((page-1)*perPage, len(f.entries))
	end := min(start+perPage, len(f.entries))
	return audit.Page{Entries: f.entries[start:end], Page: page, PerPage: perPage, Total: int64(len(f.entries))}, nil
}

func entries(n int) []audit.Entry {
	actor := "principal:ci"
	out := make([]audit.Entry, 0, n)
	for i := n; i > 0; i-- {
		e := audit.Entry{
			ID:        int64(i),
			Action:    "merge_success",
			Channel:   audit.ChannelAPI,
			Detail:    "Merged 2 files",
			ClientIP:  "10.0.0.1",
			Country:   "Slovakia",
			CreatedAt: time.Date(2026, 5, 1, 9, 0, i, 0, time.UTC),
		}
		if i%2 == 0 {
			e.ActorID = &actor
			e.Action = "download_failed"
		}
		out = append(out, e)
	}
	return out
}

// step runs cmd and feeds its message back into the model.
func step(t *testing.T, m tea.Model, cmd tea.Cmd) tea.Model {
	t.Helper()
	require.NotNil(t, cmd)
	m, _ = m.Update(cmd())
	return m
}

func TestBrowserPages(t *testing.T) {
	src := &fakeSource{entries: entries(5)}
	b := New(src, 2)
	var m tea.Model = *b
	m, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = step(t, m, b.Init())

	view := m.View()
	assert.Contains(t, view, "page 1/3")
	assert.Contains(t, view, "(5 entries)")
	assert.Contains(t, view, "#5 merge_success")
	assert.Contains(t, view, "Location: Slovakia")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	m = step(t, m, cmd)
	assert.Contains(t, m.View(), "page 2/3")
	assert.Contains(t, m.View(), "#3 merge_success")

	m, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	m = step(t, m, cmd)
	assert.Contains(t, m.View(), "page 1/3")
	assert.Equal(t, []int{1, 2, 1}, src.calls)
}

func TestBrowserStopsAtEdges(t *testing.T) {
	src := &fakeSource{entries: entries(1)}
	b := New(src, 10)
	var m tea.Model = *b
	m = step(t, m, b.Init())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'p'}})
	assert.Nil(t, cmd)
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	assert.Nil(t, cmd)
	assert.Equal(t, []int{1}, src.calls)
}

func TestBrowserShowsError(t *testing.T) {
	src := &fakeSource{err: errors.New("database is locked")}
	b := New(src, 10)
	var m tea.Model = *b
	m = step(t, m, b.Init())

	assert.Contains(t, m.View(), "database is locked")
	assert.Contains(t, m.View(), "No entry selected")
}
