// Package auditlog is a terminal browser for the audit trail, paging
// through entries the same way GET /logs does.
package auditlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AdamLaszab/zadanie-skuska/internal/audit"
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#D14D41"))

	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle  = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

// Source is anything that can page through the trail: the local store or
// a remote server.
type Source interface {
	List(ctx context.Context, page, perPage int) (audit.Page, error)
}

type pageMsg audit.Page
type errMsg error

// Browser shows one page of entries in a table with the selected entry's
// detail underneath.
type Browser struct {
	src     Source
	perPage int

	width  int
	height int

	page    audit.Page
	table   table.Model
	detail  viewport.Model
	loading bool
	err     error
}

// New creates a browser starting at page 1.
func New(src Source, perPage int) *Browser {
	if perPage <= 0 {
		perPage = 50
	}
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 6},
			{Title: "When", Width: 19},
			{Title: "Action", Width: 22},
			{Title: "Channel", Width: 7},
			{Title: "User", Width: 22},
			{Title: "IP", Width: 15},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return &Browser{
		src:     src,
		perPage: perPage,
		page:    audit.Page{Page: 1, PerPage: perPage},
		table:   t,
		detail:  viewport.New(80, 6),
		loading: true,
	}
}

func (m Browser) Init() tea.Cmd {
	return m.load(1)
}

func (m Browser) load(page int) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p, err := m.src.List(ctx, page, m.perPage)
		if err != nil {
			return errMsg(err)
		}
		return pageMsg(p)
	}
}

func (m Browser) lastPage() int {
	if m.page.Total == 0 {
		return 1
	}
	return int((m.page.Total + int64(m.perPage) - 1) / int64(m.perPage))
}

func (m Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "n", "right", "pgdown":
			if !m.loading && m.page.Page < m.lastPage() {
				m.loading = true
				return m, m.load(m.page.Page + 1)
			}
			return m, nil
		case "p", "left", "pgup":
			if !m.loading && m.page.Page > 1 {
				m.loading = true
				return m, m.load(m.page.Page - 1)
			}
			return m, nil
		case "r":
			m.loading = true
			return m, m.load(m.page.Page)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(5, msg.Height/2))
		m.detail.Width = max(20, msg.Width-6)
		m.detail.Height = max(3, msg.Height/4)

	case pageMsg:
		m.loading = false
		m.err = nil
		m.page = audit.Page(msg)
		m.table.SetRows(rows(m.page.Entries))
		m.table.SetCursor(0)

	case errMsg:
		m.loading = false
		m.err = msg
	}

	m.table, cmd = m.table.Update(msg)
	m.detail.SetContent(m.selectedDetail())
	return m, cmd
}

func rows(entries []audit.Entry) []table.Row {
	out := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		user := "anonymous"
		if e.ActorID != nil {
			user = *e.ActorID
		}
		out = append(out, table.Row{
			fmt.Sprint(e.ID),
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Action,
			string(e.Channel),
			user,
			e.ClientIP,
		})
	}
	return out
}

func (m Browser) selectedDetail() string {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.page.Entries) {
		return dimStyle.Render("No entry selected")
	}
	e := m.page.Entries[i]
	action := okStyle.Render(e.Action)
	if strings.HasSuffix(e.Action, "_failed") {
		action = failedStyle.Render(e.Action)
	}
	place := strings.Trim(strings.Join([]string{e.City, e.Country}, ", "), ", ")
	if place == "" {
		place = "unknown"
	}
	return fmt.Sprintf("#%d %s\nLocation: %s\n\n%s", e.ID, action, place, e.Detail)
}

func (m Browser) View() string {
	header := titleStyle.Render(fmt.Sprintf("AUDIT LOG  page %d/%d  (%d entries)", m.page.Page, m.lastPage(), m.page.Total))
	if m.loading {
		header += dimStyle.Render(" loading...")
	}

	parts := []string{
		header,
		borderStyle.Render(m.table.View()),
		borderStyle.Render(m.detail.View()),
	}
	if m.err != nil {
		parts = append(parts, failedStyle.Render(" ⚠ "+m.err.Error()))
	}
	parts = append(parts, dimStyle.Render(" [q] Quit • [↑/↓] Select • [n/p] Page • [r] Reload"))

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
