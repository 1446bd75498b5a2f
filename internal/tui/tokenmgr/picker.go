// Package tokenmgr is the interactive scope picker used by
// `pdfgate token sign --pick`.
package tokenmgr

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AdamLaszab/zadanie-skuska/internal/auth"
)

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2)
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	quitTextStyle   = lipgloss.NewStyle().Margin(1, 0, 2, 4)
)

// Scopes lists every scope a token can carry, with a one-line description.
var Scopes = []struct {
	Scope string
	Desc  string
}{
	{auth.ScopePDF, "Run PDF batches and redeem download links"},
	{auth.ScopeLogsRO, "Read and export the audit log, follow /events"},
	{auth.ScopeLogsRW, "Purge the audit log (implies logs:ro)"},
	{auth.ScopeAll, "Everything"},
}

type item struct {
	scope    string
	desc     string
	selected bool
}

func (i item) Title() string {
	check := "[ ]"
	if i.selected {
		check = "[x]"
	}
	return fmt.Sprintf("%s %s", check, i.scope)
}
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.scope }

// Picker is a multi-select list of scopes.
type Picker struct {
	list      list.Model
	cancelled bool
	done      bool
	scopes    []string
}

// New returns a picker with preselected scopes already ticked.
func New(preselected ...string) *Picker {
	pre := make(map[string]bool, len(preselected))
	for _, s := range preselected {
		pre[s] = true
	}
	items := make([]list.Item, 0, len(Scopes))
	for _, s := range Scopes {
		items = append(items, item{scope: s.Scope, desc: s.Desc, selected: pre[s.Scope]})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Token scopes (space toggles, enter confirms)"
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle
	return &Picker{list: l}
}

func (m Picker) Init() tea.Cmd { return nil }

func (m Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancelled = true
			return m, tea.Quit
		case " ":
			if it, ok := m.list.SelectedItem().(item); ok {
				it.selected = !it.selected
				m.list.SetItem(m.list.Index(), it)
			}
			return m, nil
		case "enter":
			m.done = true
			m.scopes = m.selected()
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Picker) selected() []string {
	var out []string
	for _, li := range m.list.Items() {
		if it, ok := li.(item); ok && it.selected {
			out = append(out, it.scope)
		}
	}
	return out
}

func (m Picker) View() string {
	if m.cancelled {
		return quitTextStyle.Render("Cancelled.")
	}
	if m.done {
		return quitTextStyle.Render("Scopes: " + strings.Join(m.scopes, " "))
	}
	return "\n" + m.list.View()
}

// Result reports the chosen scopes. ok is false when the picker was
// cancelled.
func (m Picker) Result() (scopes []string, ok bool) {
	return m.scopes, m.done && !m.cancelled
}

// Run shows the picker on the terminal and returns the chosen scopes.
func Run(preselected ...string) ([]string, error) {
	final, err := tea.NewProgram(New(preselected...)).Run()
	if err != nil {
		return nil, err
	}
	scopes, ok := final.(Picker).Result()
	if !ok {
		return nil, fmt.Errorf("scope selection cancelled")
	}
	if len(scopes) == 0 {
		return nil, fmt.Errorf("no scopes selected")
	}
	return scopes, nil
}
