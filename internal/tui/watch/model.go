package watch

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/AdamLaszab/zadanie-skuska/internal/events"
)

const eventLogSize = 50

// Model is the BubbleTea model behind `pdfgate watch`.
type Model struct {
	client Client

	width  int
	height int

	health       HealthState
	board        Board
	housekeeping Housekeeping
	eventLog     []events.Event
	lastEventID  int64

	ticker Ticker
	pulse  Pulse

	theme    Theme
	selected int

	hubEvents chan events.Event

	lastError string
	now       func() time.Time
}

// New creates a dashboard for the server at apiURL.
func New(apiURL, token string) *Model {
	return &Model{
		client:    Client{BaseURL: apiURL, Token: token},
		board:     make(Board),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
		now:       time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.client) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.board)-1 {
				m.selected++
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.ticker.Tick()
		m.pulse.Decay(m.now())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m = m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.BatchesInFlight = msg.BatchesInFlight
		m.health.BatchCapacity = msg.BatchCapacity
		m.health.AuthEnabled = msg.AuthEnabled
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.client) })

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.client, m.lastEventID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(5*time.Second, func(time.Time) tea.Msg { return fetchHealth(m.client) })
	}

	return m, nil
}

func (m Model) applyEvent(e events.Event) Model {
	if e.ID > 0 && e.ID <= m.lastEventID {
		return m
	}
	if e.ID > m.lastEventID {
		m.lastEventID = e.ID
	}

	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > eventLogSize {
		m.eventLog = m.eventLog[:eventLogSize]
	}
	m.pulse.OnEvent(m.now())
	m.board.Apply(e)
	m.housekeeping.Apply(e)
	m.health.Connected = true
	m.lastError = ""
	return m
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to pdfgate..."
	}
	now := m.now()

	parts := []string{
		renderHeader(m.health, m.ticker, m.pulse, m.theme, m.width, now),
		renderOperations(m.board, m.selected, m.theme, m.width, now),
		renderHousekeeping(m.housekeeping, m.theme, m.width, now),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Bad.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Select operation"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
