package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/promptq/internal/events"
	"github.com/mattjoyce/promptq/internal/queue"
)

const (
	eventLogSize   = 50
	healthInterval = 5 * time.Second
	reconnectDelay = 3 * time.Second
	initialJobs    = 20
)

// --- Message types ---

type eventMsg events.Event

type healthMsg Health

type jobsMsg []*queue.Job

type tickMsg time.Time

type errMsg struct{ err error }

type streamClosedMsg struct{ err error }

type reconnectMsg struct{}

// Model is the bubbletea model for the dashboard.
type Model struct {
	ctx    context.Context
	client *Client

	width  int
	height int

	health      HealthState
	jobs        map[int64]*JobRow
	table       table.Model
	eventLog    []events.Event
	lastEventID int64

	beat     Heartbeat
	activity Activity
	theme    Theme

	stream    chan events.Event
	lastError string
}

func New(ctx context.Context, client *Client) Model {
	return Model{
		ctx:      ctx,
		client:   client,
		jobs:     make(map[int64]*JobRow),
		table:    newJobTable(10),
		activity: NewActivity(),
		theme:    NewDefaultTheme(),
		stream:   make(chan events.Event, 100),
	}
}

// Run starts the dashboard in the alternate screen and blocks until the user
// quits or ctx ends.
func Run(ctx context.Context, client *Client) error {
	_, err := tea.NewProgram(New(ctx, client), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribe(0),
		m.receive(),
		m.fetchHealth(),
		m.fetchJobs(),
		tick(),
	)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) subscribe(lastID int64) tea.Cmd {
	return func() tea.Msg {
		return streamClosedMsg{err: m.client.Stream(m.ctx, lastID, m.stream)}
	}
}

func (m Model) receive() tea.Cmd {
	return func() tea.Msg {
		select {
		case e := <-m.stream:
			return eventMsg(e)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) fetchHealth() tea.Cmd {
	return func() tea.Msg {
		h, err := m.client.Health(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return healthMsg(h)
	}
}

func (m Model) fetchJobs() tea.Cmd {
	return func() tea.Msg {
		list, err := m.client.RecentJobs(m.ctx, initialJobs)
		if err != nil {
			return errMsg{err}
		}
		return jobsMsg(list)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(jobColumns(msg.Width))
		m.table.SetHeight(max(5, msg.Height-28))

	case tickMsg:
		m.beat.Tick()
		return m, tick()

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastEventID {
			m.lastEventID = e.ID
		}
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogSize {
			m.eventLog = m.eventLog[:eventLogSize]
		}
		m.activity.OnEvent()
		if applyEvent(m.jobs, e) {
			m.table.SetRows(tableRows(m.jobs))
		}
		m.health.Connected = true
		m.lastError = ""
		return m, m.receive()

	case jobsMsg:
		for _, j := range msg {
			if _, seen := m.jobs[j.ID]; !seen {
				m.jobs[j.ID] = rowFromJob(j)
			}
		}
		m.table.SetRows(tableRows(m.jobs))

	case healthMsg:
		m.health.Health = Health(msg)
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.fetchHealth()() })

	case streamClosedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		// Resume after the last event seen; the server replays the gap.
		return m, m.subscribe(m.lastEventID)

	case errMsg:
		m.lastError = msg.err.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return m.fetchHealth()() })
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to promptq..."
	}

	parts := []string{
		renderHeader(m.health, m.beat, m.activity, m.theme, m.width),
		renderJobs(m.table, len(m.jobs), m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(" ⚠ "+m.lastError))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll jobs"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
