package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/callrelay/internal/server"
)

// FetchFunc retrieves the current server status.
type FetchFunc func(ctx context.Context) (server.Status, error)

type statusMsg struct {
	status server.Status
	err    error
	at     time.Time
}

type pollMsg struct{}

// watchModel polls a server and redraws its status table.
type watchModel struct {
	target   string
	fetch    FetchFunc
	interval time.Duration

	spinner  spinner.Model
	status   *server.Status
	err      error
	updated  time.Time
	quitting bool
}

// NewWatchModel returns a bubbletea model that refreshes every interval.
func NewWatchModel(target string, interval time.Duration, fetch FetchFunc) tea.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle
	return &watchModel{
		target:   target,
		fetch:    fetch,
		interval: interval,
		spinner:  s,
	}
}

// RunWatch blocks until the user quits.
func RunWatch(target string, interval time.Duration, fetch FetchFunc) error {
	_, err := tea.NewProgram(NewWatchModel(target, interval, fetch)).Run()
	return err
}

func (m *watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m *watchModel) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.interval)
		defer cancel()
		status, err := m.fetch(ctx)
		return statusMsg{status: status, err: err, at: time.Now()}
	}
}

func (m *watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, m.poll()
		}

	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = &msg.status
			m.updated = msg.at
		}
		return m, tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })

	case pollMsg:
		return m, m.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *watchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s callrelay @ %s", IconSignal, m.target)))
	b.WriteString("\n")

	switch {
	case m.status == nil && m.err == nil:
		b.WriteString(fmt.Sprintf("%s Connecting...\n", m.spinner.View()))
	case m.status != nil:
		b.WriteString(StatusView(*m.status))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("%s %v", IconError, m.err)))
		b.WriteString("\n")
	}

	footer := "Press q to quit, r to refresh"
	if !m.updated.IsZero() {
		footer = fmt.Sprintf("Updated %s. %s", m.updated.Format(time.TimeOnly), footer)
	}
	b.WriteString(FooterStyle.Render(footer))
	return b.String()
}
