package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/BioHazard786/callrelay/internal/server"
)

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// StatusView renders a server status as two tables: live state and
// lifetime counters.
func StatusView(s server.Status) string {
	live := newTable([]string{"Live", "Value"}, [][]string{
		{"Version", s.Version},
		{"Uptime", s.Metrics.Uptime},
		{"Connections", strconv.Itoa(s.Hub.Clients)},
		{"Participants", strconv.Itoa(s.Hub.Participants)},
		{"Idle", strconv.Itoa(s.Hub.Idle)},
		{"In call", strconv.Itoa(s.Hub.InCall)},
		{"Rooms", fmt.Sprintf("%d (%d full)", s.Hub.Rooms, s.Hub.FullRooms)},
		{"Pending calls", strconv.Itoa(s.Hub.PendingCalls)},
	})

	m := s.Metrics
	totals := newTable([]string{"Counter", "Total"}, [][]string{
		{"Connections", itoa(m.ConnectionsTotal)},
		{"Rooms created", itoa(m.RoomsCreated)},
		{"Random matches", itoa(m.RandomMatches)},
		{"No peer available", itoa(m.MatchFailures)},
		{"Calls accepted", itoa(m.CallsAccepted)},
		{"Calls rejected", itoa(m.CallsRejected)},
		{"Calls ended", itoa(m.CallsEnded)},
		{"Calls expired", itoa(m.CallsExpired)},
		{"Signals relayed", itoa(m.SignalsRelayed)},
		{"Chat messages", itoa(m.ChatMessages)},
		{"Dropped", itoa(m.RelayDropped + m.OutboundDropped)},
		{"Rate limited", itoa(m.RateLimited)},
	})

	return lipgloss.JoinHorizontal(lipgloss.Top, live.Render(), "  ", totals.Render())
}
