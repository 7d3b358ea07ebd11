package metrics

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks signaling server runtime statistics.
// All counters use atomic operations so the hub, the client pumps and the
// HTTP handlers can touch them without coordination.
type Metrics struct {
	startTime time.Time

	// Connections
	ConnectionsTotal  atomic.Int64 // lifetime websocket connections accepted
	ConnectionsActive atomic.Int64 // currently open websocket connections
	Disconnects       atomic.Int64

	// Rooms and calls
	RoomsCreated   atomic.Int64
	RoomsDestroyed atomic.Int64
	RandomMatches  atomic.Int64
	MatchFailures  atomic.Int64 // call-random with nobody idle
	CallsAccepted  atomic.Int64
	CallsRejected  atomic.Int64
	CallsEnded     atomic.Int64
	CallsExpired   atomic.Int64
	JoinFailures   atomic.Int64 // room not found / full

	// Relay
	SignalsRelayed atomic.Int64 // offer, answer, ice-candidate, connection-established
	ChatMessages   atomic.Int64
	RelayDropped   atomic.Int64 // unknown room or non-member sender

	// Transport
	OutboundDropped atomic.Int64 // send buffer full
	InvalidMessages atomic.Int64
	RateLimited     atomic.Int64
}

// New creates a Metrics instance with the start time set to now.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Uptime returns the time since New.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ConnectionsTotal  int64 `json:"connections_total"`
	ConnectionsActive int64 `json:"connections_active"`
	Disconnects       int64 `json:"disconnects"`

	RoomsCreated   int64 `json:"rooms_created"`
	RoomsDestroyed int64 `json:"rooms_destroyed"`
	RandomMatches  int64 `json:"random_matches"`
	MatchFailures  int64 `json:"match_failures"`
	CallsAccepted  int64 `json:"calls_accepted"`
	CallsRejected  int64 `json:"calls_rejected"`
	CallsEnded     int64 `json:"calls_ended"`
	CallsExpired   int64 `json:"calls_expired"`
	JoinFailures   int64 `json:"join_failures"`

	SignalsRelayed int64 `json:"signals_relayed"`
	ChatMessages   int64 `json:"chat_messages"`
	RelayDropped   int64 `json:"relay_dropped"`

	OutboundDropped int64 `json:"outbound_dropped"`
	InvalidMessages int64 `json:"invalid_messages"`
	RateLimited     int64 `json:"rate_limited"`
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() Snapshot {
	uptime := m.Uptime()
	return Snapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ConnectionsTotal:  m.ConnectionsTotal.Load(),
		ConnectionsActive: m.ConnectionsActive.Load(),
		Disconnects:       m.Disconnects.Load(),
		RoomsCreated:      m.RoomsCreated.Load(),
		RoomsDestroyed:    m.RoomsDestroyed.Load(),
		RandomMatches:     m.RandomMatches.Load(),
		MatchFailures:     m.MatchFailures.Load(),
		CallsAccepted:     m.CallsAccepted.Load(),
		CallsRejected:     m.CallsRejected.Load(),
		CallsEnded:        m.CallsEnded.Load(),
		CallsExpired:      m.CallsExpired.Load(),
		JoinFailures:      m.JoinFailures.Load(),
		SignalsRelayed:    m.SignalsRelayed.Load(),
		ChatMessages:      m.ChatMessages.Load(),
		RelayDropped:      m.RelayDropped.Load(),
		OutboundDropped:   m.OutboundDropped.Load(),
		InvalidMessages:   m.InvalidMessages.Load(),
		RateLimited:       m.RateLimited.Load(),
	}
}

// Gauge is a point-in-time value owned by someone else (e.g. the hub)
// that should be exported next to the counters.
type Gauge struct {
	Name  string
	Help  string
	Value int64
}

// WritePrometheus writes all counters, plus the given gauges, in Prometheus
// text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer, gauges ...Gauge) error {
	var werr error
	write := func(name, help, mtype string, value int64) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n", name, help, name, mtype, name, value)
	}

	if _, err := fmt.Fprintf(w, "# HELP callrelay_uptime_seconds Server uptime in seconds.\n# TYPE callrelay_uptime_seconds gauge\ncallrelay_uptime_seconds %f\n", m.Uptime().Seconds()); err != nil {
		return err
	}

	write("callrelay_connections_active", "Currently open websocket connections.", "gauge", m.ConnectionsActive.Load())
	write("callrelay_connections_total", "Websocket connections accepted.", "counter", m.ConnectionsTotal.Load())
	write("callrelay_disconnects_total", "Websocket disconnects.", "counter", m.Disconnects.Load())

	write("callrelay_rooms_created_total", "Rooms created.", "counter", m.RoomsCreated.Load())
	write("callrelay_rooms_destroyed_total", "Rooms destroyed.", "counter", m.RoomsDestroyed.Load())
	write("callrelay_random_matches_total", "Successful random matches.", "counter", m.RandomMatches.Load())
	write("callrelay_match_failures_total", "Random call requests with no idle peer.", "counter", m.MatchFailures.Load())
	write("callrelay_join_failures_total", "Rejected join-room requests.", "counter", m.JoinFailures.Load())
	write("callrelay_calls_accepted_total", "Calls accepted.", "counter", m.CallsAccepted.Load())
	write("callrelay_calls_rejected_total", "Calls rejected.", "counter", m.CallsRejected.Load())
	write("callrelay_calls_ended_total", "Calls ended by a participant.", "counter", m.CallsEnded.Load())
	write("callrelay_calls_expired_total", "Incoming calls that were never answered.", "counter", m.CallsExpired.Load())

	write("callrelay_signals_relayed_total", "Negotiation messages relayed.", "counter", m.SignalsRelayed.Load())
	write("callrelay_chat_messages_total", "Chat messages relayed.", "counter", m.ChatMessages.Load())
	write("callrelay_relay_dropped_total", "Relay requests for unknown rooms or from non-members.", "counter", m.RelayDropped.Load())

	write("callrelay_outbound_dropped_total", "Outbound messages dropped on a full send buffer.", "counter", m.OutboundDropped.Load())
	write("callrelay_invalid_messages_total", "Undecodable inbound frames.", "counter", m.InvalidMessages.Load())
	write("callrelay_rate_limited_total", "Connections closed for exceeding the message rate.", "counter", m.RateLimited.Load())

	for _, g := range gauges {
		write(g.Name, g.Help, "gauge", g.Value)
	}
	return werr
}

// LogSummary writes a metrics summary to the default logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ConnectionsActive,
		"rooms_created", s.RoomsCreated,
		"matches", s.RandomMatches,
		"signals", s.SignalsRelayed,
		"chat", s.ChatMessages,
		"dropped", s.OutboundDropped,
	)
}

// StartPeriodicLog logs a summary every interval until done is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
