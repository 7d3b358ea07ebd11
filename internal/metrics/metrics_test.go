package metrics

import (
	"strings"
	"testing"
)

func TestSnapshot(t *testing.T) {
	m := New()
	m.RoomsCreated.Add(3)
	m.RoomsDestroyed.Add(1)
	m.ConnectionsActive.Add(2)

	s := m.Snapshot()
	if s.RoomsCreated != 3 || s.RoomsDestroyed != 1 || s.ConnectionsActive != 2 {
		t.Fatalf("Snapshot: unexpected counters %+v", s)
	}
	if s.Uptime == "" {
		t.Fatalf("Snapshot: uptime not set")
	}
}

func TestWritePrometheus(t *testing.T) {
	m := New()
	m.SignalsRelayed.Add(7)

	var b strings.Builder
	err := m.WritePrometheus(&b, Gauge{Name: "callrelay_rooms_active", Help: "Rooms currently open.", Value: 4})
	if err != nil {
		t.Fatalf("WritePrometheus: unexpected error: %v", err)
	}
	out := b.String()

	for _, want := range []string{
		"# TYPE callrelay_uptime_seconds gauge",
		"callrelay_signals_relayed_total 7\n",
		"# TYPE callrelay_signals_relayed_total counter",
		"# HELP callrelay_rooms_active Rooms currently open.",
		"callrelay_rooms_active 4\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("WritePrometheus output missing %q", want)
		}
	}
}
