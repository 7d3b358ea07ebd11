package signaling

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultUsername(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"01HZX4Q9ABCDEF", "User_ABCDEF"},
		{"abc", "User_abc"},
		{"", "User_"},
	}
	for _, tt := range tests {
		if got := DefaultUsername(tt.id); got != tt.want {
			t.Errorf("DefaultUsername(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestDefaultUsernameDistinguishesConnections(t *testing.T) {
	seen := make(map[string]bool)
	for range 50 {
		seen[DefaultUsername(newClientID())] = true
	}
	if len(seen) != 50 {
		t.Errorf("50 connections got %d distinct default names", len(seen))
	}
}

func TestParticipantsRegister(t *testing.T) {
	ps := NewParticipants()

	p := ps.Register("conn-1", "  alice ")
	if p.Username != "alice" {
		t.Errorf("Username = %q, want trimmed %q", p.Username, "alice")
	}
	if p.InCall || p.CurrentRoom != "" {
		t.Errorf("new participant should be idle, got %+v", p)
	}

	anon := ps.Register("conn-2xyz", "")
	if anon.Username != "User_conn-2" {
		t.Errorf("blank username = %q, want default", anon.Username)
	}

	again := ps.Register("conn-1", "mallory")
	if again != p || again.Username != "alice" {
		t.Errorf("second Register replaced entry: %+v", again)
	}
	if ps.Len() != 2 {
		t.Errorf("Len = %d, want 2", ps.Len())
	}
}

func TestParticipantsListIdle(t *testing.T) {
	ps := NewParticipants()
	for _, id := range []string{"a", "b", "c"} {
		ps.Register(id, id)
	}
	b, _ := ps.Lookup("b")
	b.enterRoom("room-1")

	var got []string
	for _, p := range ps.ListIdle() {
		got = append(got, p.ID)
	}
	sort.Strings(got)
	if diff := cmp.Diff([]string{"a", "c"}, got); diff != "" {
		t.Errorf("ListIdle mismatch (-want +got):\n%s", diff)
	}
	if n := ps.CountInCall(); n != 1 {
		t.Errorf("CountInCall = %d, want 1", n)
	}

	ps.Remove("a")
	ps.Remove("missing")
	if _, ok := ps.Lookup("a"); ok {
		t.Error("Lookup after Remove still found participant")
	}
	if ps.Len() != 2 {
		t.Errorf("Len = %d, want 2", ps.Len())
	}
}
