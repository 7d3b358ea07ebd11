package signaling

import (
	"encoding/json"
	"testing"
	"time"
)

type delivery struct {
	to  string
	msg *Message
}

// recorder is a Sender that keeps every delivery.
type recorder struct {
	sent    []delivery
	offline map[string]bool
}

func newRecorder() *recorder {
	return &recorder{offline: make(map[string]bool)}
}

func (r *recorder) Send(to string, msg *Message) bool {
	if r.offline[to] {
		return false
	}
	r.sent = append(r.sent, delivery{to: to, msg: msg})
	return true
}

func (r *recorder) to(id string) []*Message {
	var out []*Message
	for _, d := range r.sent {
		if d.to == id {
			out = append(out, d.msg)
		}
	}
	return out
}

func (r *recorder) types(id string) []string {
	var out []string
	for _, m := range r.to(id) {
		out = append(out, m.Type)
	}
	return out
}

func (r *recorder) reset() {
	r.sent = nil
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped
	t.stopped = true
	return active
}

// manualScheduler never fires on its own; tests call fire.
type manualScheduler struct {
	timers []*fakeTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) fire(t *testing.T, i int) {
	t.Helper()
	if i >= len(s.timers) {
		t.Fatalf("timer %d not scheduled (have %d)", i, len(s.timers))
	}
	timer := s.timers[i]
	if timer.stopped {
		t.Fatalf("timer %d already stopped", i)
	}
	timer.stopped = true
	timer.f()
}

type sessionFixture struct {
	session *Session
	out     *recorder
	sched   *manualScheduler
}

func newSessionFixture(t *testing.T, chooser Chooser) *sessionFixture {
	t.Helper()
	participants := NewParticipants()
	rooms := NewRooms(participants)
	out := newRecorder()
	sched := &manualScheduler{}
	s := NewSession(participants, rooms, out, SessionOptions{
		Chooser:            chooser,
		Scheduler:          sched,
		PendingCallTimeout: 30 * time.Second,
	})
	return &sessionFixture{session: s, out: out, sched: sched}
}

func (f *sessionFixture) participant(t *testing.T, id string) *Participant {
	t.Helper()
	p, ok := f.session.participants.Lookup(id)
	if !ok {
		t.Fatalf("participant %q not registered", id)
	}
	return p
}

func decodePayload[T any](t *testing.T, msg *Message) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		t.Fatalf("decode %s payload %q: %v", msg.Type, msg.Payload, err)
	}
	return v
}
