package signaling

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSessionCreateAndJoin(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.session.JoinApp("a", "alice")
	f.session.JoinApp("b", "bob")

	room, err := f.session.CreateRoom("a")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if a := f.participant(t, "a"); !a.InCall || a.CurrentRoom != room.ID {
		t.Errorf("creator not in room: %+v", a)
	}

	joined, err := f.session.JoinRoom("b", room.ID)
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, joined.Members); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}

	toA := f.out.to("a")
	if len(toA) != 1 || toA[0].Type != EventUserJoined {
		t.Fatalf("creator got %v, want one user-joined", f.out.types("a"))
	}
	if got := decodePayload[UserInfo](t, toA[0]); got != (UserInfo{ID: "b", Username: "bob"}) {
		t.Errorf("user-joined payload = %+v", got)
	}
	if len(f.out.to("b")) != 0 {
		t.Errorf("joiner got %v, want nothing", f.out.types("b"))
	}
}

func TestSessionJoinFailuresDoNotMutate(t *testing.T) {
	f := newSessionFixture(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		f.session.JoinApp(id, id)
	}
	room, _ := f.session.CreateRoom("a")
	f.session.JoinRoom("b", room.ID)
	f.out.reset()

	if _, err := f.session.JoinRoom("c", room.ID); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third join error = %v, want ErrRoomFull", err)
	}
	if _, err := f.session.JoinRoom("c", "no-such-room"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("unknown room error = %v, want ErrRoomNotFound", err)
	}

	if c := f.participant(t, "c"); c.InCall || c.CurrentRoom != "" {
		t.Errorf("c changed by failed join: %+v", c)
	}
	if diff := cmp.Diff([]string{"a", "b"}, room.Members); diff != "" {
		t.Errorf("members changed (-want +got):\n%s", diff)
	}
	if len(f.out.sent) != 0 {
		t.Errorf("failed joins sent %d messages", len(f.out.sent))
	}
	if n := f.session.metrics.JoinFailures.Load(); n != 2 {
		t.Errorf("JoinFailures = %d, want 2", n)
	}
}

func TestSessionJoinOwnRoomIsNoop(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.session.JoinApp("a", "")
	room, _ := f.session.CreateRoom("a")
	f.out.reset()

	got, err := f.session.JoinRoom("a", room.ID)
	if err != nil || got != room {
		t.Fatalf("JoinRoom own room = %v, %v", got, err)
	}
	if len(room.Members) != 1 || len(f.out.sent) != 0 {
		t.Errorf("rejoin changed state: members=%v sent=%d", room.Members, len(f.out.sent))
	}
}

func TestSessionUnknownParticipant(t *testing.T) {
	f := newSessionFixture(t, nil)
	if _, err := f.session.CreateRoom("ghost"); !errors.Is(err, ErrUnknownParticipant) {
		t.Errorf("CreateRoom error = %v", err)
	}
	if _, err := f.session.JoinRoom("ghost", "r"); !errors.Is(err, ErrUnknownParticipant) {
		t.Errorf("JoinRoom error = %v", err)
	}
	if _, err := f.session.CallRandom("ghost"); !errors.Is(err, ErrUnknownParticipant) {
		t.Errorf("CallRandom error = %v", err)
	}
}

func TestSessionRandomCallNotifiesOnlyThePair(t *testing.T) {
	var candidates int
	f := newSessionFixture(t, ChooserFunc(func(n int) int {
		candidates = n
		return 0
	}))
	names := map[string]string{"a": "alice", "b": "bob", "c": "carol"}
	for id, name := range names {
		f.session.JoinApp(id, name)
	}

	match, err := f.session.CallRandom("a")
	if err != nil {
		t.Fatalf("CallRandom: %v", err)
	}
	if candidates != 2 {
		t.Errorf("chooser saw %d candidates, want 2", candidates)
	}
	peer := match.Peer.ID
	if peer != "b" && peer != "c" {
		t.Fatalf("picked %q", peer)
	}
	bystander := "b"
	if peer == "b" {
		bystander = "c"
	}
	roomID := match.Room.ID

	if diff := cmp.Diff([]string{EventCallStarted}, f.out.types("a")); diff != "" {
		t.Fatalf("requester messages (-want +got):\n%s", diff)
	}
	want := CallStartedPayload{RoomID: roomID, OtherUser: names[peer]}
	if got := decodePayload[CallStartedPayload](t, f.out.to("a")[0]); got != want {
		t.Errorf("call-started payload = %+v, want %+v", got, want)
	}
	if diff := cmp.Diff([]string{EventIncomingCall}, f.out.types(peer)); diff != "" {
		t.Fatalf("peer messages (-want +got):\n%s", diff)
	}
	if got := decodePayload[IncomingCallPayload](t, f.out.to(peer)[0]); got != (IncomingCallPayload{RoomID: roomID, CallerName: "alice"}) {
		t.Errorf("incoming-call payload = %+v", got)
	}
	if got := f.out.types(bystander); len(got) != 0 {
		t.Errorf("bystander %q got %v, want nothing", bystander, got)
	}
	if len(f.out.sent) != 2 {
		t.Errorf("sent %d messages, want 2", len(f.out.sent))
	}

	if p := f.participant(t, bystander); p.InCall || p.CurrentRoom != "" {
		t.Errorf("bystander changed: %+v", p)
	}
	for _, id := range []string{"a", peer} {
		if p := f.participant(t, id); !p.InCall || p.CurrentRoom != roomID {
			t.Errorf("%s not in the call room: %+v", id, p)
		}
	}
}

func TestSessionRandomCallAccepted(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.session.JoinApp("a", "alice")
	f.session.JoinApp("b", "bob")

	match, err := f.session.CallRandom("a")
	if err != nil {
		t.Fatalf("CallRandom: %v", err)
	}
	roomID := match.Room.ID

	started := f.out.to("a")
	if len(started) != 1 || started[0].Type != EventCallStarted {
		t.Fatalf("requester got %v, want call-started", f.out.types("a"))
	}
	if got := decodePayload[CallStartedPayload](t, started[0]); got != (CallStartedPayload{RoomID: roomID, OtherUser: "bob"}) {
		t.Errorf("call-started payload = %+v", got)
	}
	incoming := f.out.to("b")
	if len(incoming) != 1 || incoming[0].Type != EventIncomingCall {
		t.Fatalf("peer got %v, want incoming-call", f.out.types("b"))
	}
	if got := decodePayload[IncomingCallPayload](t, incoming[0]); got != (IncomingCallPayload{RoomID: roomID, CallerName: "alice"}) {
		t.Errorf("incoming-call payload = %+v", got)
	}
	if len(f.sched.timers) != 1 {
		t.Fatalf("scheduled %d expiries, want 1", len(f.sched.timers))
	}
	f.out.reset()

	if err := f.session.AcceptCall("b", roomID); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}
	if diff := cmp.Diff([]string{EventCallAccepted}, f.out.types("a")); diff != "" {
		t.Errorf("requester messages (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{EventCallAccepted}, f.out.types("b")); diff != "" {
		t.Errorf("callee messages (-want +got):\n%s", diff)
	}
	if match.Room.Pending {
		t.Error("room still pending after accept")
	}
	if !f.sched.timers[0].stopped {
		t.Error("expiry not cancelled on accept")
	}
}

func TestSessionRandomCallNobodyIdle(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.session.JoinApp("a", "")

	if _, err := f.session.CallRandom("a"); !errors.Is(err, ErrNoPeerAvailable) {
		t.Fatalf("CallRandom error = %v, want ErrNoPeerAvailable", err)
	}
	if f.session.rooms.Len() != 0 || len(f.out.sent) != 0 {
		t.Error("failed random call changed state")
	}
}

func TestSessionRandomCallKeepsCurrentRoomWhenNobodyIdle(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.session.JoinApp("a", "")
	f.session.JoinApp("b", "")
	room, _ := f.session.CreateRoom("a")
	f.session.JoinRoom("b", room.ID)
	f.out.reset()

	if _, err := f.session.CallRandom("a"); !errors.Is(err, ErrNoPeerAvailable) {
		t.Fatalf("CallRandom error = %v", err)
	}
	if _, ok := f.session.rooms.Get(room.ID); !ok {
		t.Error("current room destroyed by a failed random call")
	}
}

func TestSessionRejectAndEnd(t *testing.T) {
	tests := []struct {
		name   string
		act    func(s *Session, id, roomID string) error
		notify string
	}{
		{name: "reject", act: (*Session).RejectCall, notify: EventCallRejected},
		{name: "end", act: (*Session).EndCall, notify: EventCallEnded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSessionFixture(t, nil)
			f.session.JoinApp("a", "")
			f.session.JoinApp("b", "")
			match, _ := f.session.CallRandom("a")
			f.out.reset()

			if err := tt.act(f.session, "b", match.Room.ID); err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			if diff := cmp.Diff([]string{tt.notify}, f.out.types("a")); diff != "" {
				t.Errorf("other member messages (-want +got):\n%s", diff)
			}
			if len(f.out.to("b")) != 0 {
				t.Errorf("actor got %v", f.out.types("b"))
			}
			if _, ok := f.session.rooms.Get(match.Room.ID); ok {
				t.Error("room survived")
			}
			for _, id := range []string{"a", "b"} {
				if p := f.participant(t, id); p.InCall || p.CurrentRoom != "" {
					t.Errorf("%s not idle: %+v", id, p)
				}
			}
			if !f.sched.timers[0].stopped {
				t.Error("expiry left running")
			}
		})
	}
}

func TestSessionActOnForeignRoom(t *testing.T) {
	f := newSessionFixture(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		f.session.JoinApp(id, "")
	}
	room, _ := f.session.CreateRoom("a")
	f.session.JoinRoom("b", room.ID)
	f.out.reset()

	if err := f.session.EndCall("c", room.ID); !errors.Is(err, ErrNotRoomMember) {
		t.Errorf("EndCall by outsider = %v, want ErrNotRoomMember", err)
	}
	if err := f.session.AcceptCall("c", "missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("AcceptCall unknown room = %v, want ErrRoomNotFound", err)
	}
	if _, ok := f.session.rooms.Get(room.ID); !ok || len(f.out.sent) != 0 {
		t.Error("outsider affected the room")
	}
}

func TestSessionDisconnectNotifiesOnce(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.session.JoinApp("a", "")
	f.session.JoinApp("b", "")
	room, _ := f.session.CreateRoom("a")
	f.session.JoinRoom("b", room.ID)
	f.out.reset()

	f.session.Disconnect("a")
	f.session.Disconnect("a")

	if diff := cmp.Diff([]string{EventUserDisconnected}, f.out.types("b")); diff != "" {
		t.Errorf("remaining member messages (-want +got):\n%s", diff)
	}
	if b := f.participant(t, "b"); b.InCall || b.CurrentRoom != "" {
		t.Errorf("b not idle: %+v", b)
	}
	if _, ok := f.session.participants.Lookup("a"); ok {
		t.Error("disconnected participant still registered")
	}
	if f.session.rooms.Len() != 0 {
		t.Error("room survived disconnect")
	}
}

func TestSessionDisconnectUnknown(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.session.Disconnect("never-joined")
	if len(f.out.sent) != 0 {
		t.Error("disconnect of unknown id sent messages")
	}
}

func TestSessionPendingCallExpires(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.session.JoinApp("a", "")
	f.session.JoinApp("b", "")
	match, _ := f.session.CallRandom("a")
	f.out.reset()

	f.sched.fire(t, 0)

	toA := f.out.to("a")
	if len(toA) != 1 || toA[0].Type != EventCallRejected {
		t.Fatalf("requester got %v, want call-rejected", f.out.types("a"))
	}
	if got := decodePayload[ReasonPayload](t, toA[0]); got.Reason != ReasonTimeout {
		t.Errorf("reason = %q, want timeout", got.Reason)
	}
	toB := f.out.to("b")
	if len(toB) != 1 || toB[0].Type != EventCallEnded {
		t.Fatalf("callee got %v, want call-ended", f.out.types("b"))
	}
	if f.session.rooms.Len() != 0 || f.session.participants.CountInCall() != 0 {
		t.Error("expired call left state behind")
	}
	if err := f.session.AcceptCall("b", match.Room.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("late accept = %v, want ErrRoomNotFound", err)
	}
}

func TestSessionExpiryIgnoresAcceptedCall(t *testing.T) {
	f := newSessionFixture(t, nil)
	f.session.JoinApp("a", "")
	f.session.JoinApp("b", "")
	match, _ := f.session.CallRandom("a")
	match.Room.Pending = false
	f.out.reset()

	// Timer raced with the accept.
	f.sched.timers[0].f()

	if len(f.out.sent) != 0 || f.session.rooms.Len() != 1 {
		t.Error("expiry acted on an answered call")
	}
}

func TestSessionEnteringAnotherRoomEndsCurrentCall(t *testing.T) {
	f := newSessionFixture(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		f.session.JoinApp(id, "")
	}
	first, _ := f.session.CreateRoom("a")
	f.session.JoinRoom("b", first.ID)
	other, _ := f.session.CreateRoom("c")
	f.out.reset()

	if _, err := f.session.JoinRoom("a", other.ID); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	toB := f.out.to("b")
	if len(toB) != 1 || toB[0].Type != EventCallEnded {
		t.Fatalf("abandoned peer got %v, want call-ended", f.out.types("b"))
	}
	if got := decodePayload[ReasonPayload](t, toB[0]); got.Reason != ReasonLeft {
		t.Errorf("reason = %q, want left", got.Reason)
	}
	if _, ok := f.session.rooms.Get(first.ID); ok {
		t.Error("abandoned room survived")
	}
	if a := f.participant(t, "a"); a.CurrentRoom != other.ID {
		t.Errorf("a in %q, want %q", a.CurrentRoom, other.ID)
	}
	if b := f.participant(t, "b"); b.InCall {
		t.Errorf("b still in call: %+v", b)
	}
}

func TestSessionNoExpiryWhenDisabled(t *testing.T) {
	participants := NewParticipants()
	rooms := NewRooms(participants)
	sched := &manualScheduler{}
	s := NewSession(participants, rooms, newRecorder(), SessionOptions{Scheduler: sched})
	s.JoinApp("a", "")
	s.JoinApp("b", "")

	if _, err := s.CallRandom("a"); err != nil {
		t.Fatalf("CallRandom: %v", err)
	}
	if len(sched.timers) != 0 {
		t.Errorf("scheduled %d timers with expiry disabled", len(sched.timers))
	}
}
