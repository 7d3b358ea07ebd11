package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/BioHazard786/callrelay/internal/metrics"
)

func newRelayFixture(t *testing.T) (*Relay, *Room, *recorder, *metrics.Metrics) {
	t.Helper()
	ps := NewParticipants()
	rooms := NewRooms(ps)
	out := newRecorder()
	m := metrics.New()
	room, err := rooms.Create([]string{"a", "b"}, "a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return NewRelay(rooms, NewRoomBroadcaster(rooms, out), m), room, out, m
}

func TestRelayForwardsUnmodified(t *testing.T) {
	r, room, out, m := newRelayFixture(t)
	payload := json.RawMessage(`{"sdp":"v=0\r\no=- 46117 2 IN IP4 127.0.0.1","type":"offer",  "extra":[1,2]}`)

	if err := r.Forward(EventOffer, "a", room.ID, payload); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	toB := out.to("b")
	if len(toB) != 1 {
		t.Fatalf("b got %d messages, want 1", len(toB))
	}
	if toB[0].Type != EventOffer || toB[0].RoomID != room.ID {
		t.Errorf("forwarded envelope = %+v", toB[0])
	}
	if string(toB[0].Payload) != string(payload) {
		t.Errorf("payload changed:\n got %s\nwant %s", toB[0].Payload, payload)
	}
	if len(out.to("a")) != 0 {
		t.Error("sender received its own message")
	}
	if m.SignalsRelayed.Load() != 1 {
		t.Errorf("SignalsRelayed = %d", m.SignalsRelayed.Load())
	}
}

func TestRelayChatCounted(t *testing.T) {
	r, room, out, m := newRelayFixture(t)
	if err := r.Forward(EventChatMessage, "b", room.ID, json.RawMessage(`"hi"`)); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(out.to("a")) != 1 || m.ChatMessages.Load() != 1 || m.SignalsRelayed.Load() != 0 {
		t.Errorf("chat not delivered or miscounted: sent=%d chat=%d", len(out.sent), m.ChatMessages.Load())
	}
}

func TestRelayRejects(t *testing.T) {
	r, room, out, m := newRelayFixture(t)

	tests := []struct {
		name   string
		kind   string
		sender string
		roomID string
		want   error
	}{
		{name: "unknown room", kind: EventAnswer, sender: "a", roomID: "missing", want: ErrRoomNotFound},
		{name: "outsider", kind: EventICECandidate, sender: "c", roomID: room.ID, want: ErrNotRoomMember},
		{name: "not a relay kind", kind: EventJoinRoom, sender: "a", roomID: room.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Forward(tt.kind, tt.sender, tt.roomID, json.RawMessage(`{}`))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
	if len(out.sent) != 0 {
		t.Errorf("rejected relays delivered %d messages", len(out.sent))
	}
	if m.RelayDropped.Load() != 2 {
		t.Errorf("RelayDropped = %d, want 2", m.RelayDropped.Load())
	}
}

func TestRelayLoneMember(t *testing.T) {
	ps := NewParticipants()
	rooms := NewRooms(ps)
	out := newRecorder()
	room, _ := rooms.Create([]string{"a"}, "a")
	r := NewRelay(rooms, NewRoomBroadcaster(rooms, out), nil)

	if err := r.Forward(EventChatMessage, "a", room.ID, json.RawMessage(`"anyone?"`)); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(out.sent) != 0 {
		t.Errorf("lone member relay delivered %d messages", len(out.sent))
	}
}

func TestRelayKeepsMsgpackPayload(t *testing.T) {
	r, room, out, _ := newRelayFixture(t)

	data, err := msgpack.Marshal(map[string]any{
		"type":    EventChatMessage,
		"roomId":  room.ID,
		"payload": []byte{0xde, 0xad},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	in, err := MsgpackCodec{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := r.forward(in, "a"); err != nil {
		t.Fatalf("forward: %v", err)
	}

	toB := out.to("b")
	if len(toB) != 1 {
		t.Fatalf("b got %d messages, want 1", len(toB))
	}
	if !bytes.Equal(toB[0].packed, in.packed) {
		t.Errorf("packed payload = %x, want %x", toB[0].packed, in.packed)
	}
}
