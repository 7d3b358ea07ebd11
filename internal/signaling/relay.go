package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/BioHazard786/callrelay/internal/metrics"
)

// relayKinds are the events forwarded verbatim to the other room member.
var relayKinds = map[string]bool{
	EventOffer:                 true,
	EventAnswer:                true,
	EventICECandidate:          true,
	EventChatMessage:           true,
	EventConnectionEstablished: true,
}

// IsRelayKind reports whether typ is forwarded by the Relay.
func IsRelayKind(typ string) bool {
	return relayKinds[typ]
}

// Relay forwards negotiation and chat payloads between room members
// without looking at them.
type Relay struct {
	rooms   *Rooms
	cast    Broadcaster
	metrics *metrics.Metrics
}

// NewRelay returns a Relay that checks membership against rooms.
func NewRelay(rooms *Rooms, cast Broadcaster, m *metrics.Metrics) *Relay {
	if m == nil {
		m = metrics.New()
	}
	return &Relay{rooms: rooms, cast: cast, metrics: m}
}

// Forward sends payload, unmodified, to every member of roomID except the
// sender. Nothing is forwarded for an unknown room or a sender outside it.
func (r *Relay) Forward(kind, senderID, roomID string, payload json.RawMessage) error {
	return r.forward(&Message{Type: kind, RoomID: roomID, Payload: payload}, senderID)
}

// forward relays an inbound message, keeping a msgpack payload as received.
func (r *Relay) forward(in *Message, senderID string) error {
	kind, roomID := in.Type, in.RoomID
	if !IsRelayKind(kind) {
		return fmt.Errorf("relay %q: unsupported message type", kind)
	}
	room, ok := r.rooms.Get(roomID)
	if !ok {
		r.metrics.RelayDropped.Add(1)
		return ErrRoomNotFound
	}
	if !room.HasMember(senderID) {
		r.metrics.RelayDropped.Add(1)
		return ErrNotRoomMember
	}

	r.cast.BroadcastToRoom(roomID, senderID, &Message{
		Type:    kind,
		RoomID:  roomID,
		Payload: in.Payload,
		packed:  in.packed,
	})
	if kind == EventChatMessage {
		r.metrics.ChatMessages.Add(1)
	} else {
		r.metrics.SignalsRelayed.Add(1)
	}
	return nil
}
