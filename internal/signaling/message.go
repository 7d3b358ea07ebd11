package signaling

import (
	"encoding/json"
	"strings"
)

// Message is the envelope for every websocket frame, in both directions.
type Message struct {
	Type string `json:"type"`

	// ID is an optional client-chosen request id, echoed on the ack.
	ID      string          `json:"id,omitempty"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// packed is the payload as received from a msgpack client, passed on
	// unchanged to msgpack receivers.
	packed []byte

	// client is the connection that sent the message.
	// It's used internally by the Hub and not sent over the wire.
	client *Client `json:"-"`
}

// Inbound events.
const (
	EventJoinApp               = "join-app"
	EventCreateRoom            = "create-room"
	EventJoinRoom              = "join-room"
	EventCallRandom            = "call-random"
	EventAcceptCall            = "accept-call"
	EventRejectCall            = "reject-call"
	EventEndCall               = "end-call"
	EventOffer                 = "offer"
	EventAnswer                = "answer"
	EventICECandidate          = "ice-candidate"
	EventChatMessage           = "chat-message"
	EventConnectionEstablished = "connection-established"
)

// Outbound-only events.
const (
	EventUserConnected    = "user-connected"
	EventUserJoined       = "user-joined"
	EventIncomingCall     = "incoming-call"
	EventCallStarted      = "call-started"
	EventCallAccepted     = "call-accepted"
	EventCallRejected     = "call-rejected"
	EventCallEnded        = "call-ended"
	EventUserDisconnected = "user-disconnected"
	EventAck              = "ack"
	EventError            = "error"
)

// eventInvalid is posted by a read pump for an undecodable frame.
const eventInvalid = "\x00invalid"

// JoinAppPayload is the payload of join-app.
type JoinAppPayload struct {
	Username string `json:"username,omitempty"`
}

// UserInfo identifies a participant to others.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Ack is the reply to create-room, join-room and call-random.
type Ack struct {
	Event    string `json:"event"`
	Success  bool   `json:"success"`
	RoomID   string `json:"roomId,omitempty"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

// IncomingCallPayload is sent to the participant picked by the matchmaker.
type IncomingCallPayload struct {
	RoomID     string `json:"roomId"`
	CallerName string `json:"callerName"`
}

// CallStartedPayload is sent to the participant who asked for a random call.
type CallStartedPayload struct {
	RoomID    string `json:"roomId"`
	OtherUser string `json:"otherUser"`
}

// ReasonPayload says why a call ended when the server, not the peer, ended it.
type ReasonPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Call end reasons.
const (
	ReasonTimeout = "timeout"
	ReasonLeft    = "left"
)

// NewMessage builds an outbound message, encoding payload as JSON.
// A nil payload leaves the field empty.
func NewMessage(typ, roomID string, payload any) *Message {
	msg := &Message{Type: typ, RoomID: roomID}
	if payload != nil {
		// The payload types above always marshal.
		msg.Payload, _ = json.Marshal(payload)
	}
	return msg
}

func newError(err error) *Message {
	return NewMessage(EventError, "", ErrorPayload{Error: UserMessage(err)})
}

// targetRoom returns the room a request refers to. Older clients send the
// room id as a bare JSON string payload instead of in roomId.
func (m *Message) targetRoom() string {
	if m.RoomID != "" {
		return m.RoomID
	}
	var id string
	if len(m.Payload) > 0 && json.Unmarshal(m.Payload, &id) == nil {
		return strings.TrimSpace(id)
	}
	return ""
}
