package signaling

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room is full")
	ErrNoPeerAvailable    = errors.New("no peer available")
	ErrUnknownParticipant = errors.New("unknown participant")
	// ErrNotRoomMember is returned when a participant acts on a room it
	// does not belong to (accept/reject/end or relay).
	ErrNotRoomMember   = errors.New("not a member of this room")
	ErrInvalidRoomSize = errors.New("a room holds one or two members")
)

// userMessages are the strings browsers already display for each failure.
var userMessages = map[error]string{
	ErrRoomNotFound:       "Room not found",
	ErrRoomFull:           "Room is full",
	ErrNoPeerAvailable:    "No users available",
	ErrUnknownParticipant: "Join the app first",
	ErrNotRoomMember:      "You are not in this room",
}

// UserMessage maps an error to the text sent back to the client.
func UserMessage(err error) string {
	for target, msg := range userMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return "Internal error"
}
