package signaling

import (
	"strings"
	"time"
)

// Participant is one connected client that has joined the app.
type Participant struct {
	// ID is bound 1:1 to the websocket connection; a reconnect gets a new one.
	ID       string
	Username string

	// InCall is true from placement into a room until the room is torn down.
	InCall bool

	// CurrentRoom is the room the participant is in, or "".
	CurrentRoom string

	JoinedAt time.Time
}

// DefaultUsername derives a display name from a connection id. It uses the
// tail of the id, which is the random part of a ULID.
func DefaultUsername(id string) string {
	short := id
	if len(short) > 6 {
		short = short[len(short)-6:]
	}
	return "User_" + short
}

// Participants maps connection ids to participants.
//
// It is not safe for concurrent use; the Hub goroutine owns it.
type Participants struct {
	byID map[string]*Participant
	now  func() time.Time
}

// NewParticipants creates an empty registry.
func NewParticipants() *Participants {
	return &Participants{
		byID: make(map[string]*Participant),
		now:  time.Now,
	}
}

// Register stores a new idle participant. If id is already registered the
// existing entry is returned unchanged.
func (ps *Participants) Register(id, usernameHint string) *Participant {
	if p, ok := ps.byID[id]; ok {
		return p
	}
	name := strings.TrimSpace(usernameHint)
	if name == "" {
		name = DefaultUsername(id)
	}
	p := &Participant{
		ID:       id,
		Username: name,
		JoinedAt: ps.now(),
	}
	ps.byID[id] = p
	return p
}

// Lookup returns the participant registered under id.
func (ps *Participants) Lookup(id string) (*Participant, bool) {
	p, ok := ps.byID[id]
	return p, ok
}

// Remove deletes the participant.
func (ps *Participants) Remove(id string) {
	delete(ps.byID, id)
}

// ListIdle returns every participant not in a call, in no particular order.
func (ps *Participants) ListIdle() []*Participant {
	idle := make([]*Participant, 0, len(ps.byID))
	for _, p := range ps.byID {
		if !p.InCall {
			idle = append(idle, p)
		}
	}
	return idle
}

// Len returns the number of registered participants.
func (ps *Participants) Len() int {
	return len(ps.byID)
}

// CountInCall returns the number of participants currently in a room.
func (ps *Participants) CountInCall() int {
	n := 0
	for _, p := range ps.byID {
		if p.InCall {
			n++
		}
	}
	return n
}

func (p *Participant) enterRoom(roomID string) {
	p.InCall = true
	p.CurrentRoom = roomID
}

func (p *Participant) leaveRoom() {
	p.InCall = false
	p.CurrentRoom = ""
}

func (p *Participant) info() UserInfo {
	return UserInfo{ID: p.ID, Username: p.Username}
}
