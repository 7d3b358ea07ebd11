package signaling

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// MaxRoomMembers is the two-party cap.
const MaxRoomMembers = 2

// Room represents a single two-party call session.
type Room struct {
	// ID is the unique identifier for the room. It is never reused.
	ID string

	// Members in join order; always one or two entries.
	Members []string

	// Creator is the participant who initiated the room. Informational only.
	Creator string

	// Pending is set for a random match until the callee accepts.
	Pending bool

	CreatedAt time.Time
}

// HasMember reports whether id is in the room.
func (r *Room) HasMember(id string) bool {
	return slices.Contains(r.Members, id)
}

// Full reports whether the room has reached the two-party cap.
func (r *Room) Full() bool {
	return len(r.Members) >= MaxRoomMembers
}

// Rooms maps room ids to rooms. Destroy resets the members it finds in
// participants.
//
// It is not safe for concurrent use; the Hub goroutine owns it.
type Rooms struct {
	byID         map[string]*Room
	participants *Participants
	newID        func() string
	now          func() time.Time
}

// NewRooms creates an empty registry backed by participants.
func NewRooms(participants *Participants) *Rooms {
	return &Rooms{
		byID:         make(map[string]*Room),
		participants: participants,
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

// Create stores a new room with one or two members under a fresh id.
// Marking the members as in call is the caller's job.
func (rs *Rooms) Create(members []string, creator string) (*Room, error) {
	if len(members) == 0 || len(members) > MaxRoomMembers {
		return nil, fmt.Errorf("create room with %d members: %w", len(members), ErrInvalidRoomSize)
	}
	if len(members) == 2 && members[0] == members[1] {
		return nil, fmt.Errorf("create room with duplicate member: %w", ErrInvalidRoomSize)
	}

	id := rs.newID()
	for {
		if _, exists := rs.byID[id]; !exists {
			break
		}
		id = rs.newID()
	}

	room := &Room{
		ID:        id,
		Members:   slices.Clone(members),
		Creator:   creator,
		CreatedAt: rs.now(),
	}
	rs.byID[id] = room
	return room, nil
}

// Get returns the room with the given id.
func (rs *Rooms) Get(roomID string) (*Room, bool) {
	r, ok := rs.byID[roomID]
	return r, ok
}

// AddMember appends id to the room.
func (rs *Rooms) AddMember(roomID, id string) error {
	room, ok := rs.byID[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if room.Full() {
		return ErrRoomFull
	}
	room.Members = append(room.Members, id)
	return nil
}

// Destroy resets every member that still exists to idle and removes the
// room. Destroying an unknown room is a no-op, so it is safe to call twice.
func (rs *Rooms) Destroy(roomID string) (*Room, bool) {
	room, ok := rs.byID[roomID]
	if !ok {
		return nil, false
	}
	for _, id := range room.Members {
		if p, ok := rs.participants.Lookup(id); ok && p.CurrentRoom == roomID {
			p.leaveRoom()
		}
	}
	delete(rs.byID, roomID)
	return room, true
}

// Others returns the members of the room except exclude.
func (rs *Rooms) Others(roomID, exclude string) []string {
	room, ok := rs.byID[roomID]
	if !ok {
		return nil
	}
	others := make([]string, 0, len(room.Members))
	for _, id := range room.Members {
		if id != exclude {
			others = append(others, id)
		}
	}
	return others
}

// Len returns the number of open rooms.
func (rs *Rooms) Len() int {
	return len(rs.byID)
}

// CountPending returns the number of random-match rooms awaiting an answer.
func (rs *Rooms) CountPending() int {
	n := 0
	for _, r := range rs.byID {
		if r.Pending {
			n++
		}
	}
	return n
}

// each calls fn for every room; fn must not mutate the registry.
func (rs *Rooms) each(fn func(*Room)) {
	for _, r := range rs.byID {
		fn(r)
	}
}
