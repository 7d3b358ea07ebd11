package signaling

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Chooser picks an index in [0, n). n is always positive.
type Chooser interface {
	Choose(n int) int
}

// ChooserFunc adapts a function to Chooser.
type ChooserFunc func(n int) int

func (f ChooserFunc) Choose(n int) int { return f(n) }

// randomChooser picks uniformly using crypto/rand.
type randomChooser struct{}

func (randomChooser) Choose(n int) int {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return int(i.Int64())
}

// Match is the outcome of a successful random pairing.
type Match struct {
	Room      *Room
	Requester *Participant
	Peer      *Participant
}

// Matchmaker pairs a requester with a random idle participant.
type Matchmaker struct {
	participants *Participants
	rooms        *Rooms
	chooser      Chooser
}

// NewMatchmaker returns a matchmaker; a nil chooser picks uniformly at random.
func NewMatchmaker(participants *Participants, rooms *Rooms, chooser Chooser) *Matchmaker {
	if chooser == nil {
		chooser = randomChooser{}
	}
	return &Matchmaker{
		participants: participants,
		rooms:        rooms,
		chooser:      chooser,
	}
}

// Candidates returns every idle participant except the requester.
func (m *Matchmaker) Candidates(requesterID string) []*Participant {
	idle := m.participants.ListIdle()
	candidates := idle[:0]
	for _, p := range idle {
		if p.ID != requesterID {
			candidates = append(candidates, p)
		}
	}
	return candidates
}

// PairRandomly picks one idle participant, creates a two-member room
// [requester, peer] and marks both in call. The room starts Pending: the
// peer has not agreed to anything yet.
func (m *Matchmaker) PairRandomly(requesterID string) (Match, error) {
	requester, ok := m.participants.Lookup(requesterID)
	if !ok {
		return Match{}, ErrUnknownParticipant
	}

	candidates := m.Candidates(requesterID)
	if len(candidates) == 0 {
		return Match{}, ErrNoPeerAvailable
	}

	i := m.chooser.Choose(len(candidates))
	if i < 0 || i >= len(candidates) {
		return Match{}, fmt.Errorf("chooser returned %d for %d candidates", i, len(candidates))
	}
	peer := candidates[i]

	room, err := m.rooms.Create([]string{requester.ID, peer.ID}, requester.ID)
	if err != nil {
		return Match{}, err
	}
	room.Pending = true
	requester.enterRoom(room.ID)
	peer.enterRoom(room.ID)

	return Match{Room: room, Requester: requester, Peer: peer}, nil
}
