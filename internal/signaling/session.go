package signaling

import (
	"log/slog"
	"time"

	"github.com/BioHazard786/callrelay/internal/metrics"
)

// Sender delivers a message to one connection. It reports false when the
// connection is gone or cannot take more messages; delivery is best-effort.
type Sender interface {
	Send(to string, msg *Message) bool
}

// Broadcaster delivers a message to every currently connected member of a
// room except exclude, returning the number of deliveries.
type Broadcaster interface {
	BroadcastToRoom(roomID, exclude string, msg *Message) int
}

// roomBroadcaster implements Broadcaster over a room registry and a Sender.
type roomBroadcaster struct {
	rooms  *Rooms
	sender Sender
}

// NewRoomBroadcaster returns a Broadcaster resolving members through rooms.
func NewRoomBroadcaster(rooms *Rooms, sender Sender) Broadcaster {
	return &roomBroadcaster{rooms: rooms, sender: sender}
}

func (b *roomBroadcaster) BroadcastToRoom(roomID, exclude string, msg *Message) int {
	n := 0
	for _, id := range b.rooms.Others(roomID, exclude) {
		if b.sender.Send(id, msg) {
			n++
		}
	}
	return n
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. The Hub's scheduler runs f on the hub
// goroutine so it may touch session state.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SessionOptions configures a Session. Zero values are usable.
type SessionOptions struct {
	Chooser Chooser

	// Scheduler and PendingCallTimeout enable expiry of unanswered random
	// calls. Expiry is off when either is unset.
	Scheduler          Scheduler
	PendingCallTimeout time.Duration

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Session runs the call lifecycle: room creation, joining, random
// matching, accept/reject/end and disconnect cleanup.
//
// It is not safe for concurrent use; the Hub calls it from one goroutine.
type Session struct {
	participants *Participants
	rooms        *Rooms
	matcher      *Matchmaker
	sender       Sender
	cast         Broadcaster

	sched          Scheduler
	pendingTimeout time.Duration
	expiries       map[string]Timer // room id -> pending-call expiry

	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewSession wires a Session over the given registries.
func NewSession(participants *Participants, rooms *Rooms, sender Sender, opts SessionOptions) *Session {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		participants:   participants,
		rooms:          rooms,
		matcher:        NewMatchmaker(participants, rooms, opts.Chooser),
		sender:         sender,
		cast:           NewRoomBroadcaster(rooms, sender),
		sched:          opts.Scheduler,
		pendingTimeout: opts.PendingCallTimeout,
		expiries:       make(map[string]Timer),
		metrics:        opts.Metrics,
		log:            opts.Logger,
	}
}

// Broadcaster returns the room broadcaster the session notifies through.
func (s *Session) Broadcaster() Broadcaster {
	return s.cast
}

// JoinApp registers the participant. Joining twice keeps the first entry.
func (s *Session) JoinApp(id, username string) *Participant {
	p := s.participants.Register(id, username)
	s.log.Debug("participant joined", "client", id, "username", p.Username)
	return p
}

// CreateRoom opens a one-member room with the participant as creator.
func (s *Session) CreateRoom(id string) (*Room, error) {
	p, ok := s.participants.Lookup(id)
	if !ok {
		return nil, ErrUnknownParticipant
	}
	s.leaveCurrent(p)

	room, err := s.rooms.Create([]string{id}, id)
	if err != nil {
		return nil, err
	}
	p.enterRoom(room.ID)
	s.metrics.RoomsCreated.Add(1)

	s.log.Info("room created", "room", room.ID, "client", id)
	return room, nil
}

// JoinRoom adds the participant to an existing room and tells the member
// already there. Failures leave every registry untouched.
func (s *Session) JoinRoom(id, roomID string) (*Room, error) {
	p, ok := s.participants.Lookup(id)
	if !ok {
		return nil, ErrUnknownParticipant
	}
	room, ok := s.rooms.Get(roomID)
	if !ok {
		s.metrics.JoinFailures.Add(1)
		s.log.Info("room join failed", "room", roomID, "client", id, "err", ErrRoomNotFound)
		return nil, ErrRoomNotFound
	}
	if room.HasMember(id) {
		return room, nil
	}
	if room.Full() {
		s.metrics.JoinFailures.Add(1)
		s.log.Info("room join failed", "room", roomID, "client", id, "err", ErrRoomFull)
		return nil, ErrRoomFull
	}

	s.leaveCurrent(p)
	if err := s.rooms.AddMember(roomID, id); err != nil {
		return nil, err
	}
	p.enterRoom(roomID)

	s.cast.BroadcastToRoom(roomID, id, NewMessage(EventUserJoined, roomID, p.info()))
	s.log.Info("client joined room", "room", roomID, "client", id)
	return room, nil
}

// CallRandom pairs the participant with a random idle participant. The
// requester gets call-started, the chosen peer gets incoming-call and has
// to accept or reject.
func (s *Session) CallRandom(id string) (Match, error) {
	p, ok := s.participants.Lookup(id)
	if !ok {
		return Match{}, ErrUnknownParticipant
	}
	if len(s.matcher.Candidates(id)) == 0 {
		s.metrics.MatchFailures.Add(1)
		return Match{}, ErrNoPeerAvailable
	}
	s.leaveCurrent(p)

	match, err := s.matcher.PairRandomly(id)
	if err != nil {
		s.metrics.MatchFailures.Add(1)
		return Match{}, err
	}
	roomID := match.Room.ID
	s.metrics.RoomsCreated.Add(1)
	s.metrics.RandomMatches.Add(1)
	s.schedulePendingExpiry(roomID)

	s.sender.Send(match.Requester.ID, NewMessage(EventCallStarted, roomID, CallStartedPayload{
		RoomID:    roomID,
		OtherUser: match.Peer.Username,
	}))
	s.sender.Send(match.Peer.ID, NewMessage(EventIncomingCall, roomID, IncomingCallPayload{
		RoomID:     roomID,
		CallerName: match.Requester.Username,
	}))

	s.log.Info("random call matched", "room", roomID, "caller", id, "peer", match.Peer.ID)
	return match, nil
}

// AcceptCall tells both ends the call is live. Registries are unchanged
// apart from clearing the pending flag.
func (s *Session) AcceptCall(id, roomID string) error {
	room, err := s.memberRoom(id, roomID)
	if err != nil {
		return err
	}
	room.Pending = false
	s.cancelExpiry(roomID)

	msg := NewMessage(EventCallAccepted, roomID, nil)
	s.cast.BroadcastToRoom(roomID, id, msg)
	s.sender.Send(id, msg)
	s.metrics.CallsAccepted.Add(1)
	return nil
}

// RejectCall tells the other member and tears the room down.
func (s *Session) RejectCall(id, roomID string) error {
	if _, err := s.memberRoom(id, roomID); err != nil {
		return err
	}
	s.cast.BroadcastToRoom(roomID, id, NewMessage(EventCallRejected, roomID, nil))
	s.destroy(roomID)
	s.metrics.CallsRejected.Add(1)
	return nil
}

// EndCall tells the other member and tears the room down.
func (s *Session) EndCall(id, roomID string) error {
	if _, err := s.memberRoom(id, roomID); err != nil {
		return err
	}
	s.cast.BroadcastToRoom(roomID, id, NewMessage(EventCallEnded, roomID, nil))
	s.destroy(roomID)
	s.metrics.CallsEnded.Add(1)
	return nil
}

// Disconnect cleans up after a closed connection: the other member of the
// participant's room is told and the room is destroyed, then the
// participant is removed. Unknown ids are fine.
func (s *Session) Disconnect(id string) {
	if p, ok := s.participants.Lookup(id); ok && p.CurrentRoom != "" {
		roomID := p.CurrentRoom
		s.cast.BroadcastToRoom(roomID, id, NewMessage(EventUserDisconnected, roomID, nil))
		s.destroy(roomID)
	}
	s.participants.Remove(id)
}

// memberRoom resolves a room the participant acts on.
func (s *Session) memberRoom(id, roomID string) (*Room, error) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	if !room.HasMember(id) {
		return nil, ErrNotRoomMember
	}
	return room, nil
}

// leaveCurrent ends the participant's current call before it enters
// another room, so nobody is ever a member of two rooms.
func (s *Session) leaveCurrent(p *Participant) {
	if p.CurrentRoom == "" {
		return
	}
	roomID := p.CurrentRoom
	s.cast.BroadcastToRoom(roomID, p.ID, NewMessage(EventCallEnded, roomID, ReasonPayload{Reason: ReasonLeft}))
	s.destroy(roomID)
	s.metrics.CallsEnded.Add(1)
}

func (s *Session) destroy(roomID string) {
	s.cancelExpiry(roomID)
	if _, ok := s.rooms.Destroy(roomID); ok {
		s.metrics.RoomsDestroyed.Add(1)
		s.log.Info("room deleted", "room", roomID)
	}
}

func (s *Session) schedulePendingExpiry(roomID string) {
	if s.sched == nil || s.pendingTimeout <= 0 {
		return
	}
	s.expiries[roomID] = s.sched.AfterFunc(s.pendingTimeout, func() {
		s.expirePending(roomID)
	})
}

func (s *Session) cancelExpiry(roomID string) {
	if t, ok := s.expiries[roomID]; ok {
		t.Stop()
		delete(s.expiries, roomID)
	}
}

// expirePending ends a random call nobody answered: the caller sees a
// rejection, the callee sees the call end.
func (s *Session) expirePending(roomID string) {
	delete(s.expiries, roomID)
	room, ok := s.rooms.Get(roomID)
	if !ok || !room.Pending {
		return
	}

	reason := ReasonPayload{Reason: ReasonTimeout}
	for _, id := range room.Members {
		if id == room.Creator {
			s.sender.Send(id, NewMessage(EventCallRejected, roomID, reason))
		} else {
			s.sender.Send(id, NewMessage(EventCallEnded, roomID, reason))
		}
	}
	s.destroy(roomID)
	s.metrics.CallsExpired.Add(1)
	s.log.Info("pending call expired", "room", roomID)
}
