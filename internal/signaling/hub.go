package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/BioHazard786/callrelay/internal/metrics"
)

// HubOptions configures a Hub. Zero values are usable.
type HubOptions struct {
	PendingCallTimeout time.Duration
	Chooser            Chooser
	Metrics            *metrics.Metrics
	Logger             *slog.Logger
}

// Hub is the central brain of the signaling server.
// A single goroutine (Run) owns every client, participant and room, and
// handles one event at a time to completion.
type Hub struct {
	clients map[string]*Client

	participants *Participants
	rooms        *Rooms
	session      *Session
	relay        *Relay

	register   chan *Client
	unregister chan *Client
	inbound    chan *Message
	tasks      chan func()
	snapshots  chan chan Snapshot
	done       chan struct{}

	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(opts HubOptions) *Hub {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan *Message),
		tasks:      make(chan func()),
		snapshots:  make(chan chan Snapshot),
		done:       make(chan struct{}),
		metrics:    opts.Metrics,
		log:        opts.Logger,
	}

	h.participants = NewParticipants()
	h.rooms = NewRooms(h.participants)
	h.session = NewSession(h.participants, h.rooms, h, SessionOptions{
		Chooser:            opts.Chooser,
		Scheduler:          hubScheduler{h},
		PendingCallTimeout: opts.PendingCallTimeout,
		Metrics:            opts.Metrics,
		Logger:             opts.Logger,
	})
	h.relay = NewRelay(h.rooms, h.session.Broadcaster(), opts.Metrics)
	return h
}

// Metrics returns the counters the hub updates.
func (h *Hub) Metrics() *metrics.Metrics {
	return h.metrics
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Register hands a new connection to the hub. It returns false if the hub
// has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister tells the hub a connection is gone.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// dispatch hands an inbound message to the hub loop.
func (h *Hub) dispatch(msg *Message) bool {
	select {
	case h.inbound <- msg:
		return true
	case <-h.done:
		return false
	}
}

// post runs f on the hub goroutine.
func (h *Hub) post(f func()) bool {
	select {
	case h.tasks <- f:
		return true
	case <-h.done:
		return false
	}
}

// Run starts the hub's main processing loop and blocks until ctx is
// cancelled. This is the single goroutine that manages all state.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clients[client.ID] = client
			h.metrics.ConnectionsTotal.Add(1)
			h.metrics.ConnectionsActive.Add(1)
			h.log.Debug("client registered", "client", client.ID, "addr", client.RemoteAddr())

		case client := <-h.unregister:
			if _, ok := h.clients[client.ID]; !ok {
				continue
			}
			delete(h.clients, client.ID)
			h.session.Disconnect(client.ID)
			// Stop the client's WritePump.
			close(client.send)
			h.metrics.ConnectionsActive.Add(-1)
			h.metrics.Disconnects.Add(1)
			h.log.Debug("client unregistered", "client", client.ID)

		case msg := <-h.inbound:
			h.handle(msg)

		case task := <-h.tasks:
			task()

		case reply := <-h.snapshots:
			reply <- h.snapshot()

		case <-ctx.Done():
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.metrics.ConnectionsActive.Store(0)
			h.log.Info("hub stopped")
			return
		}
	}
}

// Send queues msg on a connection's send buffer without blocking. It must
// only be called from the hub goroutine.
func (h *Hub) Send(to string, msg *Message) bool {
	client, ok := h.clients[to]
	if !ok {
		return false
	}
	select {
	case client.send <- msg:
		return true
	default:
		h.metrics.OutboundDropped.Add(1)
		h.log.Warn("send buffer full, dropping message", "client", to, "type", msg.Type)
		return false
	}
}

// handle is the core signaling logic: one inbound message, one handler.
func (h *Hub) handle(msg *Message) {
	client := msg.client
	if client == nil {
		return
	}
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	id := client.ID
	h.log.Debug("message received", "client", id, "type", msg.Type)

	switch msg.Type {
	case eventInvalid:
		h.metrics.InvalidMessages.Add(1)
		h.reply(msg, NewMessage(EventError, "", ErrorPayload{Error: "Invalid message"}))

	case EventJoinApp:
		var payload JoinAppPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				h.metrics.InvalidMessages.Add(1)
				h.reply(msg, NewMessage(EventError, "", ErrorPayload{Error: "Invalid message"}))
				return
			}
		}
		p := h.session.JoinApp(id, payload.Username)
		h.reply(msg, NewMessage(EventUserConnected, "", p.info()))

	case EventCreateRoom:
		room, err := h.session.CreateRoom(id)
		if err != nil {
			h.ack(msg, Ack{Message: UserMessage(err)})
			return
		}
		h.ack(msg, Ack{Success: true, RoomID: room.ID, Username: h.username(id)})

	case EventJoinRoom:
		room, err := h.session.JoinRoom(id, msg.targetRoom())
		if err != nil {
			h.ack(msg, Ack{Message: UserMessage(err)})
			return
		}
		h.ack(msg, Ack{Success: true, RoomID: room.ID, Username: h.username(id)})

	case EventCallRandom:
		match, err := h.session.CallRandom(id)
		if err != nil {
			h.ack(msg, Ack{Message: UserMessage(err)})
			return
		}
		h.ack(msg, Ack{Success: true, RoomID: match.Room.ID})

	case EventAcceptCall:
		h.replyError(msg, h.session.AcceptCall(id, msg.targetRoom()))

	case EventRejectCall:
		h.replyError(msg, h.session.RejectCall(id, msg.targetRoom()))

	case EventEndCall:
		h.replyError(msg, h.session.EndCall(id, msg.targetRoom()))

	default:
		if IsRelayKind(msg.Type) {
			err := h.relay.forward(msg, id)
			if err != nil {
				h.log.Debug("relay dropped", "client", id, "room", msg.RoomID, "type", msg.Type, "err", err)
			}
			h.replyError(msg, err)
			return
		}
		h.log.Debug("unknown message type", "client", id, "type", msg.Type)
		h.reply(msg, NewMessage(EventError, "", ErrorPayload{Error: "Unknown message type"}))
	}
}

func (h *Hub) username(id string) string {
	if p, ok := h.participants.Lookup(id); ok {
		return p.Username
	}
	return ""
}

// reply sends out to the requester, echoing the request id.
func (h *Hub) reply(req, out *Message) {
	out.ID = req.ID
	h.Send(req.client.ID, out)
}

func (h *Hub) ack(req *Message, ack Ack) {
	ack.Event = req.Type
	h.reply(req, NewMessage(EventAck, ack.RoomID, ack))
}

func (h *Hub) replyError(req *Message, err error) {
	if err == nil {
		return
	}
	out := newError(err)
	out.RoomID = req.targetRoom()
	h.reply(req, out)
}

// Snapshot is a point-in-time summary of hub state. It carries counts
// only; room ids are join tokens and are never exposed.
type Snapshot struct {
	Clients      int `json:"clients"`
	Participants int `json:"participants"`
	Idle         int `json:"idle"`
	InCall       int `json:"in_call"`
	Rooms        int `json:"rooms"`
	FullRooms    int `json:"full_rooms"`
	PendingCalls int `json:"pending_calls"`
}

func (h *Hub) snapshot() Snapshot {
	inCall := h.participants.CountInCall()
	full := 0
	h.rooms.each(func(r *Room) {
		if r.Full() {
			full++
		}
	})
	return Snapshot{
		Clients:      len(h.clients),
		Participants: h.participants.Len(),
		Idle:         h.participants.Len() - inCall,
		InCall:       inCall,
		Rooms:        h.rooms.Len(),
		FullRooms:    full,
		PendingCalls: h.rooms.CountPending(),
	}
}

// ErrHubStopped is returned by Snapshot once Run has returned.
var ErrHubStopped = errors.New("hub stopped")

// Snapshot asks the hub loop for a summary of its state.
func (h *Hub) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case h.snapshots <- reply:
	case <-h.done:
		return Snapshot{}, ErrHubStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// hubScheduler runs timer callbacks on the hub goroutine.
type hubScheduler struct {
	h *Hub
}

func (s hubScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() {
		s.h.post(f)
	})
}
