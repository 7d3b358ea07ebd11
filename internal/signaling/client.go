package signaling

import (
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Default maximum message size allowed from peer.
	defaultMaxMessageSize = 64 * 1024 // enough for WebRTC SDP messages

	defaultSendBuffer = 256
)

// ClientOptions tunes a single connection. Zero values pick defaults; a
// zero MessagesPerSecond disables rate limiting.
type ClientOptions struct {
	MaxMessageSize    int64
	SendBuffer        int
	MessagesPerSecond float64
	MessageBurst      int
	Logger            *slog.Logger
}

// Client is a wrapper for a single websocket connection (a peer).
type Client struct {
	// ID is the participant id, assigned by the server.
	ID string

	hub  *Hub
	conn *websocket.Conn

	// codec is chosen from the negotiated subprotocol and used for writes.
	codec Codec

	// send is a buffered channel for all outbound messages. The hub writes
	// to it and WritePump drains it to the websocket. Only the hub closes it.
	send chan *Message

	limiter        *rate.Limiter
	maxMessageSize int64
	log            *slog.Logger
}

// NewClient wraps an upgraded connection. The caller registers it with the
// hub and starts both pumps.
func NewClient(hub *Hub, conn *websocket.Conn, opts ClientOptions) *Client {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Client{
		ID:             newClientID(),
		hub:            hub,
		conn:           conn,
		codec:          CodecFor(conn.Subprotocol()),
		send:           make(chan *Message, opts.SendBuffer),
		maxMessageSize: opts.MaxMessageSize,
	}
	if opts.MessagesPerSecond > 0 {
		burst := opts.MessageBurst
		if burst <= 0 {
			burst = int(opts.MessagesPerSecond)
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), max(burst, 1))
	}
	c.log = opts.Logger.With("client", c.ID)
	return c
}

func newClientID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// RemoteAddr returns the peer address, or "" if unknown.
func (c *Client) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	// When this function exits (e.g., connection closes), unregister the client
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", "err", err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.hub.metrics.RateLimited.Add(1)
			c.log.Warn("message rate exceeded, closing connection")
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"),
				time.Now().Add(writeWait))
			return
		}

		msg, err := codecForFrame(frameType).Decode(data)
		if err != nil {
			c.log.Debug("dropping undecodable frame", "err", err)
			msg = &Message{Type: eventInvalid}
		}

		// Attach the client pointer to the message
		msg.client = c

		if !c.hub.dispatch(msg) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	// When this function exits, stop the ticker and close the connection
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := c.codec.Encode(message)
			if err != nil {
				c.log.Error("encode outbound message", "type", message.Type, "err", err)
				continue
			}
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				c.log.Debug("websocket write failed", "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
