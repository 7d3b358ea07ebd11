// Package client is a Go websocket client for the signaling server. The
// probe command and the server integration tests use it.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/callrelay/internal/signaling"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrClosed is returned when sending on or waiting with a closed client.
var ErrClosed = errors.New("client closed")

// Options tunes Dial.
type Options struct {
	// Subprotocol selects the wire encoding; empty means JSON without
	// negotiation.
	Subprotocol string

	// Header is sent with the handshake, e.g. an Origin.
	Header http.Header

	// PublicDNSFallback resolves the host through public resolvers when
	// the system resolver fails.
	PublicDNSFallback bool

	HandshakeTimeout time.Duration
}

// Client manages the websocket connection to the signaling server.
type Client struct {
	conn     *websocket.Conn
	codec    signaling.Codec
	incoming chan *signaling.Message
	outgoing chan *signaling.Message
	done     chan struct{}

	closeOnce sync.Once
	seq       atomic.Uint64
}

// Dial connects to serverURL (ws:// or wss://) and starts the pumps.
func Dial(ctx context.Context, serverURL string, opts Options) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws or wss", serverURL)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	if opts.Subprotocol != "" {
		dialer.Subprotocols = []string{opts.Subprotocol}
	}
	if opts.PublicDNSFallback {
		dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ip, err := Lookup(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("dns lookup failed: %w", err)
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
		}
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:     conn,
		codec:    signaling.CodecFor(conn.Subprotocol()),
		incoming: make(chan *signaling.Message, 64),
		outgoing: make(chan *signaling.Message, 16),
		done:     make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

// Subprotocol returns the subprotocol the server accepted.
func (c *Client) Subprotocol() string {
	return c.conn.Subprotocol()
}

// readPump reads messages from the websocket connection. Frames of either
// encoding are accepted.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		frameType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		codec := signaling.CodecFor(signaling.SubprotocolJSON)
		if frameType == websocket.BinaryMessage {
			codec = signaling.CodecFor(signaling.SubprotocolMsgpack)
		}
		msg, err := codec.Decode(data)
		if err != nil {
			continue
		}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		}
	}
}

// writePump writes queued messages and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			if err := c.write(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			// Flush what was queued before Close.
			for len(c.outgoing) > 0 {
				if err := c.write(<-c.outgoing); err != nil {
					return
				}
			}
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) write(msg *signaling.Message) error {
	data, err := c.codec.Encode(msg)
	if err != nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(c.codec.FrameType(), data)
}

// SendMessage queues msg for the server.
func (c *Client) SendMessage(msg *signaling.Message) error {
	select {
	case c.outgoing <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Request sends typ with a fresh request id and returns that id.
func (c *Client) Request(typ, roomID string, payload any) (string, error) {
	msg := signaling.NewMessage(typ, roomID, payload)
	msg.ID = strconv.FormatUint(c.seq.Add(1), 10)
	return msg.ID, c.SendMessage(msg)
}

// Incoming returns the channel of messages from the server. It is closed
// when the connection drops.
func (c *Client) Incoming() <-chan *signaling.Message {
	return c.incoming
}

// Wait returns the next message whose type is one of types, discarding
// anything else.
func (c *Client) Wait(ctx context.Context, types ...string) (*signaling.Message, error) {
	for {
		select {
		case msg, ok := <-c.incoming:
			if !ok {
				return nil, ErrClosed
			}
			for _, t := range types {
				if msg.Type == t {
					return msg, nil
				}
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close closes the websocket connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}
