package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BioHazard786/callrelay/internal/signaling"
)

// ServerError is an error reply or a failed ack from the server.
type ServerError struct {
	Event   string
	Message string
}

func (e *ServerError) Error() string {
	if e.Event == "" {
		return "server: " + e.Message
	}
	return fmt.Sprintf("server rejected %s: %s", e.Event, e.Message)
}

// JoinApp registers with the server and returns the assigned identity.
func (c *Client) JoinApp(ctx context.Context, username string) (signaling.UserInfo, error) {
	var info signaling.UserInfo
	if _, err := c.Request(signaling.EventJoinApp, "", signaling.JoinAppPayload{Username: username}); err != nil {
		return info, err
	}
	msg, err := c.Wait(ctx, signaling.EventUserConnected, signaling.EventError)
	if err != nil {
		return info, err
	}
	if err := asError(msg); err != nil {
		return info, err
	}
	return info, decode(msg, &info)
}

// CreateRoom opens a room and returns its id.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	ack, err := c.call(ctx, signaling.EventCreateRoom, "", nil)
	return ack.RoomID, err
}

// JoinRoom joins an existing room.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	_, err := c.call(ctx, signaling.EventJoinRoom, roomID, nil)
	return err
}

// CallRandom asks to be matched and returns the call-started details.
func (c *Client) CallRandom(ctx context.Context) (signaling.CallStartedPayload, error) {
	var started signaling.CallStartedPayload
	if _, err := c.Request(signaling.EventCallRandom, "", nil); err != nil {
		return started, err
	}
	msg, err := c.Wait(ctx, signaling.EventCallStarted, signaling.EventAck, signaling.EventError)
	if err != nil {
		return started, err
	}
	if err := asError(msg); err != nil {
		return started, err
	}
	return started, decode(msg, &started)
}

// call sends a request answered by an ack and fails if the ack does.
func (c *Client) call(ctx context.Context, typ, roomID string, payload any) (signaling.Ack, error) {
	var ack signaling.Ack
	id, err := c.Request(typ, roomID, payload)
	if err != nil {
		return ack, err
	}
	for {
		msg, err := c.Wait(ctx, signaling.EventAck, signaling.EventError)
		if err != nil {
			return ack, err
		}
		if msg.ID != id {
			continue
		}
		if err := asError(msg); err != nil {
			return ack, err
		}
		return ack, decode(msg, &ack)
	}
}

// asError turns an error message or failed ack into a *ServerError.
func asError(msg *signaling.Message) error {
	switch msg.Type {
	case signaling.EventError:
		var p signaling.ErrorPayload
		if err := decode(msg, &p); err != nil {
			return err
		}
		return &ServerError{Message: p.Error}
	case signaling.EventAck:
		var ack signaling.Ack
		if err := decode(msg, &ack); err != nil {
			return err
		}
		if !ack.Success {
			return &ServerError{Event: ack.Event, Message: ack.Message}
		}
	}
	return nil
}

func decode(msg *signaling.Message, v any) error {
	if len(msg.Payload) == 0 {
		return errors.New("empty " + msg.Type + " payload")
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return nil
}
