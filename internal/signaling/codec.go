package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Websocket subprotocols a client may request. Without one, JSON is used.
const (
	SubprotocolJSON    = "callrelay.json"
	SubprotocolMsgpack = "callrelay.msgpack"
)

// Subprotocols lists every supported subprotocol in server preference order.
var Subprotocols = []string{SubprotocolJSON, SubprotocolMsgpack}

// Codec converts messages to and from websocket frames.
type Codec interface {
	Name() string
	FrameType() int
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
}

// CodecFor returns the codec for a negotiated subprotocol.
func CodecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

// codecForFrame picks a decoder by frame type so either encoding is
// accepted regardless of what was negotiated.
func codecForFrame(frameType int) Codec {
	if frameType == websocket.BinaryMessage {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

// JSONCodec encodes messages as JSON text frames.
type JSONCodec struct{}

func (JSONCodec) Name() string   { return SubprotocolJSON }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode json frame: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("decode json frame: missing type")
	}
	return &msg, nil
}

// MsgpackCodec encodes messages as msgpack binary frames. Payloads are
// held as JSON inside the server and transcoded at the edge, except that a
// payload received as msgpack is sent on to msgpack peers byte for byte.
type MsgpackCodec struct{}

type msgpackFrame struct {
	Type    string             `msgpack:"type"`
	ID      string             `msgpack:"id,omitempty"`
	RoomID  string             `msgpack:"roomId,omitempty"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

func (MsgpackCodec) Name() string   { return SubprotocolMsgpack }
func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Encode(msg *Message) ([]byte, error) {
	frame := msgpackFrame{Type: msg.Type, ID: msg.ID, RoomID: msg.RoomID}
	switch {
	case len(msg.packed) > 0:
		frame.Payload = msg.packed
	case len(msg.Payload) > 0:
		packed, err := jsonToMsgpack(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("transcode payload: %w", err)
		}
		frame.Payload = packed
	}
	return msgpack.Marshal(&frame)
}

func (MsgpackCodec) Decode(data []byte) (*Message, error) {
	var frame msgpackFrame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode msgpack frame: %w", err)
	}
	if frame.Type == "" {
		return nil, fmt.Errorf("decode msgpack frame: missing type")
	}
	msg := &Message{Type: frame.Type, ID: frame.ID, RoomID: frame.RoomID}
	if len(frame.Payload) > 0 && !bytes.Equal(frame.Payload, msgpackNil) {
		raw, err := msgpackToJSON(frame.Payload)
		if err != nil {
			return nil, fmt.Errorf("transcode payload: %w", err)
		}
		msg.Payload = raw
		msg.packed = frame.Payload
	}
	return msg, nil
}

var msgpackNil = []byte{0xc0}

// jsonToMsgpack re-encodes a JSON value as msgpack. Integers stay integers
// at full 64-bit precision.
func jsonToMsgpack(raw json.RawMessage) (msgpack.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	v, err := convertNumbers(v)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(v)
}

func convertNumbers(v any) (any, error) {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		if n, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return n, nil
		}
		return v.Float64()
	case map[string]any:
		for k, e := range v {
			c, err := convertNumbers(e)
			if err != nil {
				return nil, err
			}
			v[k] = c
		}
	case []any:
		for i, e := range v {
			c, err := convertNumbers(e)
			if err != nil {
				return nil, err
			}
			v[i] = c
		}
	}
	return v, nil
}

// msgpackToJSON re-encodes a msgpack value as JSON for JSON peers. Binary
// values become base64 strings, as encoding/json renders []byte.
func msgpackToJSON(raw msgpack.RawMessage) (json.RawMessage, error) {
	var v any
	if err := msgpack.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
