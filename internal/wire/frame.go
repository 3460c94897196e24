package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frame type discriminators.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeData        = "data"
	TypePing        = "ping"
	TypePong        = "pong"
)

// Frame is the structured envelope exchanged over the transport.
type Frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Envelope is a decoded data frame handed to subscription handlers.
type Envelope struct {
	Channel    string          // Routing key the remote side tagged the payload with
	Payload    json.RawMessage // Opaque application payload
	ReceivedAt time.Time       // Local timestamp when the transport delivered the frame
}

// Subscribe builds a subscribe-assertion frame for a channel.
func Subscribe(channel string) Frame {
	return Frame{Type: TypeSubscribe, Channel: channel}
}

// Unsubscribe builds an unsubscribe-assertion frame for a channel.
func Unsubscribe(channel string) Frame {
	return Frame{Type: TypeUnsubscribe, Channel: channel}
}

// Ping builds a liveness probe frame.
func Ping() Frame {
	return Frame{Type: TypePing}
}

// Pong builds a liveness acknowledgment frame.
func Pong() Frame {
	return Frame{Type: TypePong}
}

// Data builds a data frame for a channel.
func Data(channel string, payload json.RawMessage) Frame {
	return Frame{Type: TypeData, Channel: channel, Payload: payload}
}

// Validate checks the discriminator and channel requirements.
func (f Frame) Validate() error {
	switch f.Type {
	case TypePing, TypePong:
		return nil
	case TypeSubscribe, TypeUnsubscribe, TypeData:
		if f.Channel == "" {
			return fmt.Errorf("%s frame missing channel", f.Type)
		}
		return nil
	case "":
		return fmt.Errorf("frame missing type")
	default:
		return fmt.Errorf("unknown frame type %q", f.Type)
	}
}

// Encode marshals a frame for the transport.
func Encode(f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

// Decode parses raw transport bytes into a frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("parse frame: %w", err)
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}
