package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dkeye/Duet/internal/domain"
)

type MessageType string

const (
	MessageJoin      MessageType = "join"
	MessageOffer     MessageType = "offer"
	MessageAnswer    MessageType = "answer"
	MessageCandidate MessageType = "candidate"
	MessageLeave     MessageType = "leave"

	MessagePing  MessageType = "ping"
	MessagePong  MessageType = "pong"
	MessageError MessageType = "error"
)

// Message is the relay envelope. Payload stays raw so the relay can forward
// offer/answer/candidate frames without re-encoding them.
type Message struct {
	Type    MessageType     `json:"type"`
	Room    domain.RoomID   `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload is sent by the relay, never by clients. The ack to the joiner
// lists the peers already present; everyone else gets only Session.
type JoinPayload struct {
	Session SessionID   `json:"session"`
	Peers   []SessionID `json:"peers,omitempty"`
	Ack     bool        `json:"ack,omitempty"`
}

type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type LeavePayload struct {
	Session SessionID `json:"session"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage encodes payload (which may be nil) into an envelope.
func NewMessage(t MessageType, room domain.RoomID, payload any) (Message, error) {
	msg := Message{Type: t, Room: room}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Payload = b
	return msg, nil
}

// Encode marshals the envelope into a frame ready for TrySend.
func (m Message) Encode() (Frame, error) {
	return json.Marshal(m)
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message missing payload", m.Type)
	}
	return json.Unmarshal(m.Payload, v)
}

// ParseMessage decodes a single envelope and validates it against its type.
func ParseMessage(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) Validate() error {
	switch m.Type {
	case MessageJoin, MessageLeave:
		if err := m.Room.Validate(); err != nil {
			return fmt.Errorf("%s message: %w", m.Type, err)
		}
	case MessageOffer, MessageAnswer:
		if err := m.Room.Validate(); err != nil {
			return fmt.Errorf("%s message: %w", m.Type, err)
		}
		var sd SessionDescription
		if err := m.Decode(&sd); err != nil {
			return err
		}
		if sd.Type != string(m.Type) {
			return fmt.Errorf("%s message has sdp.type=%q", m.Type, sd.Type)
		}
		if sd.SDP == "" {
			return fmt.Errorf("%s message has empty sdp", m.Type)
		}
	case MessageCandidate:
		if err := m.Room.Validate(); err != nil {
			return fmt.Errorf("candidate message: %w", err)
		}
		var c Candidate
		if err := m.Decode(&c); err != nil {
			return err
		}
	case MessagePing, MessagePong, MessageError:
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}
