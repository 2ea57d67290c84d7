package peer

import (
	"fmt"

	"github.com/dkeye/Duet/internal/core"
)

// EventFromMessage maps a relay message to a coordinator event. A nil event
// with a nil error means the message needs no action.
func EventFromMessage(msg core.Message) (Event, error) {
	switch msg.Type {
	case core.MessageJoin:
		var p core.JoinPayload
		if err := msg.Decode(&p); err != nil {
			return nil, fmt.Errorf("join: %w", err)
		}
		if p.Ack {
			return Joined{Self: p.Session, Peers: p.Peers}, nil
		}
		return PeerJoined{ID: p.Session}, nil
	case core.MessageLeave:
		var p core.LeavePayload
		if err := msg.Decode(&p); err != nil {
			return nil, fmt.Errorf("leave: %w", err)
		}
		return PeerLeft{ID: p.Session}, nil
	case core.MessageOffer, core.MessageAnswer:
		var sd core.SessionDescription
		if err := msg.Decode(&sd); err != nil {
			return nil, fmt.Errorf("%s: %w", msg.Type, err)
		}
		if sd.Type != string(msg.Type) {
			return nil, fmt.Errorf("%s carries sdp type %q", msg.Type, sd.Type)
		}
		if msg.Type == core.MessageOffer {
			return RemoteOffer{Desc: sd}, nil
		}
		return RemoteAnswer{Desc: sd}, nil
	case core.MessageCandidate:
		var c core.Candidate
		if err := msg.Decode(&c); err != nil {
			return nil, fmt.Errorf("candidate: %w", err)
		}
		return RemoteCandidate{Candidate: c}, nil
	case core.MessageError:
		var p core.ErrorPayload
		if err := msg.Decode(&p); err != nil {
			return nil, fmt.Errorf("relay error frame: %w", err)
		}
		return nil, fmt.Errorf("relay error: %s", p.Error)
	case core.MessagePong, core.MessagePing:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported message type %q", msg.Type)
	}
}
