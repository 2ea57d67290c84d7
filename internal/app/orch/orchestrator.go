package orch

import (
	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Policy   app.Policy
	Metrics  *app.Metrics
}

func New(reg *app.Registry, policy app.Policy, m *app.Metrics) *Orchestrator {
	return &Orchestrator{Registry: reg, Policy: policy, Metrics: m}
}

// Relay forwards an already validated offer/answer/candidate frame
// unmodified to the other members of the sender's room.
func (o *Orchestrator) Relay(sid core.SessionID, msg core.Message, raw core.Frame) bool {
	res, ok := o.Registry.Relay(msg.Room, sid, raw)
	if !ok {
		o.Metrics.Rejected("not_member")
		return false
	}
	o.Metrics.Relayed(msg.Type, res)
	o.applyPolicy(msg.Room, res)
	return true
}

func (o *Orchestrator) notify(roomID domain.RoomID, t core.MessageType, payload any) {
	msg, err := core.NewMessage(t, roomID, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("build notification")
		return
	}
	frame, err := msg.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode notification")
		return
	}
	res := o.Registry.Notify(roomID, frame)
	o.Metrics.Relayed(t, res)
	o.applyPolicy(roomID, res)
}

func (o *Orchestrator) applyPolicy(roomID domain.RoomID, res core.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(roomID, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow.ID())).Str("room", string(roomID)).Msg("kicking slow member")
			// Closing the socket ends its readPump, which calls OnDisconnect.
			slow.Signal().Close()
		case app.DropFrame, app.NoAction:
		}
	}
}

func (o *Orchestrator) Rooms() []core.RoomInfo {
	return o.Registry.List()
}
