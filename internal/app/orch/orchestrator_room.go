package orch

import (
	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join registers ms in roomID, acks the joiner with the peers already present
// and announces the joiner to them.
func (o *Orchestrator) Join(ms core.MemberSession, roomID domain.RoomID) (app.Membership, error) {
	sid := ms.ID()
	m, err := o.Registry.Join(roomID, ms)
	if err != nil {
		return app.Membership{}, err
	}
	if m.Left != "" {
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("from_room", string(m.Left)).Msg("moved out of room")
		o.notify(m.Left, core.MessageLeave, core.LeavePayload{Session: sid})
	}

	ack, err := core.NewMessage(core.MessageJoin, roomID, core.JoinPayload{Session: sid, Peers: m.Peers, Ack: true})
	if err == nil {
		var frame core.Frame
		if frame, err = ack.Encode(); err == nil {
			err = ms.Signal().TrySend(frame)
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(sid)).Msg("join ack not delivered")
	}

	msg, err := core.NewMessage(core.MessageJoin, roomID, core.JoinPayload{Session: sid})
	if err != nil {
		return m, nil
	}
	frame, err := msg.Encode()
	if err != nil {
		return m, nil
	}
	if res, ok := o.Registry.Relay(roomID, sid, frame); ok {
		o.Metrics.Relayed(core.MessageJoin, res)
		o.applyPolicy(roomID, res)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Int("size", m.Size).Msg("added to room")
	return m, nil
}

// Leave removes sid from its room and tells the remaining members.
func (o *Orchestrator) Leave(sid core.SessionID) {
	roomID, remaining, ok := o.Registry.Leave(sid)
	if !ok {
		return
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).Int("remaining", remaining).Msg("left room")
	if remaining > 0 {
		o.notify(roomID, core.MessageLeave, core.LeavePayload{Session: sid})
	}
}

// OnDisconnect is called once the transport of sid is gone.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	o.Leave(sid)
}
