package signal

import (
	"errors"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	ms core.MemberSession,
	conn *WsSignalConn,
	msg core.Message,
) {
	sid := ms.ID()
	if ctl.limiter != nil && !ctl.limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("room", string(msg.Room)).Msg("join rate limited")
		ctl.Orch.Metrics.Rejected("rate_limited")
		ctl.sendError(conn, msg.Room, "rate_limited")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(msg.Room)).Msg("join")
	if _, err := ctl.Orch.Join(ms, msg.Room); err != nil {
		reason := "bad_room"
		if errors.Is(err, domain.ErrRoomIDTooLong) {
			reason = "room_id_too_long"
		}
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join rejected")
		ctl.sendError(conn, msg.Room, reason)
	}
}

// handleLeave takes the member out of its room; the socket stays open.
func (ctl *SignalWSController) handleLeave(
	ms core.MemberSession,
	_ *WsSignalConn,
	msg core.Message,
) {
	log.Info().Str("module", "signal").Str("sid", string(ms.ID())).Str("room", string(msg.Room)).Msg("leave")
	ctl.Orch.Leave(ms.ID())
}
