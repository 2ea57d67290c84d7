package signal

import (
	"github.com/dkeye/Duet/internal/core"
	"github.com/rs/zerolog/log"
)

// handleRelay forwards offer/answer/candidate frames byte-for-byte.
func (ctl *SignalWSController) handleRelay(
	ms core.MemberSession,
	conn *WsSignalConn,
	msg core.Message,
	data []byte,
) {
	if !ctl.Orch.Relay(ms.ID(), msg, core.Frame(data)) {
		log.Warn().Str("module", "signal").Str("sid", string(ms.ID())).Str("room", string(msg.Room)).Str("type", string(msg.Type)).Msg("relay rejected")
		ctl.sendError(conn, msg.Room, "not_in_room")
	}
}
