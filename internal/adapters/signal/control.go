package signal

import (
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	ctl.send(conn, core.Message{Type: core.MessagePong})
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, room domain.RoomID, reason string) {
	msg, err := core.NewMessage(core.MessageError, room, core.ErrorPayload{Error: reason})
	if err != nil {
		return
	}
	ctl.send(conn, msg)
}
