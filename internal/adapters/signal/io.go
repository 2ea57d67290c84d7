package signal

import (
	"context"
	"time"

	"github.com/dkeye/Duet/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	var ping <-chan time.Time
	if ctl.opts.PingPeriod > 0 {
		ticker := time.NewTicker(ctl.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				c.Close()
				return
			}
		}
	}
}

// readPump owns the connection lifetime: when it returns the member leaves
// its room and the socket is closed.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, ms core.MemberSession, c *WsSignalConn) {
	sid := ms.ID()
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sid)
		if ctl.limiter != nil {
			ctl.limiter.Forget(sid)
		}
		c.Close()
		cancel()
	}()

	if ctl.opts.PongWait > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			if ctl.opts.PongWait > 0 {
				_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
			}
			ctl.handleSignal(ms, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(ms core.MemberSession, c *WsSignalConn, data []byte) {
	msg, err := core.ParseMessage(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(ms.ID())).Msg("bad message")
		ctl.Orch.Metrics.Rejected("malformed")
		ctl.sendError(c, "", "bad_message")
		return
	}

	switch msg.Type {
	case core.MessageJoin:
		ctl.handleJoin(ms, c, msg)
	case core.MessageLeave:
		ctl.handleLeave(ms, c, msg)
	case core.MessagePing:
		ctl.handlePing(c)
	case core.MessageOffer, core.MessageAnswer, core.MessageCandidate:
		ctl.handleRelay(ms, c, msg, data)
	default:
		log.Warn().Str("module", "signal").Str("type", string(msg.Type)).Msg("unexpected message from client")
		ctl.sendError(c, msg.Room, "unexpected_type")
	}
}

func (ctl *SignalWSController) send(c *WsSignalConn, msg core.Message) {
	b, err := msg.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(msg.Type)).Msg("send dropped")
	}
}
