package app

import (
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

// room is an in-memory membership set. It has no lock of its own:
// every access goes through Registry.mu so membership and fan-out
// are serialized together.
type room struct {
	room  *domain.Room
	bySID map[core.SessionID]core.MemberSession
	order []core.SessionID
}

func newRoom(id domain.RoomID) *room {
	return &room{
		room:  domain.NewRoom(id),
		bySID: make(map[core.SessionID]core.MemberSession),
	}
}

func (r *room) size() int { return len(r.bySID) }

func (r *room) has(sid core.SessionID) bool {
	_, ok := r.bySID[sid]
	return ok
}

func (r *room) add(ms core.MemberSession) {
	sid := ms.ID()
	if _, ok := r.bySID[sid]; !ok {
		r.order = append(r.order, sid)
	}
	r.bySID[sid] = ms
}

func (r *room) remove(sid core.SessionID) {
	if _, ok := r.bySID[sid]; !ok {
		return
	}
	delete(r.bySID, sid)
	for i, s := range r.order {
		if s == sid {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// peers returns member ids in join order, excluding sid.
func (r *room) peers(except core.SessionID) []core.SessionID {
	out := make([]core.SessionID, 0, len(r.order))
	for _, s := range r.order {
		if s != except {
			out = append(out, s)
		}
	}
	return out
}

// broadcast sends data to every member except from. A recipient that fails
// or panics is reported in Dropped and does not stop the rest.
func (r *room) broadcast(from core.SessionID, data core.Frame) core.PublishResult {
	res := core.PublishResult{}
	for _, sid := range r.order {
		if sid == from {
			continue
		}
		m := r.bySID[sid]
		var err error
		var pc panics.Catcher
		pc.Try(func() { err = m.Signal().TrySend(data) })
		if rec := pc.Recovered(); rec != nil {
			err = rec.AsError()
		}
		if err != nil {
			log.Warn().Err(err).Str("module", "app.room").Str("room", string(r.room.ID)).Str("to", string(sid)).Msg("delivery failed")
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "app.room").Str("room", string(r.room.ID)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
