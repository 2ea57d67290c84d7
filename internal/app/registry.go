package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/rs/zerolog/log"
)

// Membership is what a join produced.
type Membership struct {
	Room  domain.RoomID
	Size  int
	Peers []core.SessionID
	// Left is the room the session was moved out of, if any.
	Left          domain.RoomID
	LeftRemaining int
}

// Registry maps room ids to their members. Rooms are created on first join
// and deleted when the last member leaves. Relay holds the read lock for the
// whole fan-out, so a member removed by Leave is never a delivery target.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[domain.RoomID]*room
	roomOf map[core.SessionID]domain.RoomID

	metrics *Metrics
}

func NewRegistry(m *Metrics) *Registry {
	return &Registry{
		rooms:   make(map[domain.RoomID]*room),
		roomOf:  make(map[core.SessionID]domain.RoomID),
		metrics: m,
	}
}

func (r *Registry) Join(id domain.RoomID, ms core.MemberSession) (Membership, error) {
	if err := id.Validate(); err != nil {
		return Membership{}, err
	}
	sid := ms.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	var res Membership
	if prev, ok := r.roomOf[sid]; ok && prev != id {
		res.Left = prev
		res.LeftRemaining = r.removeLocked(sid)
	}

	rm, ok := r.rooms[id]
	if !ok {
		rm = newRoom(id)
		r.rooms[id] = rm
		r.metrics.roomCreated()
		log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("room created")
	}
	if !rm.has(sid) {
		r.metrics.memberJoined()
	}
	rm.add(ms)
	r.roomOf[sid] = id

	res.Room = id
	res.Size = rm.size()
	res.Peers = rm.peers(sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(id)).Int("size", res.Size).Msg("joined")
	return res, nil
}

// Relay forwards data from a member to the rest of its room. Frames for an
// unknown room, or from a session that is not a member of it, are dropped.
func (r *Registry) Relay(id domain.RoomID, from core.SessionID, data core.Frame) (core.PublishResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[id]
	if !ok {
		log.Debug().Str("module", "app.registry").Str("room", string(id)).Str("from", string(from)).Msg("relay to unknown room dropped")
		return core.PublishResult{}, false
	}
	if !rm.has(from) {
		log.Warn().Str("module", "app.registry").Str("room", string(id)).Str("from", string(from)).Msg("relay from non-member dropped")
		return core.PublishResult{}, false
	}
	return rm.broadcast(from, data), true
}

// Notify delivers a relay-originated frame to every member of a room.
func (r *Registry) Notify(id domain.RoomID, data core.Frame) core.PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[id]
	if !ok {
		return core.PublishResult{}
	}
	return rm.broadcast("", data)
}

// Leave removes sid from its room. ok is false if it was not in one.
func (r *Registry) Leave(sid core.SessionID) (id domain.RoomID, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok = r.roomOf[sid]
	if !ok {
		return "", 0, false
	}
	remaining = r.removeLocked(sid)
	return id, remaining, true
}

func (r *Registry) removeLocked(sid core.SessionID) int {
	id := r.roomOf[sid]
	delete(r.roomOf, sid)
	rm, ok := r.rooms[id]
	if !ok {
		return 0
	}
	rm.remove(sid)
	r.metrics.memberLeft()
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(id)).Int("remaining", rm.size()).Msg("left")
	if rm.size() == 0 {
		delete(r.rooms, id)
		r.metrics.roomDeleted()
		log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("room deleted")
	}
	return rm.size()
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.roomOf[sid]
	return id, ok
}

// Size returns the member count of a room, or false if it does not exist.
func (r *Registry) Size(id domain.RoomID) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	if !ok {
		return 0, false
	}
	return rm.size(), true
}

// Members returns the ids in a room in join order.
func (r *Registry) Members(id domain.RoomID) []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil
	}
	return rm.peers("")
}

func (r *Registry) List() []core.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(r.rooms))
	for id, rm := range r.rooms {
		out = append(out, core.RoomInfo{ID: id, MemberCount: rm.size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
