package peertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

var ErrRelayClosed = errors.New("relay connection closed")

// Relay is an in-memory relay with the same join/leave/fan-out rules as the
// server. It doubles as the Dialer handed to sessions under test.
type Relay struct {
	// DialErr fails every Dial.
	DialErr error

	mu       sync.Mutex
	seq      int
	dials    int
	received map[core.MessageType]int
	rooms    map[domain.RoomID][]*relayConn
	conns    []*relayConn
}

func NewRelay() *Relay {
	return &Relay{
		received: make(map[core.MessageType]int),
		rooms:    make(map[domain.RoomID][]*relayConn),
	}
}

type relayConn struct {
	r      *Relay
	sid    core.SessionID
	room   domain.RoomID
	in     chan core.Message
	closed bool
}

func (r *Relay) Dial(ctx context.Context) (core.SignalClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dials++
	if r.DialErr != nil {
		return nil, r.DialErr
	}
	r.seq++
	c := &relayConn{r: r, sid: core.SessionID(fmt.Sprintf("s%02d", r.seq)), in: make(chan core.Message, 64)}
	r.conns = append(r.conns, c)
	return c, nil
}

// Dials counts Dial calls, failed ones included.
func (r *Relay) Dials() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

// Received counts client messages of type t.
func (r *Relay) Received(t core.MessageType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.received[t]
}

// Members returns how many sessions are in room.
func (r *Relay) Members(room domain.RoomID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[room])
}

// DropAll cuts every connection at once, as a relay crash would. No leave
// notifications are sent.
func (r *Relay) DropAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.conns {
		if !c.closed {
			c.closed = true
			c.room = ""
			close(c.in)
		}
	}
	r.rooms = make(map[domain.RoomID][]*relayConn)
}

func (c *relayConn) Send(msg core.Message) error {
	r := c.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.closed {
		return ErrRelayClosed
	}
	r.received[msg.Type]++

	switch msg.Type {
	case core.MessageJoin:
		r.leaveLocked(c)
		peers := make([]core.SessionID, 0, len(r.rooms[msg.Room]))
		for _, m := range r.rooms[msg.Room] {
			peers = append(peers, m.sid)
		}
		r.rooms[msg.Room] = append(r.rooms[msg.Room], c)
		c.room = msg.Room
		r.deliver(c, core.MessageJoin, msg.Room, core.JoinPayload{Session: c.sid, Peers: peers, Ack: true})
		r.fanout(c, core.MessageJoin, core.JoinPayload{Session: c.sid})
	case core.MessageLeave:
		r.leaveLocked(c)
	case core.MessageOffer, core.MessageAnswer, core.MessageCandidate:
		if c.room == "" || c.room != msg.Room {
			return nil
		}
		for _, m := range r.rooms[c.room] {
			if m != c {
				m.push(msg)
			}
		}
	case core.MessagePing:
		r.deliver(c, core.MessagePong, "", nil)
	}
	return nil
}

func (c *relayConn) Messages() <-chan core.Message { return c.in }

func (c *relayConn) Close() error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.closeLocked(c)
	return nil
}

func (c *relayConn) push(msg core.Message) {
	if c.closed {
		return
	}
	select {
	case c.in <- msg:
	default:
	}
}

func (r *Relay) deliver(to *relayConn, t core.MessageType, room domain.RoomID, payload any) {
	msg, err := core.NewMessage(t, room, payload)
	if err != nil {
		return
	}
	to.push(msg)
}

func (r *Relay) fanout(from *relayConn, t core.MessageType, payload any) {
	for _, m := range r.rooms[from.room] {
		if m != from {
			r.deliver(m, t, from.room, payload)
		}
	}
}

func (r *Relay) leaveLocked(c *relayConn) {
	if c.room == "" {
		return
	}
	members := r.rooms[c.room]
	for i, m := range members {
		if m == c {
			members = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(members) == 0 {
		delete(r.rooms, c.room)
	} else {
		r.rooms[c.room] = members
		r.fanout(c, core.MessageLeave, core.LeavePayload{Session: c.sid})
	}
	c.room = ""
}

func (r *Relay) closeLocked(c *relayConn) {
	if c.closed {
		return
	}
	r.leaveLocked(c)
	c.closed = true
	close(c.in)
}
