// Package peertest provides in-memory MediaSource and PeerChannel fakes.
package peertest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Duet/internal/core"
)

var ErrInvalidState = errors.New("invalid signaling state")

type signalingState int

const (
	stable signalingState = iota
	haveLocalOffer
	haveRemoteOffer
)

// Channel emulates the signaling state of a real peer connection: it rejects
// descriptions applied in the wrong state and candidates added before a
// remote description. Handlers fire on their own goroutine.
type Channel struct {
	Name string
	// AutoConnect reports ConnectionConnected after the first completed cycle.
	AutoConnect bool

	mu        sync.Mutex
	state     signalingState
	remoteSet bool
	offers    int
	answers   int
	rollbacks int
	connected bool
	closed    int
	tracks    []core.LocalTrack
	applied   []core.Candidate
	remotes   []core.SessionDescription

	onICE   func(core.Candidate)
	onTrack func(core.RemoteTrack)
	onState func(core.ConnectionState)
}

func NewChannel(name string) *Channel {
	return &Channel{Name: name, AutoConnect: true}
}

func (c *Channel) AddTrack(t core.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return core.ErrSessionClosed
	}
	c.tracks = append(c.tracks, t)
	return nil
}

func (c *Channel) CreateOffer() (core.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stable {
		return core.SessionDescription{}, fmt.Errorf("create offer: %w", ErrInvalidState)
	}
	c.offers++
	c.state = haveLocalOffer
	return core.SessionDescription{Type: "offer", SDP: fmt.Sprintf("%s-offer-%d tracks=%d", c.Name, c.offers, len(c.tracks))}, nil
}

func (c *Channel) CreateAnswer() (core.SessionDescription, error) {
	c.mu.Lock()
	if c.state != haveRemoteOffer {
		c.mu.Unlock()
		return core.SessionDescription{}, fmt.Errorf("create answer: %w", ErrInvalidState)
	}
	c.answers++
	c.state = stable
	sd := core.SessionDescription{Type: "answer", SDP: fmt.Sprintf("%s-answer-%d", c.Name, c.answers)}
	fire := c.markConnected()
	c.mu.Unlock()
	fire()
	return sd, nil
}

func (c *Channel) SetRemoteDescription(sd core.SessionDescription) error {
	c.mu.Lock()
	switch sd.Type {
	case "offer":
		if c.state != stable {
			c.mu.Unlock()
			return fmt.Errorf("set remote offer: %w", ErrInvalidState)
		}
		c.state = haveRemoteOffer
	case "answer":
		if c.state != haveLocalOffer {
			c.mu.Unlock()
			return fmt.Errorf("set remote answer: %w", ErrInvalidState)
		}
		c.state = stable
	default:
		c.mu.Unlock()
		return fmt.Errorf("unsupported sdp type %q", sd.Type)
	}
	c.remoteSet = true
	c.remotes = append(c.remotes, sd)
	fire := func() {}
	if sd.Type == "answer" {
		fire = c.markConnected()
	}
	c.mu.Unlock()
	fire()
	return nil
}

func (c *Channel) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != haveLocalOffer {
		return fmt.Errorf("rollback: %w", ErrInvalidState)
	}
	c.rollbacks++
	c.state = stable
	return nil
}

func (c *Channel) AddICECandidate(cand core.Candidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remoteSet {
		return core.ErrNoRemoteDescription
	}
	c.applied = append(c.applied, cand)
	return nil
}

func (c *Channel) OnICECandidate(fn func(core.Candidate)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Channel) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Channel) OnConnectionStateChange(fn func(core.ConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Channel) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

// markConnected must be called with mu held; the returned func fires outside it.
func (c *Channel) markConnected() func() {
	if !c.AutoConnect || c.connected || c.onState == nil {
		return func() {}
	}
	c.connected = true
	h := c.onState
	return func() { go h(core.ConnectionConnected) }
}

// EmitCandidate simulates a locally gathered candidate.
func (c *Channel) EmitCandidate(cand core.Candidate) {
	c.mu.Lock()
	h := c.onICE
	c.mu.Unlock()
	if h != nil {
		h(cand)
	}
}

// EmitTrack simulates an incoming remote track.
func (c *Channel) EmitTrack(t core.RemoteTrack) {
	c.mu.Lock()
	h := c.onTrack
	c.mu.Unlock()
	if h != nil {
		h(t)
	}
}

// EmitState simulates a connectivity change.
func (c *Channel) EmitState(s core.ConnectionState) {
	c.mu.Lock()
	h := c.onState
	c.mu.Unlock()
	if h != nil {
		h(s)
	}
}

func (c *Channel) Applied() []core.Candidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Candidate(nil), c.applied...)
}

func (c *Channel) Tracks() []core.LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.LocalTrack(nil), c.tracks...)
}

func (c *Channel) Offers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offers
}

func (c *Channel) Answers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers
}

func (c *Channel) Rollbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbacks
}

func (c *Channel) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Stable reports whether the emulated signaling state is stable.
func (c *Channel) Stable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stable
}
