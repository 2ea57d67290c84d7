package peer

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

type State int

const (
	StateIdle State = iota
	StateOfferSent
	StateOfferReceived
	StateStable
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOfferSent:
		return "offer-sent"
	case StateOfferReceived:
		return "offer-received"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is anything the coordinator reacts to.
type Event interface{ event() }

type (
	// Renegotiate asks for a new offer/answer cycle.
	Renegotiate struct{}
	// Joined is the relay's ack for our own join.
	Joined struct {
		Self  core.SessionID
		Peers []core.SessionID
	}
	PeerJoined struct{ ID core.SessionID }
	PeerLeft   struct{ ID core.SessionID }

	RemoteOffer     struct{ Desc core.SessionDescription }
	RemoteAnswer    struct{ Desc core.SessionDescription }
	RemoteCandidate struct{ Candidate core.Candidate }
	LocalCandidate  struct{ Candidate core.Candidate }

	ConnectivityChanged struct{ State core.ConnectionState }
	NegotiationTimeout  struct{ Cycle uint64 }
	// Shutdown closes the coordinator. Err, when set, is reported first.
	Shutdown struct{ Err *core.Error }
)

func (Renegotiate) event()         {}
func (Joined) event()              {}
func (PeerJoined) event()          {}
func (PeerLeft) event()            {}
func (RemoteOffer) event()         {}
func (RemoteAnswer) event()        {}
func (RemoteCandidate) event()     {}
func (LocalCandidate) event()      {}
func (ConnectivityChanged) event() {}
func (NegotiationTimeout) event()  {}
func (Shutdown) event()            {}

// Signaler delivers messages to the relay.
type Signaler interface {
	Send(core.Message) error
}

// ScheduleFunc runs fn after d unless the returned cancel is called first.
type ScheduleFunc func(d time.Duration, fn func()) (cancel func())

func afterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

type CoordinatorConfig struct {
	Room    domain.RoomID
	Timeout time.Duration
	// Schedule defaults to time.AfterFunc.
	Schedule ScheduleFunc
	// Post feeds timer events back into the owner's event stream.
	Post func(Event)
}

type Hooks struct {
	OnState        func(State)
	OnError        func(*core.Error)
	OnConnectivity func(core.ConnectionState)
}

// Coordinator is the negotiation state machine of one session. Every input
// goes through Dispatch, which must be called from a single goroutine; the
// state field alone decides whether an offer may be created.
type Coordinator struct {
	ch    core.PeerChannel
	sig   Signaler
	cfg   CoordinatorConfig
	hooks Hooks
	log   zerolog.Logger

	state      State
	self       core.SessionID
	remote     core.SessionID
	pending    bool
	remoteSet  bool
	everStable bool
	cycle      uint64
	stopTimer  func()
	buf        CandidateBuffer
}

func NewCoordinator(ch core.PeerChannel, sig Signaler, cfg CoordinatorConfig, hooks Hooks) *Coordinator {
	if cfg.Schedule == nil {
		cfg.Schedule = afterFunc
	}
	return &Coordinator{
		ch:    ch,
		sig:   sig,
		cfg:   cfg,
		hooks: hooks,
		log:   log.With().Str("module", "peer.coordinator").Str("room", string(cfg.Room)).Logger(),
	}
}

func (c *Coordinator) State() State           { return c.state }
func (c *Coordinator) Self() core.SessionID   { return c.self }
func (c *Coordinator) Remote() core.SessionID { return c.remote }
func (c *Coordinator) Buffered() int          { return c.buf.Len() }

// Polite reports whether this side yields on glare: the lexicographically
// lower session id rolls back its own offer.
func (c *Coordinator) Polite() bool {
	return c.self != "" && c.remote != "" && c.self < c.remote
}

func (c *Coordinator) Dispatch(ev Event) {
	if c.state == StateClosed {
		c.log.Debug().Str("event", eventName(ev)).Msg("closed, event dropped")
		return
	}
	switch ev := ev.(type) {
	case Renegotiate:
		c.renegotiate()
	case Joined:
		c.onJoined(ev)
	case PeerJoined:
		c.onPeerJoined(ev.ID)
	case PeerLeft:
		if ev.ID == c.remote {
			c.log.Info().Str("remote", string(ev.ID)).Msg("remote peer left")
			c.close(nil)
		}
	case RemoteOffer:
		c.onOffer(ev.Desc)
	case RemoteAnswer:
		c.onAnswer(ev.Desc)
	case RemoteCandidate:
		c.onRemoteCandidate(ev.Candidate)
	case LocalCandidate:
		if err := c.send(core.MessageCandidate, ev.Candidate); err != nil {
			c.close(core.NewError(core.KindSignalingUnavailable, "send candidate", err))
		}
	case ConnectivityChanged:
		c.onConnectivity(ev.State)
	case NegotiationTimeout:
		if c.state == StateOfferSent && ev.Cycle == c.cycle {
			c.log.Warn().Uint64("cycle", ev.Cycle).Dur("timeout", c.cfg.Timeout).Msg("no answer, giving up")
			c.close(core.NewError(core.KindNegotiationTimeout, "await answer", core.ErrNegotiationTimeout))
		}
	case Shutdown:
		c.close(ev.Err)
	}
}

func (c *Coordinator) onJoined(ev Joined) {
	c.self = ev.Self
	c.log = c.log.With().Str("sid", string(ev.Self)).Logger()
	if len(ev.Peers) == 0 {
		return
	}
	if len(ev.Peers) > 1 {
		c.log.Warn().Int("peers", len(ev.Peers)).Msg("room has more than one peer, pairing with the first")
	}
	c.remote = ev.Peers[0]
	c.log.Info().Str("remote", string(c.remote)).Bool("polite", c.Polite()).Msg("paired, starting negotiation")
	// The newcomer makes the first offer.
	c.renegotiate()
}

func (c *Coordinator) onPeerJoined(id core.SessionID) {
	if c.remote != "" {
		if id != c.remote {
			c.log.Warn().Str("peer", string(id)).Msg("ignoring extra peer")
		}
		return
	}
	c.remote = id
	c.log.Info().Str("remote", string(id)).Bool("polite", c.Polite()).Msg("paired")
	if c.pending {
		c.pending = false
		c.renegotiate()
	}
}

func (c *Coordinator) renegotiate() {
	switch {
	case c.remote == "":
		c.pending = true
	case c.state == StateOfferSent || c.state == StateOfferReceived:
		c.log.Debug().Str("state", c.state.String()).Msg("cycle in flight, renegotiation deferred")
		c.pending = true
	default:
		c.makeOffer()
	}
}

func (c *Coordinator) makeOffer() {
	offer, err := c.ch.CreateOffer()
	if err != nil {
		c.reportNegotiation("create offer", err)
		return
	}
	c.cycle++
	c.setState(StateOfferSent)
	if err := c.send(core.MessageOffer, offer); err != nil {
		c.close(core.NewError(core.KindSignalingUnavailable, "send offer", err))
		return
	}
	cycle := c.cycle
	if c.cfg.Timeout > 0 && c.cfg.Post != nil {
		c.stopTimer = c.cfg.Schedule(c.cfg.Timeout, func() {
			c.cfg.Post(NegotiationTimeout{Cycle: cycle})
		})
	}
	c.log.Debug().Uint64("cycle", cycle).Msg("offer sent")
}

func (c *Coordinator) onOffer(desc core.SessionDescription) {
	if c.state == StateOfferSent {
		if !c.Polite() {
			c.log.Info().Msg("glare: impolite side ignores colliding offer")
			return
		}
		c.log.Info().Msg("glare: polite side rolls back its offer")
		if err := c.ch.Rollback(); err != nil {
			c.reportNegotiation("rollback", err)
			return
		}
		c.cancelTimer()
		c.pending = true
	}

	c.setState(StateOfferReceived)
	if err := c.ch.SetRemoteDescription(desc); err != nil {
		c.reportNegotiation("apply remote offer", err)
		c.setState(c.restState())
		return
	}
	c.remoteSet = true
	c.flush()

	answer, err := c.ch.CreateAnswer()
	if err != nil {
		c.reportNegotiation("create answer", err)
		if rbErr := c.ch.Rollback(); rbErr != nil {
			c.log.Warn().Err(rbErr).Msg("rollback after failed answer")
		}
		c.setState(c.restState())
		return
	}
	if err := c.send(core.MessageAnswer, answer); err != nil {
		c.close(core.NewError(core.KindSignalingUnavailable, "send answer", err))
		return
	}
	c.reachStable()
}

func (c *Coordinator) onAnswer(desc core.SessionDescription) {
	if c.state != StateOfferSent {
		c.log.Warn().Str("state", c.state.String()).Msg("answer without pending offer dropped")
		c.reportNegotiation("apply answer", core.ErrUnexpectedAnswer)
		return
	}
	if err := c.ch.SetRemoteDescription(desc); err != nil {
		c.reportNegotiation("apply answer", err)
		return
	}
	c.remoteSet = true
	c.cancelTimer()
	c.flush()
	c.reachStable()
}

func (c *Coordinator) onRemoteCandidate(cand core.Candidate) {
	if !c.remoteSet {
		c.buf.Push(cand)
		c.log.Debug().Int("buffered", c.buf.Len()).Msg("candidate buffered")
		return
	}
	if err := c.ch.AddICECandidate(cand); err != nil {
		c.reportNegotiation("add candidate", err)
	}
}

func (c *Coordinator) onConnectivity(s core.ConnectionState) {
	c.log.Info().Str("connection_state", s.String()).Msg("connectivity")
	switch s {
	case core.ConnectionFailed:
		c.close(core.NewError(core.KindICEFailure, "connectivity", core.ErrConnectivityFailed))
		return
	case core.ConnectionClosed:
		c.close(nil)
		return
	}
	if c.hooks.OnConnectivity != nil {
		c.hooks.OnConnectivity(s)
	}
}

func (c *Coordinator) flush() {
	if c.buf.Len() == 0 {
		return
	}
	n := c.buf.Flush(c.ch.AddICECandidate, func(_ core.Candidate, err error) {
		c.reportNegotiation("add buffered candidate", err)
	})
	c.log.Debug().Int("flushed", n).Msg("candidate buffer flushed")
}

func (c *Coordinator) reachStable() {
	c.everStable = true
	c.setState(StateStable)
	if c.pending && c.state == StateStable {
		c.pending = false
		c.renegotiate()
	}
}

// restState is where a failed cycle falls back to.
func (c *Coordinator) restState() State {
	if c.everStable {
		return StateStable
	}
	return StateIdle
}

func (c *Coordinator) cancelTimer() {
	if c.stopTimer != nil {
		c.stopTimer()
		c.stopTimer = nil
	}
}

func (c *Coordinator) close(err *core.Error) {
	if c.state == StateClosed {
		return
	}
	c.cancelTimer()
	if n := c.buf.Discard(); n > 0 {
		c.log.Debug().Int("discarded", n).Msg("candidate buffer discarded")
	}
	if err != nil {
		c.log.Error().Err(err).Msg("session failed")
		if c.hooks.OnError != nil {
			c.hooks.OnError(err)
		}
	}
	c.setState(StateClosed)
}

func (c *Coordinator) setState(s State) {
	if c.state == s {
		return
	}
	c.log.Debug().Str("from", c.state.String()).Str("to", s.String()).Msg("state")
	c.state = s
	if c.hooks.OnState != nil {
		c.hooks.OnState(s)
	}
}

func (c *Coordinator) reportNegotiation(op string, err error) {
	c.log.Warn().Err(err).Str("op", op).Msg("negotiation error")
	if c.hooks.OnError != nil {
		c.hooks.OnError(core.NewError(core.KindNegotiation, op, err))
	}
}

func (c *Coordinator) send(t core.MessageType, payload any) error {
	msg, err := core.NewMessage(t, c.cfg.Room, payload)
	if err != nil {
		return err
	}
	return c.sig.Send(msg)
}

func eventName(ev Event) string {
	switch ev.(type) {
	case Renegotiate:
		return "renegotiate"
	case Joined:
		return "joined"
	case PeerJoined:
		return "peer-joined"
	case PeerLeft:
		return "peer-left"
	case RemoteOffer:
		return "remote-offer"
	case RemoteAnswer:
		return "remote-answer"
	case RemoteCandidate:
		return "remote-candidate"
	case LocalCandidate:
		return "local-candidate"
	case ConnectivityChanged:
		return "connectivity"
	case NegotiationTimeout:
		return "timeout"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
