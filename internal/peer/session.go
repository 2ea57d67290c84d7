package peer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// Phase is the lifecycle of a client session as seen by the caller.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNegotiating
	PhaseConnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	DefaultNegotiationTimeout = 30 * time.Second
	eventQueue                = 128
)

// Dialer opens a relay connection.
type Dialer interface {
	Dial(ctx context.Context) (core.SignalClient, error)
}

// ChannelFactory builds the peer channel for one session.
type ChannelFactory func() (core.PeerChannel, error)

type SessionConfig struct {
	Room               domain.RoomID
	NegotiationTimeout time.Duration
	// Schedule overrides the negotiation timer; nil uses time.AfterFunc.
	Schedule ScheduleFunc
}

type Deps struct {
	Media      core.MediaSource
	NewChannel ChannelFactory
	Dialer     Dialer
}

// Callbacks are invoked from the session's own goroutines, never
// concurrently with each other for the same session once Start returns.
type Callbacks struct {
	OnLocalStream  func(core.LocalStream)
	OnRemoteStream func(core.RemoteTrack)
	OnStateChange  func(Phase)
	OnError        func(*core.Error)
}

type (
	remoteTrackEvent struct{ track core.RemoteTrack }
	addTrackEvent    struct{ track core.LocalTrack }
	relayErrorEvent  struct{ err error }
)

func (remoteTrackEvent) event() {}
func (addTrackEvent) event()    {}
func (relayErrorEvent) event()  {}

// Session is one client endpoint: local media, a peer channel and a relay
// connection, driven by a single event loop around a Coordinator.
type Session struct {
	cfg  SessionConfig
	deps Deps
	cb   Callbacks
	log  zerolog.Logger

	started   atomic.Bool
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	mu            sync.Mutex
	phase         Phase
	cancelAcquire context.CancelFunc
	stream        core.LocalStream
	ch            core.PeerChannel
	conn          core.SignalClient

	// loop-owned
	coord   *Coordinator
	remotes map[string]struct{}
}

func NewSession(cfg SessionConfig, deps Deps, cb Callbacks) *Session {
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}
	return &Session{
		cfg:     cfg,
		deps:    deps,
		cb:      cb,
		log:     log.With().Str("module", "peer.session").Str("room", string(cfg.Room)).Logger(),
		events:  make(chan Event, eventQueue),
		done:    make(chan struct{}),
		remotes: make(map[string]struct{}),
	}
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

type acquired struct {
	stream core.LocalStream
	err    error
}

// Start acquires media, joins the room and starts negotiating. Nothing is
// dialed unless media acquisition succeeds.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return core.ErrAlreadyStarted
	}

	acqCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		cancel()
		return core.NewError(core.KindMediaAcquisition, "acquire media", core.ErrSessionClosed)
	}
	s.cancelAcquire = cancel
	s.mu.Unlock()

	res := make(chan acquired, 1)
	go func() {
		stream, err := s.deps.Media.Acquire(acqCtx)
		res <- acquired{stream: stream, err: err}
	}()

	var got acquired
	select {
	case got = <-res:
	case <-s.done:
		go discardLate(res)
		return core.NewError(core.KindMediaAcquisition, "acquire media", core.ErrSessionClosed)
	case <-ctx.Done():
		go discardLate(res)
		return s.fail(core.NewError(core.KindMediaAcquisition, "acquire media", ctx.Err()))
	}
	if got.err != nil {
		return s.fail(core.NewError(core.KindMediaAcquisition, "acquire media", got.err))
	}

	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		got.stream.Stop()
		return core.NewError(core.KindMediaAcquisition, "acquire media", core.ErrSessionClosed)
	}
	s.stream = got.stream
	s.mu.Unlock()
	s.log.Info().Str("stream", got.stream.ID()).Int("tracks", len(got.stream.Tracks())).Msg("local media acquired")

	ch, err := s.deps.NewChannel()
	if err != nil {
		return s.fail(core.NewError(core.KindNegotiation, "create peer channel", err))
	}
	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		_ = ch.Close()
		return core.NewError(core.KindNegotiation, "create peer channel", core.ErrSessionClosed)
	}
	s.ch = ch
	s.mu.Unlock()

	for _, t := range got.stream.Tracks() {
		if err := ch.AddTrack(t); err != nil {
			return s.fail(core.NewError(core.KindNegotiation, "add track", err))
		}
	}
	if s.cb.OnLocalStream != nil {
		s.cb.OnLocalStream(got.stream)
	}

	ch.OnICECandidate(func(c core.Candidate) { s.post(LocalCandidate{Candidate: c}) })
	ch.OnTrack(func(t core.RemoteTrack) { s.post(remoteTrackEvent{track: t}) })
	ch.OnConnectionStateChange(func(st core.ConnectionState) { s.post(ConnectivityChanged{State: st}) })

	conn, err := s.deps.Dialer.Dial(ctx)
	if err != nil {
		return s.fail(core.NewError(core.KindSignalingUnavailable, "dial relay", err))
	}
	s.mu.Lock()
	if s.phase == PhaseClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return core.NewError(core.KindSignalingUnavailable, "dial relay", core.ErrSessionClosed)
	}
	s.conn = conn
	s.mu.Unlock()

	s.coord = NewCoordinator(ch, conn, CoordinatorConfig{
		Room:     s.cfg.Room,
		Timeout:  s.cfg.NegotiationTimeout,
		Schedule: s.cfg.Schedule,
		Post:     s.post,
	}, Hooks{
		OnState:        s.onCoordinatorState,
		OnError:        s.report,
		OnConnectivity: s.onConnectivity,
	})

	join, err := core.NewMessage(core.MessageJoin, s.cfg.Room, nil)
	if err == nil {
		err = conn.Send(join)
	}
	if err != nil {
		return s.fail(core.NewError(core.KindSignalingUnavailable, "send join", err))
	}

	s.setPhase(PhaseNegotiating)
	go s.read(conn)
	go s.loop()
	return nil
}

// AddTrack attaches a track to a running session. Once a cycle has run it
// triggers renegotiation.
func (s *Session) AddTrack(t core.LocalTrack) error {
	if !s.started.Load() {
		return core.ErrNotStarted
	}
	select {
	case <-s.done:
		return core.ErrSessionClosed
	default:
	}
	s.post(addTrackEvent{track: t})
	return nil
}

// Close releases everything the session holds. Safe to call more than once
// and from any goroutine, including callbacks.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.phase = PhaseClosed
		cancel, stream, ch, conn := s.cancelAcquire, s.stream, s.ch, s.conn
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if stream != nil {
			stream.Stop()
		}
		if ch != nil {
			if err := ch.Close(); err != nil {
				s.log.Debug().Err(err).Msg("close peer channel")
			}
		}
		if conn != nil {
			if leave, err := core.NewMessage(core.MessageLeave, s.cfg.Room, nil); err == nil {
				if err := conn.Send(leave); err != nil {
					s.log.Debug().Err(err).Msg("leave not delivered")
				}
			}
			_ = conn.Close()
		}
		s.log.Info().Msg("session closed")
		if s.cb.OnStateChange != nil {
			s.cb.OnStateChange(PhaseClosed)
		}
	})
}

func (s *Session) loop() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev Event) {
	switch ev := ev.(type) {
	case remoteTrackEvent:
		if _, ok := s.remotes[ev.track.StreamID]; ok {
			return
		}
		s.remotes[ev.track.StreamID] = struct{}{}
		s.log.Info().Str("stream", ev.track.StreamID).Str("kind", string(ev.track.Kind)).Msg("remote stream attached")
		if s.cb.OnRemoteStream != nil {
			s.cb.OnRemoteStream(ev.track)
		}
	case addTrackEvent:
		if err := s.ch.AddTrack(ev.track); err != nil {
			s.report(core.NewError(core.KindNegotiation, "add track", err))
			return
		}
		if s.coord.State() != StateIdle {
			s.coord.Dispatch(Renegotiate{})
		}
	case relayErrorEvent:
		s.report(core.NewError(core.KindNegotiation, "relay message", ev.err))
	default:
		s.coord.Dispatch(ev)
	}
}

func (s *Session) read(conn core.SignalClient) {
	for msg := range conn.Messages() {
		ev, err := EventFromMessage(msg)
		switch {
		case err != nil:
			s.post(relayErrorEvent{err: err})
		case ev != nil:
			s.post(ev)
		}
	}
	s.post(Shutdown{Err: core.NewError(core.KindSignalingUnavailable, "read relay", core.ErrSignalingClosed)})
}

func (s *Session) post(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) onCoordinatorState(st State) {
	if st == StateClosed {
		s.Close()
	}
}

func (s *Session) onConnectivity(st core.ConnectionState) {
	if st == core.ConnectionConnected {
		s.setPhase(PhaseConnected)
	}
}

func (s *Session) report(err *core.Error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

// fail reports a start-up error and closes the session.
func (s *Session) fail(err *core.Error) error {
	s.log.Error().Err(err).Msg("session start failed")
	if !errors.Is(err, core.ErrSessionClosed) {
		s.report(err)
	}
	s.Close()
	return err
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	if s.phase == p || s.phase == PhaseClosed {
		s.mu.Unlock()
		return
	}
	s.phase = p
	s.mu.Unlock()
	s.log.Debug().Str("phase", p.String()).Msg("phase")
	if s.cb.OnStateChange != nil {
		s.cb.OnStateChange(p)
	}
}

// discardLate stops a stream that resolved after the session stopped waiting.
func discardLate(res <-chan acquired) {
	if got := <-res; got.stream != nil {
		got.stream.Stop()
	}
}
