package rtc

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
)

var ErrForeignTrack = errors.New("track was not created by this package")

type Config struct {
	// ICEServers are STUN/TURN urls; none means host candidates only.
	ICEServers []string
	// PionLogLevel filters pion's own logging.
	PionLogLevel zerolog.Level
	// Sink, when set, receives the raw RTP of every remote track of that kind.
	Sink func(core.TrackKind) io.Writer
}

// API builds peer connections that share one media engine.
type API struct {
	api  *webrtc.API
	conf webrtc.Configuration
	sink func(core.TrackKind) io.Writer
}

func NewAPI(cfg Config) (*API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}
	s := webrtc.SettingEngine{LoggerFactory: NewZerologFactory(log.Logger, cfg.PionLogLevel)}

	conf := webrtc.Configuration{}
	for _, u := range cfg.ICEServers {
		conf.ICEServers = append(conf.ICEServers, webrtc.ICEServer{URLs: []string{u}})
	}

	return &API{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		conf: conf,
		sink: cfg.Sink,
	}, nil
}

// NewChannel satisfies peer.ChannelFactory.
func (a *API) NewChannel() (core.PeerChannel, error) {
	c, err := a.NewConnection()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (a *API) NewConnection() (*Connection, error) {
	pc, err := a.api.NewPeerConnection(a.conf)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		pc:     pc,
		ctx:    ctx,
		cancel: cancel,
		sink:   a.sink,
		log:    log.With().Str("module", "rtc").Logger(),
	}, nil
}

// Connection is a pion PeerConnection behind core.PeerChannel.
type Connection struct {
	pc     *webrtc.PeerConnection
	ctx    context.Context
	cancel context.CancelFunc
	sink   func(core.TrackKind) io.Writer
	log    zerolog.Logger

	// pion has no rollback, so an offer is only applied locally once its
	// answer arrives.
	mu      sync.Mutex
	pending *webrtc.SessionDescription

	closeOnce sync.Once
}

type pionTrack interface {
	Local() webrtc.TrackLocal
}

func (c *Connection) AddTrack(t core.LocalTrack) error {
	pt, ok := t.(pionTrack)
	if !ok {
		return ErrForeignTrack
	}
	sender, err := c.pc.AddTrack(pt.Local())
	if err != nil {
		return err
	}
	// RTCP must be read for interceptors such as NACK to work.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	c.log.Info().Str("track_id", t.ID()).Str("kind", string(t.Kind())).Msg("local track added")
	return nil
}

func (c *Connection) CreateOffer() (core.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return core.SessionDescription{}, err
	}
	c.mu.Lock()
	c.pending = &offer
	c.mu.Unlock()
	return toCoreSDP(offer), nil
}

func (c *Connection) CreateAnswer() (core.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return core.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return core.SessionDescription{}, err
	}
	return toCoreSDP(answer), nil
}

func (c *Connection) SetRemoteDescription(sd core.SessionDescription) error {
	typ := webrtc.NewSDPType(sd.Type)
	c.mu.Lock()
	offer := c.pending
	c.pending = nil
	c.mu.Unlock()

	if typ == webrtc.SDPTypeAnswer && offer != nil {
		if err := c.pc.SetLocalDescription(*offer); err != nil {
			return err
		}
	}
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: sd.SDP})
}

// Rollback drops an offer that has not been answered yet.
func (c *Connection) Rollback() error {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	return nil
}

// HasPendingOffer reports whether an offer is waiting for its answer.
func (c *Connection) HasPendingOffer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

func (c *Connection) AddICECandidate(cand core.Candidate) error {
	if c.pc.RemoteDescription() == nil {
		return core.ErrNoRemoteDescription
	}
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *Connection) OnICECandidate(fn func(core.Candidate)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		fn(core.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (c *Connection) OnTrack(fn func(core.RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := trackKind(track.Kind())
		c.log.Info().
			Str("kind", string(kind)).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		fn(core.RemoteTrack{StreamID: track.StreamID(), TrackID: track.ID(), Kind: kind})

		var dst io.Writer
		if c.sink != nil {
			dst = c.sink(kind)
		}
		go forward(c.ctx, track, dst, c.log.With().Str("track_id", track.ID()).Logger())
	})
}

func (c *Connection) OnConnectionStateChange(fn func(core.ConnectionState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		fn(connectionState(s))
	})
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if err = c.pc.Close(); err != nil {
			c.log.Error().Err(err).Msg("close error")
			return
		}
		c.log.Info().Msg("closed")
	})
	return err
}

func toCoreSDP(sd webrtc.SessionDescription) core.SessionDescription {
	return core.SessionDescription{Type: sd.Type.String(), SDP: sd.SDP}
}

func trackKind(k webrtc.RTPCodecType) core.TrackKind {
	if k == webrtc.RTPCodecTypeAudio {
		return core.TrackAudio
	}
	return core.TrackVideo
}

func connectionState(s webrtc.PeerConnectionState) core.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return core.ConnectionClosed
	default:
		return core.ConnectionNew
	}
}
