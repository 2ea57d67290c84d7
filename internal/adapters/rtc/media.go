package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
)

const maxRTPPacket = 1500

// Track is a local track fed with ready-made RTP.
type Track struct {
	kind    core.TrackKind
	local   *webrtc.TrackLocalStaticRTP
	packets atomic.Uint64
}

func NewTrack(kind core.TrackKind, streamID string) (*Track, error) {
	c := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == core.TrackVideo {
		c = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	local, err := webrtc.NewTrackLocalStaticRTP(c, string(kind), streamID)
	if err != nil {
		return nil, err
	}
	return &Track{kind: kind, local: local}, nil
}

func (t *Track) ID() string               { return t.local.ID() }
func (t *Track) Kind() core.TrackKind     { return t.kind }
func (t *Track) Local() webrtc.TrackLocal { return t.local }

// Packets counts RTP packets written to the track.
func (t *Track) Packets() uint64 { return t.packets.Load() }

func (t *Track) WriteRTP(pkt *rtp.Packet) error {
	if err := t.local.WriteRTP(pkt); err != nil {
		return err
	}
	t.packets.Add(1)
	return nil
}

// RTPSource acquires media by listening for RTP on local UDP ports, e.g.
// ffmpeg -re -i in.webm -c:a libopus -f rtp rtp://127.0.0.1:5004.
type RTPSource struct {
	AudioAddr string
	VideoAddr string
}

func (s *RTPSource) Acquire(ctx context.Context) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := "duet-" + uuid.NewString()
	st := &Stream{id: id, log: log.With().Str("module", "rtc.ingest").Str("stream", id).Logger()}

	for _, in := range []struct {
		kind core.TrackKind
		addr string
	}{{core.TrackAudio, s.AudioAddr}, {core.TrackVideo, s.VideoAddr}} {
		if err := st.open(ctx, in.kind, in.addr); err != nil {
			st.Stop()
			return nil, err
		}
	}
	return st, nil
}

// Stream is one acquisition: a track and an ingest socket per kind.
type Stream struct {
	id   string
	log  zerolog.Logger
	once sync.Once
	wg   sync.WaitGroup

	tracks []core.LocalTrack
	conns  []net.PacketConn
}

func (s *Stream) open(ctx context.Context, kind core.TrackKind, addr string) error {
	track, err := NewTrack(kind, s.id)
	if err != nil {
		return err
	}
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("%s ingest on %q: %w", kind, addr, err)
	}
	s.tracks = append(s.tracks, track)
	s.conns = append(s.conns, conn)
	s.log.Info().Str("kind", string(kind)).Str("addr", conn.LocalAddr().String()).Msg("listening for RTP")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ingest(conn, track, s.log.With().Str("kind", string(kind)).Logger())
	}()
	return nil
}

func (s *Stream) ID() string                { return s.id }
func (s *Stream) Tracks() []core.LocalTrack { return s.tracks }

// Addr is the bound ingest address for kind, or nil.
func (s *Stream) Addr(kind core.TrackKind) net.Addr {
	for i, t := range s.tracks {
		if t.Kind() == kind {
			return s.conns[i].LocalAddr()
		}
	}
	return nil
}

func (s *Stream) Stop() {
	s.once.Do(func() {
		for _, c := range s.conns {
			_ = c.Close()
		}
		s.wg.Wait()
		s.log.Info().Msg("ingest stopped")
	})
}

// ingest reads datagrams until the socket is closed. Anything that is not a
// valid RTP packet is dropped.
func ingest(conn net.PacketConn, track *Track, logger zerolog.Logger) {
	buf := make([]byte, maxRTPPacket)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Warn().Err(err).Msg("ingest read failed")
			}
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			logger.Debug().Err(err).Int("bytes", n).Msg("non-RTP datagram dropped")
			continue
		}
		if err := track.WriteRTP(pkt); err != nil {
			logger.Debug().Err(err).Msg("track write failed")
		}
	}
}
