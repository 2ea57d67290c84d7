package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Duet/internal/adapters/rtc"
	"github.com/dkeye/Duet/internal/adapters/wsclient"
	"github.com/dkeye/Duet/internal/admission"
	"github.com/dkeye/Duet/internal/config"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/dkeye/Duet/internal/peer"
	"github.com/dkeye/Duet/internal/quota"
	"github.com/dkeye/Duet/internal/ui"
)

var (
	flagSignalURL  string
	flagQuotaURL   string
	flagQuotaToken string
	flagFeature    string
	flagICE        []string
	flagAudioIn    string
	flagVideoIn    string
	flagAudioOut   string
	flagVideoOut   string
	flagReconnects int
	flagRenewURL   string
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and start a call",
	Long: `Join a room and start a call with whoever else joins it.

Examples:
  duet-peer join standup
  duet-peer join standup --audio-in 127.0.0.1:5004 --video-in 127.0.0.1:5006
  duet-peer join standup --audio-out 127.0.0.1:5014`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room := domain.RoomID(args[0])
		if err := room.Validate(); err != nil {
			return err
		}
		cfg, err := config.LoadPeer(overrides(cmd))
		if err != nil {
			return err
		}
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runJoin(ctx, cfg, room)
	},
}

func init() {
	f := joinCmd.Flags()
	f.StringVar(&flagSignalURL, "signal", "", "relay websocket url")
	f.StringVar(&flagQuotaURL, "quota", "", "quota service base url")
	f.StringVar(&flagQuotaToken, "quota-token", "", "bearer token for the quota service")
	f.StringVar(&flagFeature, "feature", "", "feature key checked against the quota service")
	f.StringSliceVar(&flagICE, "ice", nil, "STUN/TURN server urls")
	f.StringVar(&flagAudioIn, "audio-in", "", "UDP address to read local audio RTP from")
	f.StringVar(&flagVideoIn, "video-in", "", "UDP address to read local video RTP from")
	f.StringVar(&flagAudioOut, "audio-out", "", "UDP address to forward remote audio RTP to")
	f.StringVar(&flagVideoOut, "video-out", "", "UDP address to forward remote video RTP to")
	f.IntVar(&flagReconnects, "reconnects", 0, "relay reconnect attempts after the socket drops")
	f.StringVar(&flagRenewURL, "renew-url", "", "link shown when the plan can be renewed")
}

// overrides maps only the flags the user actually set onto config keys.
func overrides(cmd *cobra.Command) map[string]any {
	keys := map[string]struct {
		key string
		val func() any
	}{
		"signal":      {"signal_url", func() any { return flagSignalURL }},
		"quota":       {"quota_url", func() any { return flagQuotaURL }},
		"quota-token": {"quota_token", func() any { return flagQuotaToken }},
		"feature":     {"feature_key", func() any { return flagFeature }},
		"ice":         {"ice_servers", func() any { return flagICE }},
		"audio-in":    {"audio_rtp_addr", func() any { return flagAudioIn }},
		"video-in":    {"video_rtp_addr", func() any { return flagVideoIn }},
		"audio-out":   {"audio_out_addr", func() any { return flagAudioOut }},
		"video-out":   {"video_out_addr", func() any { return flagVideoOut }},
		"reconnects":  {"reconnects", func() any { return flagReconnects }},
		"log-level":   {"log_level", func() any { return flagLogLevel }},
	}
	out := map[string]any{}
	for name, k := range keys {
		if cmd.Flags().Changed(name) {
			out[k.key] = k.val()
		}
	}
	return out
}

// call holds the session currently open for one admission.
type call struct {
	mu      sync.Mutex
	session *peer.Session
	lastErr *core.Error
}

func (c *call) set(s *peer.Session) {
	c.mu.Lock()
	c.session, c.lastErr = s, nil
	c.mu.Unlock()
}

func (c *call) fail(err *core.Error) {
	c.mu.Lock()
	if err.Kind.Terminal() {
		c.lastErr = err
	}
	c.mu.Unlock()
}

func (c *call) current() (*peer.Session, *core.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.lastErr
}

func runJoin(ctx context.Context, cfg *config.PeerConfig, room domain.RoomID) error {
	out := ui.Printer{W: os.Stdout}
	l := log.With().Str("module", "peer").Str("room", string(room)).Logger()

	qc, err := quota.NewClient(quota.ClientConfig{
		BaseURL: cfg.QuotaURL,
		Token:   cfg.QuotaToken,
		Timeout: cfg.QuotaTimeout,
		Retries: cfg.QuotaRetries,
	})
	if err != nil {
		return err
	}

	sinks, closeSinks, err := openSinks(cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	api, err := rtc.NewAPI(rtc.Config{
		ICEServers:   cfg.ICEServers,
		PionLogLevel: zerolog.WarnLevel,
		Sink:         func(k core.TrackKind) io.Writer { return sinks[k] },
	})
	if err != nil {
		return fmt.Errorf("webrtc api: %w", err)
	}

	deps := peer.Deps{
		Media:      &rtc.RTPSource{AudioAddr: cfg.AudioRTPAddr, VideoAddr: cfg.VideoRTPAddr},
		NewChannel: api.NewChannel,
		Dialer:     &wsclient.Dialer{URL: cfg.SignalURL},
	}

	c := &call{}
	open := func(ctx context.Context) error {
		s := peer.NewSession(peer.SessionConfig{Room: room, NegotiationTimeout: cfg.NegotiationTimeout}, deps, peer.Callbacks{
			OnLocalStream: func(ls core.LocalStream) {
				out.Info(fmt.Sprintf("local stream %s with %d tracks", ls.ID(), len(ls.Tracks())))
			},
			OnRemoteStream: func(rt core.RemoteTrack) {
				out.Success(fmt.Sprintf("%s remote %s stream %s", ui.IconPeer, rt.Kind, rt.StreamID))
			},
			OnStateChange: func(p peer.Phase) { out.Phase(string(room), p.String()) },
			OnError: func(err *core.Error) {
				c.fail(err)
				if err.Kind.Terminal() {
					out.Errorf("%s: %v", err.Kind, err.Err)
				} else {
					out.Warning(err.Error())
				}
			},
		})
		c.set(s)
		return s.Start(ctx)
	}

	out.Title(fmt.Sprintf("Joining %s via %s", room, cfg.SignalURL))
	gate := &admission.Gate{
		Quota:    qc,
		Feature:  cfg.FeatureKey,
		Prompter: ui.Prompter{Printer: out, RenewURL: flagRenewURL},
	}
	adm, err := gate.Start(ctx, open)
	if err != nil {
		if core.KindOf(err) == core.KindPermissionDenied {
			return errors.New("call not permitted")
		}
		return err
	}

	reconnects := cfg.Reconnects
	for {
		s, _ := c.current()
		select {
		case <-ctx.Done():
			s.Close()
			out.Info("left the call")
			return nil
		case <-s.Done():
		}

		_, lastErr := c.current()
		switch {
		case lastErr == nil:
			out.Info("the other side left")
			return nil
		case lastErr.Kind == core.KindSignalingUnavailable && reconnects > 0:
			reconnects--
			l.Warn().Int("left", reconnects).Msg("relay lost, reconnecting")
			if err := adm.Reconnect(ctx); err != nil {
				return err
			}
		default:
			return lastErr
		}
	}
}

// openSinks dials a UDP socket per configured output address.
func openSinks(cfg *config.PeerConfig) (map[core.TrackKind]io.Writer, func(), error) {
	sinks := map[core.TrackKind]io.Writer{}
	var conns []net.Conn
	closeAll := func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}
	for kind, addr := range map[core.TrackKind]string{core.TrackAudio: cfg.AudioOutAddr, core.TrackVideo: cfg.VideoOutAddr} {
		if addr == "" {
			continue
		}
		conn, err := net.Dial("udp", addr)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("%s output %q: %w", kind, addr, err)
		}
		conns = append(conns, conn)
		sinks[kind] = conn
	}
	return sinks, closeAll, nil
}
