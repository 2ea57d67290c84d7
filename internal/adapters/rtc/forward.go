package rtc

import (
	"context"
	"io"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// rtpReader is the part of *webrtc.TrackRemote forward needs.
type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// forward reads RTP from a remote track until ctx is done or the track ends.
// Packets are re-marshalled into dst when set, and discarded otherwise so the
// receive buffers keep draining.
func forward(ctx context.Context, src rtpReader, dst io.Writer, logger zerolog.Logger) int {
	n := 0
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Int("packets", n).Msg("forward stopped")
			return n
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			if err != io.EOF {
				logger.Debug().Err(err).Msg("remote track read ended")
			}
			return n
		}
		n++
		if dst == nil {
			continue
		}
		raw, err := pkt.Marshal()
		if err != nil {
			logger.Warn().Err(err).Msg("marshal RTP")
			continue
		}
		if _, err := dst.Write(raw); err != nil {
			logger.Warn().Err(err).Msg("sink write failed, discarding from now on")
			dst = nil
		}
	}
}
