package rtc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/Duet/internal/core"
)

type fakeReader struct {
	pkts []*rtp.Packet
	err  error
}

func (f *fakeReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(f.pkts) == 0 {
		return nil, nil, f.err
	}
	p := f.pkts[0]
	f.pkts = f.pkts[1:]
	return p, nil, nil
}

func packets(n int) []*rtp.Packet {
	out := make([]*rtp.Packet, n)
	for i := range out {
		out[i] = &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: uint16(i)}, Payload: []byte{1, 2}}
	}
	return out
}

type failWriter struct{ writes int }

func (w *failWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, errors.New("disk full")
}

func TestForward(t *testing.T) {
	var buf bytes.Buffer
	n := forward(context.Background(), &fakeReader{pkts: packets(3), err: io.EOF}, &buf, zerolog.Nop())
	if n != 3 {
		t.Fatalf("n=%d, want 3", n)
	}
	// 12-byte header plus 2 payload bytes each.
	if buf.Len() != 3*14 {
		t.Fatalf("sink bytes=%d, want %d", buf.Len(), 3*14)
	}

	if n := forward(context.Background(), &fakeReader{pkts: packets(2), err: io.EOF}, nil, zerolog.Nop()); n != 2 {
		t.Fatalf("discard n=%d, want 2", n)
	}

	w := &failWriter{}
	if n := forward(context.Background(), &fakeReader{pkts: packets(4), err: io.EOF}, w, zerolog.Nop()); n != 4 {
		t.Fatalf("n=%d, want 4", n)
	}
	if w.writes != 1 {
		t.Fatalf("writes=%d, failed sink must be dropped", w.writes)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if n := forward(ctx, &fakeReader{pkts: packets(5)}, nil, zerolog.Nop()); n != 0 {
		t.Fatalf("cancelled n=%d, want 0", n)
	}
}

func TestConnectionState(t *testing.T) {
	cases := []struct {
		in   webrtc.PeerConnectionState
		want core.ConnectionState
	}{
		{webrtc.PeerConnectionStateNew, core.ConnectionNew},
		{webrtc.PeerConnectionStateConnecting, core.ConnectionConnecting},
		{webrtc.PeerConnectionStateConnected, core.ConnectionConnected},
		{webrtc.PeerConnectionStateDisconnected, core.ConnectionDisconnected},
		{webrtc.PeerConnectionStateFailed, core.ConnectionFailed},
		{webrtc.PeerConnectionStateClosed, core.ConnectionClosed},
	}
	for _, c := range cases {
		if got := connectionState(c.in); got != c.want {
			t.Fatalf("connectionState(%s)=%v, want %v", c.in, got, c.want)
		}
	}
	if trackKind(webrtc.RTPCodecTypeAudio) != core.TrackAudio || trackKind(webrtc.RTPCodecTypeVideo) != core.TrackVideo {
		t.Fatalf("track kind mapping")
	}
}

func TestZerologFactory(t *testing.T) {
	var buf bytes.Buffer
	f := NewZerologFactory(zerolog.New(&buf), zerolog.WarnLevel)
	l := f.NewLogger("ice")
	l.Debug("hidden")
	l.Warnf("candidate %d failed", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug leaked through warn level: %s", out)
	}
	for _, want := range []string{`"module":"pion"`, `"scope":"ice"`, "candidate 3 failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %s", out, want)
		}
	}
}
