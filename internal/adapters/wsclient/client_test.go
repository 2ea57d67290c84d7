package wsclient_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	router "github.com/dkeye/Duet/internal/adapters/http"
	"github.com/dkeye/Duet/internal/adapters/wsclient"
	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/app/orch"
	"github.com/dkeye/Duet/internal/config"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/peer"
	"github.com/dkeye/Duet/internal/peer/peertest"
)

func startRelay(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		Mode:       "test",
		Secret:     "test-secret",
		ReadLimit:  1 << 16,
		PingPeriod: time.Second,
		PongWait:   2 * time.Second,
		WriteWait:  time.Second,
		SendBuffer: 16,
	}
	metrics := app.NewMetrics()
	o := orch.New(app.NewRegistry(metrics), app.SimplePolicy{}, metrics)
	srv := httptest.NewServer(router.SetupRouter(ctx, cfg, o, metrics))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
}

func next(t *testing.T, c *wsclient.Client) core.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		if !ok {
			t.Fatalf("connection closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message")
	}
	return core.Message{}
}

func mustSend(t *testing.T, c *wsclient.Client, typ core.MessageType, payload any) {
	t.Helper()
	msg, err := core.NewMessage(typ, "abc", payload)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if err := c.Send(msg); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

func TestClient_JoinRelayLeave(t *testing.T) {
	url := startRelay(t)
	ctx := context.Background()

	a, err := wsclient.Dial(ctx, url, nil, nil)
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer a.Close()
	b, err := wsclient.Dial(ctx, url, nil, nil)
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer b.Close()

	mustSend(t, a, core.MessageJoin, nil)
	var ackA core.JoinPayload
	if err := next(t, a).Decode(&ackA); err != nil || !ackA.Ack || len(ackA.Peers) != 0 {
		t.Fatalf("a ack=%+v err=%v, want ack with no peers", ackA, err)
	}

	mustSend(t, b, core.MessageJoin, nil)
	var ackB core.JoinPayload
	if err := next(t, b).Decode(&ackB); err != nil || len(ackB.Peers) != 1 || ackB.Peers[0] != ackA.Session {
		t.Fatalf("b ack=%+v err=%v, want peers=[%s]", ackB, err, ackA.Session)
	}
	var joined core.JoinPayload
	if err := next(t, a).Decode(&joined); err != nil || joined.Session != ackB.Session || joined.Ack {
		t.Fatalf("a saw join %+v err=%v", joined, err)
	}

	mustSend(t, b, core.MessageOffer, core.SessionDescription{Type: "offer", SDP: "v=0"})
	got := next(t, a)
	var sd core.SessionDescription
	if got.Type != core.MessageOffer || got.Decode(&sd) != nil || sd.SDP != "v=0" {
		t.Fatalf("a got %+v", got)
	}

	b.Close()
	var left core.LeavePayload
	msg := next(t, a)
	if msg.Type != core.MessageLeave || msg.Decode(&left) != nil || left.Session != ackB.Session {
		t.Fatalf("a got %+v, want leave of %s", msg, ackB.Session)
	}

	if err := b.Send(core.Message{Type: core.MessagePing}); err != wsclient.ErrClosed {
		t.Fatalf("send after close err=%v, want ErrClosed", err)
	}
}

func TestClient_DialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d := &wsclient.Dialer{URL: "ws://127.0.0.1:1/api/ws/signal"}
	c, err := d.Dial(ctx)
	if err == nil || c != nil {
		t.Fatalf("dial to closed port: c=%v err=%v", c, err)
	}
}

// Two sessions negotiate through the real relay.
func TestClient_SessionsPairThroughRelay(t *testing.T) {
	url := startRelay(t)
	dialer := &wsclient.Dialer{URL: url}

	start := func(name string) (*peer.Session, *peertest.Channel) {
		ch := peertest.NewChannel(name)
		s := peer.NewSession(peer.SessionConfig{Room: "abc"}, peer.Deps{
			Media:      &peertest.Media{},
			NewChannel: func() (core.PeerChannel, error) { return ch, nil },
			Dialer:     dialer,
		}, peer.Callbacks{})
		t.Cleanup(s.Close)
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("%s start: %v", name, err)
		}
		return s, ch
	}

	a, chA := start("a")
	b, chB := start("b")

	deadline := time.Now().Add(3 * time.Second)
	for a.Phase() != peer.PhaseConnected || b.Phase() != peer.PhaseConnected {
		if time.Now().After(deadline) {
			t.Fatalf("phases a=%s b=%s, want connected", a.Phase(), b.Phase())
		}
		time.Sleep(10 * time.Millisecond)
	}
	// Either side may end up the newcomer depending on which join lands first.
	if offers, answers := chA.Offers()+chB.Offers(), chA.Answers()+chB.Answers(); offers != 1 || answers != 1 {
		t.Fatalf("offers=%d answers=%d, want one cycle", offers, answers)
	}

	b.Close()
	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("a not closed after b left")
	}
}
