package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	router "github.com/dkeye/Duet/internal/adapters/http"
	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/app/orch"
	"github.com/dkeye/Duet/internal/config"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:             "test",
		Secret:           "test-secret",
		ReadLimit:        1 << 16,
		PingPeriod:       time.Second,
		PongWait:         2 * time.Second,
		WriteWait:        time.Second,
		SendBuffer:       16,
		JoinRateLimit:    3,
		JoinRateInterval: time.Minute,
	}
}

func startServer(t *testing.T) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	metrics := app.NewMetrics()
	o := orch.New(app.NewRegistry(metrics), app.SimplePolicy{}, metrics)
	srv := httptest.NewServer(router.SetupRouter(ctx, testConfig(), o, metrics))
	t.Cleanup(srv.Close)
	return srv, o
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/signal"
	c, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { c.Close() })
	return c
}

func write(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, c *websocket.Conn) (core.Message, string) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := core.ParseMessage(data)
	if err != nil {
		t.Fatalf("parse %s: %v", data, err)
	}
	return msg, string(data)
}

func joinRoom(t *testing.T, c *websocket.Conn, room string) core.JoinPayload {
	t.Helper()
	write(t, c, `{"type":"join","room":"`+room+`"}`)
	msg, _ := read(t, c)
	var p core.JoinPayload
	if msg.Type != core.MessageJoin || msg.Decode(&p) != nil || !p.Ack {
		t.Fatalf("got %+v, want join ack", msg)
	}
	return p
}

func waitSize(t *testing.T, o *orch.Orchestrator, room string, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		size, ok := o.Registry.Size(domain.RoomID(room))
		if (!ok && want == 0) || (ok && size == want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("room %s never reached size %d", room, want)
}

func TestSignal_RelayBetweenTwoEndpoints(t *testing.T) {
	srv, o := startServer(t)
	a := dial(t, srv)
	b := dial(t, srv)

	pa := joinRoom(t, a, "abc")
	pb := joinRoom(t, b, "abc")
	if len(pb.Peers) != 1 || pb.Peers[0] != pa.Session {
		t.Fatalf("b peers=%v, want [%s]", pb.Peers, pa.Session)
	}
	notice, _ := read(t, a)
	var np core.JoinPayload
	if notice.Type != core.MessageJoin || notice.Decode(&np) != nil || np.Session != pb.Session {
		t.Fatalf("a got %+v, want join notice for b", notice)
	}

	offer := `{"type":"offer","room":"abc","payload":{"type":"offer","sdp":"v=0 a"}}`
	write(t, a, offer)
	_, raw := read(t, b)
	if raw != offer {
		t.Fatalf("b got %s, want the offer byte-for-byte", raw)
	}

	answer := `{"type":"answer","room":"abc","payload":{"type":"answer","sdp":"v=0 b"}}`
	write(t, b, answer)
	if _, raw := read(t, a); raw != answer {
		t.Fatalf("a got %s, want the answer byte-for-byte", raw)
	}

	a.Close()
	leave, _ := read(t, b)
	var lp core.LeavePayload
	if leave.Type != core.MessageLeave || leave.Decode(&lp) != nil || lp.Session != pa.Session {
		t.Fatalf("b got %+v, want leave of a", leave)
	}
	waitSize(t, o, "abc", 1)

	write(t, b, `{"type":"leave","room":"abc"}`)
	waitSize(t, o, "abc", 0)
}

func TestSignal_MalformedMessageKeepsSocketOpen(t *testing.T) {
	srv, _ := startServer(t)
	a := dial(t, srv)

	write(t, a, `{"type":"offer","room":"abc"`)
	msg, _ := read(t, a)
	if msg.Type != core.MessageError {
		t.Fatalf("got %s, want error", msg.Type)
	}

	write(t, a, `{"type":"ping"}`)
	if msg, _ := read(t, a); msg.Type != core.MessagePong {
		t.Fatalf("got %s, want pong", msg.Type)
	}
}

func TestSignal_RelayBeforeJoinIsRejected(t *testing.T) {
	srv, _ := startServer(t)
	a := dial(t, srv)
	b := dial(t, srv)
	joinRoom(t, b, "abc")

	write(t, a, `{"type":"candidate","room":"abc","payload":{"candidate":"candidate:1 1 udp 1 1.2.3.4 5 typ host"}}`)
	msg, _ := read(t, a)
	var p core.ErrorPayload
	if msg.Type != core.MessageError || msg.Decode(&p) != nil || p.Error != "not_in_room" {
		t.Fatalf("got %+v, want not_in_room error", msg)
	}
}

func TestSignal_JoinRateLimited(t *testing.T) {
	srv, _ := startServer(t)
	a := dial(t, srv)
	for i := 0; i < 3; i++ {
		joinRoom(t, a, "abc")
	}
	write(t, a, `{"type":"join","room":"abc"}`)
	msg, _ := read(t, a)
	var p core.ErrorPayload
	if msg.Type != core.MessageError || msg.Decode(&p) != nil || p.Error != "rate_limited" {
		t.Fatalf("got %+v, want rate_limited error", msg)
	}
}

func TestRooms_ListAndLookup(t *testing.T) {
	srv, _ := startServer(t)
	a := dial(t, srv)
	joinRoom(t, a, "R123")

	resp, err := http.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("GET /api/rooms: %v", err)
	}
	defer resp.Body.Close()
	var rooms []core.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "R123" || rooms[0].MemberCount != 1 {
		t.Fatalf("rooms=%+v, want [R123:1]", rooms)
	}

	resp404, err := http.Get(srv.URL + "/api/rooms/missing")
	if err != nil {
		t.Fatalf("GET missing: %v", err)
	}
	resp404.Body.Close()
	if resp404.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp404.StatusCode)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	srv, _ := startServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status=%d", resp.StatusCode)
	}

	a := dial(t, srv)
	joinRoom(t, a, "m")

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), "duet_relay_rooms 1") {
		t.Fatalf("missing rooms gauge: %s", body)
	}
}
