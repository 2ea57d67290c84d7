package app_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

var errFull = errors.New("full")

type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   error
	panics bool
	closed bool
}

func (f *fakeSignal) TrySend(fr core.Frame) error {
	if f.panics {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSignal) got() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, fr := range f.frames {
		out[i] = string(fr)
	}
	return out
}

func member(sid string) (core.MemberSession, *fakeSignal) {
	sig := &fakeSignal{}
	return core.NewMemberSession(core.SessionID(sid), domain.NewMember("", ""), sig), sig
}

func mustJoin(t *testing.T, r *app.Registry, room string, ms core.MemberSession) app.Membership {
	t.Helper()
	m, err := r.Join(domain.RoomID(room), ms)
	if err != nil {
		t.Fatalf("Join(%s, %s): %v", room, ms.ID(), err)
	}
	return m
}

func TestRegistry_FanOutReachesOnlyOtherMembers(t *testing.T) {
	r := app.NewRegistry(nil)
	a, sigA := member("a")
	b, sigB := member("b")

	if m := mustJoin(t, r, "R123", a); m.Size != 1 || len(m.Peers) != 0 {
		t.Fatalf("first join=%+v, want size 1 and no peers", m)
	}
	if m := mustJoin(t, r, "R123", b); m.Size != 2 || len(m.Peers) != 1 || m.Peers[0] != "a" {
		t.Fatalf("second join=%+v, want size 2 and peers [a]", m)
	}

	res, ok := r.Relay("R123", "a", core.Frame("from-a"))
	if !ok || res.SendTo != 1 {
		t.Fatalf("relay from a: ok=%v sendTo=%d, want true 1", ok, res.SendTo)
	}
	if got := sigB.got(); len(got) != 1 || got[0] != "from-a" {
		t.Fatalf("b got %v, want [from-a]", got)
	}
	if got := sigA.got(); len(got) != 0 {
		t.Fatalf("a got %v, want nothing", got)
	}

	r.Relay("R123", "b", core.Frame("from-b"))
	if got := sigA.got(); len(got) != 1 || got[0] != "from-b" {
		t.Fatalf("a got %v, want [from-b]", got)
	}

	c, sigC := member("c")
	mustJoin(t, r, "R123", c)
	res, _ = r.Relay("R123", "a", core.Frame("to-all"))
	if res.SendTo != 2 {
		t.Fatalf("sendTo=%d, want 2", res.SendTo)
	}
	if got := sigB.got(); got[len(got)-1] != "to-all" {
		t.Fatalf("b last=%q, want to-all", got[len(got)-1])
	}
	if got := sigC.got(); len(got) != 1 || got[0] != "to-all" {
		t.Fatalf("c got %v, want [to-all]", got)
	}

	for _, sid := range []core.SessionID{"a", "b", "c"} {
		r.Leave(sid)
	}
	if _, ok := r.Size("R123"); ok {
		t.Fatalf("room still exists after everyone left")
	}
	if n := len(r.List()); n != 0 {
		t.Fatalf("List len=%d, want 0", n)
	}
}

func TestRegistry_UnknownRoomAndNonMemberDropped(t *testing.T) {
	r := app.NewRegistry(nil)
	a, _ := member("a")
	b, sigB := member("b")
	x, _ := member("x")
	mustJoin(t, r, "abc", a)
	mustJoin(t, r, "abc", b)
	mustJoin(t, r, "other", x)

	if _, ok := r.Relay("nope", "a", core.Frame("m")); ok {
		t.Fatalf("relay to unknown room reported ok")
	}
	if _, ok := r.Relay("abc", "x", core.Frame("m")); ok {
		t.Fatalf("relay from non-member reported ok")
	}
	if got := sigB.got(); len(got) != 0 {
		t.Fatalf("b got %v, want nothing", got)
	}
}

func TestRegistry_FailingRecipientDoesNotBlockOthers(t *testing.T) {
	r := app.NewRegistry(nil)
	a, _ := member("a")
	slow, sigSlow := member("slow")
	bad, sigBad := member("bad")
	c, sigC := member("c")
	sigSlow.fail = errFull
	sigBad.panics = true
	for _, ms := range []core.MemberSession{a, slow, bad, c} {
		mustJoin(t, r, "abc", ms)
	}

	res, ok := r.Relay("abc", "a", core.Frame("hello"))
	if !ok {
		t.Fatalf("relay not ok")
	}
	if res.SendTo != 1 || len(res.Dropped) != 2 {
		t.Fatalf("sendTo=%d dropped=%d, want 1 2", res.SendTo, len(res.Dropped))
	}
	if got := sigC.got(); len(got) != 1 {
		t.Fatalf("c got %v, want one frame", got)
	}
}

func TestRegistry_JoinMovesBetweenRooms(t *testing.T) {
	r := app.NewRegistry(nil)
	a, _ := member("a")
	mustJoin(t, r, "one", a)

	m := mustJoin(t, r, "two", a)
	if m.Left != "one" || m.LeftRemaining != 0 {
		t.Fatalf("membership=%+v, want left=one remaining=0", m)
	}
	if _, ok := r.Size("one"); ok {
		t.Fatalf("room one should be deleted")
	}
	if id, _ := r.RoomOf("a"); id != "two" {
		t.Fatalf("RoomOf(a)=%q, want two", id)
	}
}

func TestRegistry_JoinRejectsInvalidRoom(t *testing.T) {
	r := app.NewRegistry(nil)
	a, _ := member("a")
	if _, err := r.Join("", a); !errors.Is(err, domain.ErrRoomIDEmpty) {
		t.Fatalf("err=%v, want ErrRoomIDEmpty", err)
	}
}

func TestRegistry_LeaveUnknownSession(t *testing.T) {
	r := app.NewRegistry(nil)
	if _, _, ok := r.Leave("ghost"); ok {
		t.Fatalf("Leave(ghost) ok=true, want false")
	}
}

// Concurrent leaves must never leave a removed member as a fan-out target.
func TestRegistry_ConcurrentRelayAndLeave(t *testing.T) {
	r := app.NewRegistry(app.NewMetrics())
	sender, _ := member("sender")
	mustJoin(t, r, "abc", sender)

	const n = 50
	sigs := make([]*fakeSignal, n)
	for i := 0; i < n; i++ {
		ms, sig := member(string(rune('A'+i%26)) + string(rune('a'+i/26)))
		sigs[i] = sig
		mustJoin(t, r, "abc", ms)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			r.Relay("abc", "sender", core.Frame("x"))
		}
	}()
	go func() {
		defer wg.Done()
		for _, id := range r.Members("abc") {
			if id != "sender" {
				r.Leave(id)
			}
		}
	}()
	wg.Wait()

	if size, _ := r.Size("abc"); size != 1 {
		t.Fatalf("size=%d, want 1", size)
	}
	res, _ := r.Relay("abc", "sender", core.Frame("after"))
	if res.SendTo != 0 {
		t.Fatalf("sendTo=%d after all left, want 0", res.SendTo)
	}
}
