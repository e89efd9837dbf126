package server_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/tvremote/internal/protocol/session"
	"github.com/danmuck/tvremote/internal/remote"
	"github.com/danmuck/tvremote/internal/remote/client"
	"github.com/danmuck/tvremote/internal/remote/server"
	"github.com/danmuck/tvremote/internal/testutil/testlog"
)

var (
	counterType = remote.NewType("test.counter",
		remote.ValueProp[int]("Count").Writable(),
	).Method("Incr", func(_ context.Context, target remote.Replicable, args remote.Values) (any, error) {
		c := target.(*counter)
		by, err := remote.Arg[int](args, 0)
		if err != nil {
			return nil, err
		}
		c.Set("Count", remote.GetAs[int](c.Object, "Count")+by)
		return remote.GetAs[int](c.Object, "Count"), nil
	}).Method("Block", func(ctx context.Context, target remote.Replicable, _ remote.Values) (any, error) {
		<-target.(*counter).unblock
		return nil, nil
	}).Event("Ticked")

	panelType = remote.NewType("test.panel",
		remote.ValueProp[string]("Title"),
		remote.RefProp("Counter"),
	).Query("Counter", func(_ context.Context, target remote.Replicable, _ remote.Values) (any, error) {
		return target.(*panel).counter, nil
	})
)

type counter struct {
	*remote.Object
	unblock chan struct{}
}

type panel struct {
	*remote.Object
	counter *counter
}

func newPanel() *panel {
	c := &counter{unblock: make(chan struct{})}
	c.Object = remote.NewObject(counterType, c)
	c.Set("Count", 0)
	p := &panel{counter: c}
	p.Object = remote.NewObject(panelType, p)
	p.Set("Title", "master control")
	p.Set("Counter", c)
	return p
}

type (
	panelProxy   struct{ *remote.Proxy }
	counterProxy struct{ *remote.Proxy }
)

func binder() *remote.Binder {
	b := remote.NewBinder()
	b.MustBind(panelType, func(p *remote.Proxy) remote.Proxied { return &panelProxy{Proxy: p} })
	b.MustBind(counterType, func(p *remote.Proxy) remote.Proxied { return &counterProxy{Proxy: p} })
	return b
}

func testSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.SessionDeadAfter = time.Second
	cfg.WriteTimeout = time.Second
	cfg.MaxConcurrentRequests = 2
	return cfg
}

func serve(t *testing.T, root *panel) (*server.Server, string, context.CancelFunc) {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.ServerName = "server-test"
	cfg.Session = testSession()
	srv := server.New(cfg, nil, root)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return srv, ln.Addr().String(), cancel
}

func dial(t *testing.T, addr, name string) (*client.Connection, *panelProxy) {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.Address = addr
	cfg.ClientName = name
	cfg.Session = testSession()
	m, err := client.New(cfg, binder())
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	conn, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	root, err := client.RootAs[*panelProxy](conn)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	return conn, root
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionsReportHandshake(t *testing.T) {
	testlog.Start(t)

	srv, addr, _ := serve(t, newPanel())
	conn, _ := dial(t, addr, "studio-b")

	sessions := srv.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	info := sessions[0]
	if info.ID != conn.SessionID() || info.ClientName != "studio-b" || info.Role != remote.RoleServer {
		t.Fatalf("unexpected session info %+v", info)
	}
	if info.KnownObjects != 2 {
		t.Fatalf("root and counter should be known, got %d", info.KnownObjects)
	}
	if srv.Registry().Len() != 2 {
		t.Fatalf("expected 2 registered objects, got %d", srv.Registry().Len())
	}

	_ = conn.Close()
	waitFor(t, "session removal", func() bool { return srv.ActiveSessions() == 0 })
}

func TestReleasedObjectIsResentAsBody(t *testing.T) {
	testlog.Start(t)

	root := newPanel()
	_, addr, _ := serve(t, root)
	_, proxy := dial(t, addr, "")

	first, ok := proxy.Ref("Counter").(*counterProxy)
	if !ok {
		t.Fatalf("counter not replicated")
	}
	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !first.Released() {
		t.Fatalf("release must be immediate on the client")
	}

	res, err := proxy.Query(context.Background(), "Counter")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	again, ok := res.Object().(*counterProxy)
	if !ok {
		t.Fatalf("expected a counter proxy, got %T", res.Raw())
	}
	if again == first || again.ID() != first.ID() {
		t.Fatalf("expected a fresh proxy for the same object")
	}
	var count int
	if err := again.Get("Count", &count); err != nil {
		t.Fatalf("fresh proxy has no body: %v", err)
	}

	root.counter.Set("Count", 5)
	waitFor(t, "broadcast to fresh proxy", func() bool {
		var n int
		_ = again.Get("Count", &n)
		return n == 5
	})
}

func TestEventsOnlyReachSubscribers(t *testing.T) {
	testlog.Start(t)

	root := newPanel()
	_, addr, _ := serve(t, root)
	_, a := dial(t, addr, "a")
	_, b := dial(t, addr, "b")

	var mu sync.Mutex
	var gotA, gotB int
	ca := a.Ref("Counter").(*counterProxy)
	cb := b.Ref("Counter").(*counterProxy)
	off, err := ca.On("Ticked", func(remote.Event) {
		mu.Lock()
		gotA++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := ca.On("Missing", func(remote.Event) {}); !errors.Is(err, remote.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	cb.OnPropertyChanged(func(string) {
		mu.Lock()
		gotB++
		mu.Unlock()
	})

	// A round trip on a's session orders the subscribe before the emit.
	if _, err := ca.Call(context.Background(), "Incr", 1); err != nil {
		t.Fatalf("incr: %v", err)
	}
	root.counter.Emit("Ticked")
	waitFor(t, "event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotA == 1 && gotB == 1
	})

	off()
	if _, err := ca.Call(context.Background(), "Incr", 1); err != nil {
		t.Fatalf("incr: %v", err)
	}
	root.counter.Emit("Ticked")
	if _, err := ca.Call(context.Background(), "Incr", 1); err != nil {
		t.Fatalf("incr: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotA != 1 {
		t.Fatalf("unsubscribed listener fired, count=%d", gotA)
	}
}

func TestSlowRequestDoesNotBlockOthers(t *testing.T) {
	testlog.Start(t)

	root := newPanel()
	_, addr, _ := serve(t, root)
	_, proxy := dial(t, addr, "")
	c := proxy.Ref("Counter").(*counterProxy)

	blocked := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "Block")
		blocked <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := c.Call(ctx, "Incr", 3)
	if err != nil {
		t.Fatalf("incr while another request runs: %v", err)
	}
	var n int
	if err := res.Decode(&n); err != nil || n != 3 {
		t.Fatalf("expected 3, got %d err=%v", n, err)
	}

	close(root.counter.unblock)
	if err := <-blocked; err != nil {
		t.Fatalf("blocked call: %v", err)
	}
}

func TestCallerTimeoutLeavesSessionUsable(t *testing.T) {
	testlog.Start(t)

	root := newPanel()
	_, addr, _ := serve(t, root)
	_, proxy := dial(t, addr, "")
	c := proxy.Ref("Counter").(*counterProxy)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.Call(ctx, "Block"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(root.counter.unblock)

	if _, err := c.Call(context.Background(), "Incr", 1); err != nil {
		t.Fatalf("session unusable after stale reply: %v", err)
	}
}

func TestServeRejectsInvalidTransport(t *testing.T) {
	testlog.Start(t)

	cfg := server.DefaultConfig()
	cfg.Session.SecurityMode = session.SecurityModeProduction
	srv := server.New(cfg, nil, newPanel())
	if _, err := srv.Listen(); !errors.Is(err, session.ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
}

func TestShutdownDisconnectsSessions(t *testing.T) {
	testlog.Start(t)

	srv, addr, cancel := serve(t, newPanel())
	conn, _ := dial(t, addr, "")
	cancel()

	if err := conn.Err(); !errors.Is(err, remote.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	waitFor(t, "sessions drained", func() bool { return srv.ActiveSessions() == 0 })
}
