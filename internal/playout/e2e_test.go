package playout_test

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/tvremote/internal/playout"
	"github.com/danmuck/tvremote/internal/protocol/frame"
	"github.com/danmuck/tvremote/internal/protocol/session"
	"github.com/danmuck/tvremote/internal/protocol/wire"
	"github.com/danmuck/tvremote/internal/remote"
	"github.com/danmuck/tvremote/internal/remote/client"
	"github.com/danmuck/tvremote/internal/remote/server"
	"github.com/danmuck/tvremote/internal/testutil/testlog"
	"github.com/danmuck/tvremote/internal/testutil/tlstest"
	"github.com/google/uuid"
)

func fastSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.SessionDeadAfter = time.Second
	cfg.WriteTimeout = time.Second
	cfg.Backoff = session.BackoffConfig{InitialDelay: 10 * time.Millisecond, Multiplier: 1}
	return cfg
}

func eventually(t *testing.T, what string, cond func() bool) {
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

// trackingListener remembers accepted connections so tests can cut them.
type trackingListener struct {
	net.Listener
	mu    sync.Mutex
	conns []net.Conn
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		l.mu.Lock()
		l.conns = append(l.conns, conn)
		l.mu.Unlock()
	}
	return conn, err
}

func (l *trackingListener) cut() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.conns {
		_ = c.Close()
	}
	l.conns = nil
}

type stack struct {
	engine   *playout.Engine
	server   *server.Server
	ingest   *playout.MediaDirectory
	archive  *playout.MediaDirectory
	clip     *playout.Media
	listener *trackingListener
	addr     string
	stop     func()
}

func startStack(t *testing.T, cfg server.Config, ln net.Listener) *stack {
	t.Helper()
	registry := remote.NewRegistry()
	engine := playout.NewEngine(registry, playout.EngineConfig{
		Name:       "studio-a",
		Executor:   playout.SimulatedExecutor{Step: 2 * time.Millisecond},
		RetryDelay: 10 * time.Millisecond,
	})
	st := &stack{
		engine:  engine,
		ingest:  engine.AddDirectory("ingest", "/media/ingest", true),
		archive: engine.AddDirectory("archive", "/media/archive", false),
		clip:    playout.NewMedia("evening_news.mxf", 4096, 90*time.Second),
	}
	st.ingest.AddMedia(st.clip)
	st.ingest.AddMedia(playout.NewMedia("weather.mxf", 1024, 30*time.Second))

	cfg.Session = cfg.Session.WithDefaults()
	st.server = server.New(cfg, registry, engine)

	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
	}
	st.listener = &trackingListener{Listener: ln}
	st.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = st.server.Serve(ctx, st.listener)
	}()
	go func() {
		defer wg.Done()
		_ = engine.FileManager().Run(ctx)
	}()
	var once sync.Once
	st.stop = func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
	t.Cleanup(st.stop)
	return st
}

func plainServer() server.Config {
	cfg := server.DefaultConfig()
	cfg.ServerName = "e2e"
	cfg.Session = fastSession()
	return cfg
}

func connect(t *testing.T, st *stack, mutate func(*client.Config)) (*client.Connection, *playout.EngineProxy) {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.Address = st.addr
	cfg.ClientName = "operator"
	cfg.Session = fastSession()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := client.New(cfg, playout.NewBinder())
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	conn, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	root, err := client.RootAs[*playout.EngineProxy](conn)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	return conn, root
}

func TestClientReceivesEngineGraph(t *testing.T) {
	testlog.Start(t)

	st := startStack(t, plainServer(), nil)
	conn, root := connect(t, st, nil)

	if conn.ServerName() != "e2e" || conn.SessionID() == uuid.Nil {
		t.Fatalf("unexpected ack server=%q session=%s", conn.ServerName(), conn.SessionID())
	}
	if root.Name() != "studio-a" {
		t.Fatalf("expected engine name studio-a, got %q", root.Name())
	}
	dirs := root.Directories()
	if len(dirs) != 2 || dirs[0].Name() != "ingest" || !dirs[0].IsPrimary() {
		t.Fatalf("unexpected directories %v", dirs)
	}
	files := dirs[0].Files()
	if len(files) != 2 || files[0].FileName() != "evening_news.mxf" {
		t.Fatalf("unexpected files %v", files)
	}
	if files[0].FileSize() != 4096 || files[0].Duration() != 90*time.Second {
		t.Fatalf("unexpected clip size=%d duration=%s", files[0].FileSize(), files[0].Duration())
	}
	// The directory <-> media cycle resolves to the same proxy instances.
	if files[0].Directory() != dirs[0] {
		t.Fatalf("media back-reference is not the directory proxy")
	}
	if cg := root.CG(); cg == nil || len(cg.Parentals()) != 5 {
		t.Fatalf("cg controller not replicated: %v", cg)
	}
	if got := root.FileManager(); got == nil || len(got.Operations()) != 0 {
		t.Fatalf("file manager not replicated: %v", got)
	}
}

func TestWritesReachEveryClient(t *testing.T) {
	testlog.Start(t)

	st := startStack(t, plainServer(), nil)
	_, rootA := connect(t, st, nil)
	_, rootB := connect(t, st, func(c *client.Config) { c.ClientName = "monitor" })

	clipA := rootA.Directories()[0].Files()[0]
	clipB := rootB.Directories()[0].Files()[0]

	changed := make(chan string, 4)
	clipB.OnPropertyChanged(func(name string) { changed <- name })

	if err := clipA.Rename(context.Background(), "Evening News"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if st.clip.MediaName() != "Evening News" {
		t.Fatalf("server not updated, got %q", st.clip.MediaName())
	}
	select {
	case name := <-changed:
		if name != "MediaName" {
			t.Fatalf("unexpected change %q", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("second client never saw the rename")
	}
	eventually(t, "both caches agree", func() bool {
		return clipA.MediaName() == "Evening News" && clipB.MediaName() == "Evening News"
	})

	// Server-side writes broadcast too.
	st.ingest.Set("DirectoryName", "ingest-1")
	eventually(t, "server write", func() bool {
		return rootA.Directories()[0].Name() == "ingest-1" && rootB.Directories()[0].Name() == "ingest-1"
	})

	if err := clipA.SetAck(context.Background(), "FileName", "x.mxf"); err == nil {
		t.Fatalf("expected read-only property write to fail")
	}
}

func TestConcurrentWritesConvergeOnServerValue(t *testing.T) {
	testlog.Start(t)

	st := startStack(t, plainServer(), nil)
	_, rootA := connect(t, st, nil)
	_, rootB := connect(t, st, func(c *client.Config) { c.ClientName = "monitor" })

	clipA := rootA.Directories()[0].Files()[0]
	clipB := rootB.Directories()[0].Files()[0]

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- clipA.Rename(context.Background(), fmt.Sprintf("a-%d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			errs <- clipB.Rename(context.Background(), fmt.Sprintf("b-%d", i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("rename: %v", err)
		}
	}

	want := st.clip.MediaName()
	eventually(t, "caches converge on the server value", func() bool {
		return clipA.MediaName() == want && clipB.MediaName() == want
	})
}

func TestQueuedOperationCompletesOverTheWire(t *testing.T) {
	testlog.Start(t)

	st := startStack(t, plainServer(), nil)
	_, root := connect(t, st, nil)
	fm := root.FileManager()

	completed := make(chan *playout.FileOperationProxy, 1)
	off, err := fm.On("OperationCompleted", func(ev remote.Event) {
		if op, ok := ev.Args.Object(0).(*playout.FileOperationProxy); ok {
			completed <- op
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer off()

	dirs := root.Directories()
	op, err := fm.Queue(context.Background(), playout.KindCopy, dirs[0].Files()[0], dirs[1])
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if op == nil || op.Kind() != playout.KindCopy {
		t.Fatalf("unexpected operation proxy %v", op)
	}

	select {
	case done := <-completed:
		if done != op {
			t.Fatalf("event carried a different proxy for the same operation")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("operation never completed")
	}
	eventually(t, "finished status", func() bool {
		return op.Status() == playout.StatusFinished && op.Progress() == 100
	})
	eventually(t, "copy listed", func() bool { return len(dirs[1].Files()) == 1 })
	if len(fm.Operations()) != 1 {
		t.Fatalf("expected one listed operation, got %d", len(fm.Operations()))
	}

	pending, err := fm.Pending(context.Background())
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected nothing pending, got %v err=%v", pending, err)
	}
	n, err := fm.ClearFinished(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("clear finished: n=%d err=%v", n, err)
	}
	eventually(t, "operation released", func() bool { return op.Released() })
}

func TestRemoteFaultsReachCaller(t *testing.T) {
	testlog.Start(t)

	st := startStack(t, plainServer(), nil)
	_, root := connect(t, st, nil)
	cg := root.CG()

	err := cg.SetState(context.Background(), playout.CGState{IsCGEnabled: true, Parental: 42})
	var fault *remote.RemoteFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected RemoteFault, got %v", err)
	}

	if err := cg.SetAck(context.Background(), "Logo", uint8(7)); !errors.As(err, &fault) {
		t.Fatalf("expected rejected logo fault, got %v", err)
	}

	if err := cg.SetState(context.Background(), playout.CGState{IsCGEnabled: true, Crawl: 2, Logo: 1, Parental: 1}); err != nil {
		t.Fatalf("set state: %v", err)
	}
	eventually(t, "cg state", func() bool { return cg.IsCGEnabled() && cg.Crawl() == 2 })

	// The session survives faults.
	if _, err := root.Directories()[0].GetFiles(context.Background(), "weather"); err != nil {
		t.Fatalf("query after fault: %v", err)
	}
}

func TestGetFilesReturnsKnownProxies(t *testing.T) {
	testlog.Start(t)

	st := startStack(t, plainServer(), nil)
	_, root := connect(t, st, nil)
	ingest := root.Directories()[0]

	files, err := ingest.GetFiles(context.Background(), "NEWS")
	if err != nil {
		t.Fatalf("get files: %v", err)
	}
	if len(files) != 1 || files[0] != ingest.Files()[0] {
		t.Fatalf("expected the cached news proxy, got %v", files)
	}
}

func TestDeletedMediaIsReleased(t *testing.T) {
	testlog.Start(t)

	st := startStack(t, plainServer(), nil)
	conn, root := connect(t, st, nil)
	clip := root.Directories()[0].Files()[0]
	before := conn.Proxies().Len()

	st.engine.DeleteMedia(st.clip)

	eventually(t, "release", func() bool { return clip.Released() })
	if len(root.Directories()[0].Files()) != 1 {
		t.Fatalf("deleted media still listed")
	}
	if conn.Proxies().Len() != before-1 {
		t.Fatalf("expected %d proxies, got %d", before-1, conn.Proxies().Len())
	}
	if err := clip.Rename(context.Background(), "gone"); !errors.Is(err, remote.ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestServerShutdownDisconnectsClients(t *testing.T) {
	testlog.Start(t)

	st := startStack(t, plainServer(), nil)
	conn, _ := connect(t, st, nil)
	if st.server.ActiveSessions() != 1 {
		t.Fatalf("expected 1 session, got %d", st.server.ActiveSessions())
	}

	st.stop()

	if err := conn.Err(); !errors.Is(err, remote.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
	if st.server.ActiveSessions() != 0 {
		t.Fatalf("sessions left after shutdown: %d", st.server.ActiveSessions())
	}
}

func TestReconnectBuildsFreshReplica(t *testing.T) {
	testlog.Start(t)

	st := startStack(t, plainServer(), nil)
	cfg := client.DefaultConfig()
	cfg.Address = st.addr
	cfg.Session = fastSession()
	m, err := client.New(cfg, playout.NewBinder())
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}

	var states []client.State
	var statesMu sync.Mutex
	m.OnStateChange(func(s client.State) {
		statesMu.Lock()
		states = append(states, s)
		statesMu.Unlock()
	})

	conns := make(chan *client.Connection, 4)
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- m.Run(ctx, func(c *client.Connection) { conns <- c }) }()

	first := <-conns
	firstRoot, _ := client.RootAs[*playout.EngineProxy](first)

	st.listener.cut()
	if err := first.Err(); !errors.Is(err, remote.ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}

	var second *client.Connection
	select {
	case second = <-conns:
	case <-time.After(3 * time.Second):
		t.Fatalf("no reconnect")
	}
	secondRoot, err := client.RootAs[*playout.EngineProxy](second)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if secondRoot == firstRoot || second.SessionID() == first.SessionID() {
		t.Fatalf("reconnect reused state from the old session")
	}
	if secondRoot.ID() != firstRoot.ID() {
		t.Fatalf("root id must be stable across sessions")
	}
	if first.Proxies().Len() != 0 {
		t.Fatalf("old replica still holds %d proxies", first.Proxies().Len())
	}
	if m.State() != client.StateConnected || m.Current() != second {
		t.Fatalf("manager not on the new connection: %s", m.State())
	}

	cancel()
	if err := <-runDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
	if m.State() != client.StateDisconnected {
		t.Fatalf("expected disconnected after run, got %s", m.State())
	}
	statesMu.Lock()
	defer statesMu.Unlock()
	if len(states) < 4 || states[0] != client.StateHandshaking {
		t.Fatalf("unexpected state history %v", states)
	}
}

func TestUnsupportedVersionRejected(t *testing.T) {
	testlog.Start(t)

	st := startStack(t, plainServer(), nil)
	conn, err := net.Dial("tcp", st.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hs := wire.Handshake{ProtocolVersion: wire.ProtocolVersion + 1, ClientID: uuid.New()}
	if err := session.WriteHandshake(conn, hs, frame.DefaultLimits()); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	_, err = session.ReadHandshakeAck(conn, frame.DefaultLimits())
	var reject *session.RejectError
	if !errors.As(err, &reject) || reject.Code != wire.RejectUnsupportedVersion {
		t.Fatalf("expected version rejection, got %v", err)
	}
	if !errors.Is(err, session.ErrHandshakeRejected) {
		t.Fatalf("rejection must match ErrHandshakeRejected")
	}
}

func TestMutualTLSBindsIdentity(t *testing.T) {
	testlog.Start(t)

	ca := tlstest.NewAuthority(t, "tvremote-test-ca")
	serverPair := ca.ServerPair(t, "localhost")
	clientPair := ca.ClientPair(t, "operator")

	cfg := plainServer()
	cfg.RequireIdentityBinding = true
	cfg.Session.TLS = session.TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CertFile: serverPair.CertFile,
		KeyFile:  serverPair.KeyFile,
		CAFile:   ca.CAFile(),
	}
	tlsCfg, err := cfg.Session.ServerTLSConfig()
	if err != nil {
		t.Fatalf("server tls: %v", err)
	}
	ln, err := tls.Listen("tcp", "127.0.0.1:0", tlsCfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	st := startStack(t, cfg, ln)

	withTLS := func(name string) func(*client.Config) {
		return func(c *client.Config) {
			c.ClientName = name
			c.Session.TLS = session.TLSConfig{
				Enabled:    true,
				Mutual:     true,
				CertFile:   clientPair.CertFile,
				KeyFile:    clientPair.KeyFile,
				CAFile:     ca.CAFile(),
				ServerName: "localhost",
			}
		}
	}

	_, root := connect(t, st, withTLS("operator"))
	if root.Name() != "studio-a" {
		t.Fatalf("unexpected root %q", root.Name())
	}
	sessions := st.server.Sessions()
	if len(sessions) != 1 || sessions[0].Peer != "operator" {
		t.Fatalf("expected peer identity operator, got %+v", sessions)
	}

	ccfg := client.DefaultConfig()
	ccfg.Address = st.addr
	ccfg.Session = fastSession()
	withTLS("impostor")(&ccfg)
	m, err := client.New(ccfg, playout.NewBinder())
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	_, err = m.Connect(context.Background())
	var reject *session.RejectError
	if !errors.As(err, &reject) || reject.Code != wire.RejectInvalidClient {
		t.Fatalf("expected identity rejection, got %v", err)
	}

	// A rejection is permanent, so Run gives up instead of retrying.
	if err := m.Run(context.Background(), nil); !errors.As(err, &reject) {
		t.Fatalf("expected Run to stop on rejection, got %v", err)
	}
}
