package cli

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/tvremote/internal/playout"
	"github.com/danmuck/tvremote/internal/remote"
	"github.com/danmuck/tvremote/internal/remote/server"
)

type liveServer struct {
	addr    string
	engine  *playout.Engine
	ingest  *playout.MediaDirectory
	archive *playout.MediaDirectory
	clip    *playout.Media
}

func startServer(t *testing.T, step time.Duration) *liveServer {
	t.Helper()
	registry := remote.NewRegistry()
	engine := playout.NewEngine(registry, playout.EngineConfig{
		Name:       "studio-a",
		Executor:   playout.SimulatedExecutor{Step: step},
		RetryDelay: 10 * time.Millisecond,
	})
	ls := &liveServer{
		engine:  engine,
		ingest:  engine.AddDirectory("ingest", "/media/ingest", true),
		archive: engine.AddDirectory("archive", "/media/archive", false),
		clip:    playout.NewMedia("evening_news.mxf", 4096, 90*time.Second),
	}
	ls.ingest.AddMedia(ls.clip)
	ls.ingest.AddMedia(playout.NewMedia("weather.mxf", 1024, 30*time.Second))

	cfg := server.DefaultConfig()
	cfg.ServerName = "cli-test"
	cfg.Session = cfg.Session.WithDefaults()
	srv := server.New(cfg, registry, engine)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ls.addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = srv.Serve(ctx, ln)
	}()
	go func() {
		defer wg.Done()
		_ = engine.FileManager().Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return ls
}

// run executes a fresh root command and returns its stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func runOK(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("%s: %v", strings.Join(args, " "), err)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
