package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/tvremote/internal/testutil/testlog"
)

func TestDaemonScansAndStopsCleanly(t *testing.T) {
	testlog.Start(t)

	folder := t.TempDir()
	for _, name := range []string{"promo.mxf", "news.mxf"} {
		if err := os.WriteFile(filepath.Join(folder, name), []byte("x"), 0o600); err != nil {
			t.Fatalf("seed media: %v", err)
		}
	}

	cfg := defaultServiceConfig()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	cfg.Server.Session = cfg.Server.Session.WithDefaults()
	cfg.Directories = []directoryFile{
		{Name: "ingest", Folder: folder, Primary: true},
		{Name: "missing", Folder: filepath.Join(folder, "nope")},
	}
	d := newDaemon(cfg)
	if d.admin != nil {
		t.Fatalf("admin should be off without an address")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !d.server.Ready() {
		if time.Now().After(deadline) {
			t.Fatalf("server never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
	ingest := d.engine.Directory("ingest")
	if ingest == nil || len(ingest.Files()) != 2 {
		t.Fatalf("expected two scanned files")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("daemon did not stop")
	}
}
