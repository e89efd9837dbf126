package playout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/tvremote/internal/protocol/wire"
	"github.com/danmuck/tvremote/internal/remote"
)

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

// eventLog is a registry sink that records raised events.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) PropertyChanged(*remote.Object, string, any) {}

func (l *eventLog) EventRaised(_ *remote.Object, event string, _ []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) ObjectReleased(wire.ObjectID) {}

func (l *eventLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// flakyExecutor fails the first n attempts.
type flakyExecutor struct {
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyExecutor) Execute(_ context.Context, op *FileOperation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return errors.New("device busy")
	}
	op.ReportProgress(50)
	return nil
}

func (f *flakyExecutor) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEngine struct {
	*Engine
	registry *remote.Registry
	source   *MediaDirectory
	archive  *MediaDirectory
	clip     *Media
}

// newTestEngine builds an engine with two directories and one clip, and
// starts its file manager.
func newTestEngine(t *testing.T, exec Executor) *testEngine {
	t.Helper()
	registry := remote.NewRegistry()
	e := NewEngine(registry, EngineConfig{Name: "studio-a", Executor: exec, RetryDelay: time.Millisecond})
	registry.Register(e)
	te := &testEngine{
		Engine:   e,
		registry: registry,
		source:   e.AddDirectory("ingest", "/media/ingest", true),
		archive:  e.AddDirectory("archive", "/media/archive", false),
		clip:     NewMedia("evening_news.mxf", 2048, 90*time.Second),
	}
	te.source.AddMedia(te.clip)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.FileManager().Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return te
}
