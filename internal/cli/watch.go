package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/danmuck/tvremote/internal/playout"
	"github.com/danmuck/tvremote/internal/remote"
	"github.com/danmuck/tvremote/internal/remote/client"
	"github.com/spf13/cobra"
)

type watchEvent struct {
	At      time.Time `json:"at"`
	Channel string    `json:"channel"`
	Kind    string    `json:"kind"`
	Detail  string    `json:"detail"`
}

// syncWriter serializes lines from the state observer and the proxy
// dispatcher. Writes after close are dropped.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *syncWriter) close() {
	s.mu.Lock()
	s.w = io.Discard
	s.mu.Unlock()
}

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a channel, reconnecting after drops",
		Long: `Connect to the channel and print state changes, file operation events
and CG updates until interrupted. A dropped connection is retried every
second with a fresh replica.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, t, err := rootOpts.manager()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			sw := &syncWriter{w: cmd.OutOrStdout()}
			defer sw.close()
			out := rootOpts.printer(sw)
			emit := func(kind, detail string) {
				ev := watchEvent{At: time.Now().UTC(), Channel: t.channel.Name, Kind: kind, Detail: detail}
				_ = out.emit(ev, fmt.Sprintf("[%s] %-10s %s", ev.Channel, kind, detail))
			}

			stop := m.OnStateChange(func(s client.State) { emit("state", s.String()) })
			defer stop()

			err = m.Run(ctx, func(conn *client.Connection) {
				engine, err := client.RootAs[*playout.EngineProxy](conn)
				if err != nil {
					emit("error", err.Error())
					return
				}
				watchEngine(engine, t.channel.ShowEngine, t.channel.ShowMedia, emit)
			})
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "watch", err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

// watchEngine hooks the replica. Handlers die with it, so nothing is
// unregistered on reconnect.
func watchEngine(engine *playout.EngineProxy, showEngine, showMedia bool, emit func(kind, detail string)) {
	emit("engine", fmt.Sprintf("%s started %s", engine.Name(), engine.StartedAt().Format(time.RFC3339)))

	if showEngine {
		fm := engine.FileManager()
		_, _ = fm.On("OperationAdded", func(ev remote.Event) {
			if op, ok := ev.Args.Object(0).(*playout.FileOperationProxy); ok {
				emit("queued", describeOp(op))
			}
		})
		_, _ = fm.On("OperationCompleted", func(ev remote.Event) {
			if op, ok := ev.Args.Object(0).(*playout.FileOperationProxy); ok {
				emit("completed", describeOp(op))
			}
		})
		cg := engine.CG()
		cg.OnPropertyChanged(func(name string) {
			v := viewCG(cg)
			emit("cg", fmt.Sprintf("%s changed: enabled=%t crawl=%s logo=%s parental=%s", name, v.Enabled, v.Crawl, v.Logo, v.Parental))
		})
	}

	if showMedia {
		for _, dir := range engine.Directories() {
			dir := dir
			emit("directory", fmt.Sprintf("%s %d files", dir.Name(), len(dir.Files())))
			dir.OnPropertyChanged(func(name string) {
				if name == "Files" {
					emit("directory", fmt.Sprintf("%s %d files", dir.Name(), len(dir.Files())))
				}
			})
		}
	}
}

func describeOp(op *playout.FileOperationProxy) string {
	v := viewOp(0, op)
	target := v.Source
	if v.Destination != "" {
		target += " -> " + v.Destination
	}
	return fmt.Sprintf("%s %s %s", v.Kind, target, v.Status)
}
