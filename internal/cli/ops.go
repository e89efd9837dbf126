package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/danmuck/tvremote/internal/playout"
	"github.com/spf13/cobra"
)

type opView struct {
	Index       int      `json:"index"`
	Kind        string   `json:"kind"`
	Status      string   `json:"status"`
	Progress    int      `json:"progress"`
	TryCount    int      `json:"try_count"`
	Source      string   `json:"source,omitempty"`
	Destination string   `json:"destination,omitempty"`
	Scheduled   string   `json:"scheduled,omitempty"`
	Output      []string `json:"output,omitempty"`
}

func viewOp(i int, op *playout.FileOperationProxy) opView {
	v := opView{
		Index:    i,
		Kind:     string(op.Kind()),
		Status:   string(op.Status()),
		Progress: op.Progress(),
		TryCount: op.TryCount(),
		Output:   op.Output(),
	}
	if src := op.Source(); src != nil {
		v.Source = src.FileName()
	}
	if dst := op.Destination(); dst != nil {
		v.Destination = dst.Name()
	}
	if at := op.ScheduledTime(); !at.IsZero() {
		v.Scheduled = at.Format(time.RFC3339)
	}
	return v
}

// indexOf is -1 when the Operations update has not arrived yet.
func indexOf(ops []*playout.FileOperationProxy, op *playout.FileOperationProxy) int {
	for i, candidate := range ops {
		if candidate == op {
			return i
		}
	}
	return -1
}

func (v opView) line() string {
	target := v.Source
	if v.Destination != "" {
		target += " -> " + v.Destination
	}
	return fmt.Sprintf("%3d  %-6s %-11s %3d%%  tries=%d  %s", v.Index, v.Kind, v.Status, v.Progress, v.TryCount, target)
}

func NewOpsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "List and manage file operations",
	}
	cmd.AddCommand(newOpsListCommand(rootOpts))
	cmd.AddCommand(newOpsQueueCommand(rootOpts))
	cmd.AddCommand(newOpsAbortCommand(rootOpts))
	cmd.AddCommand(newOpsClearCommand(rootOpts))
	return cmd
}

func newOpsListCommand(rootOpts *RootOptions) *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List file operations",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd.Context(), func(ctx context.Context, engine *playout.EngineProxy) error {
				ops := engine.FileManager().Operations()
				if pending {
					callCtx, cancel := rootOpts.callCtx(ctx)
					defer cancel()
					var err error
					if ops, err = engine.FileManager().Pending(callCtx); err != nil {
						return remoteErr("pending query", err)
					}
				}
				views := make([]opView, 0, len(ops))
				lines := make([]string, 0, len(ops))
				for i, op := range ops {
					v := viewOp(i, op)
					views = append(views, v)
					lines = append(lines, v.line())
				}
				if len(lines) == 0 {
					lines = append(lines, "no operations")
				}
				return rootOpts.printer(cmd.OutOrStdout()).emit(views, lines...)
			})
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "only waiting or running operations")
	return cmd
}

func newOpsQueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "queue <copy|move|delete> <directory> <file> [dest-directory]",
		Short:        "Queue a file operation",
		Args:         cobra.RangeArgs(3, 4),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := playout.OperationKind(args[0])
			if !kind.Valid() {
				return NewExitError(ExitCommandError, fmt.Sprintf("unknown operation kind %q", args[0]))
			}
			if kind != playout.KindDelete && len(args) != 4 {
				return NewExitError(ExitCommandError, fmt.Sprintf("%s needs a destination directory", kind))
			}
			return rootOpts.withEngine(cmd.Context(), func(ctx context.Context, engine *playout.EngineProxy) error {
				src, err := findDirectory(engine, args[1])
				if err != nil {
					return err
				}
				media, err := findMedia(src, args[2])
				if err != nil {
					return err
				}
				var dest *playout.MediaDirectoryProxy
				if len(args) == 4 {
					if dest, err = findDirectory(engine, args[3]); err != nil {
						return err
					}
				}
				callCtx, cancel := rootOpts.callCtx(ctx)
				defer cancel()
				op, err := engine.FileManager().Queue(callCtx, kind, media, dest)
				if err != nil {
					return remoteErr("queue", err)
				}
				v := viewOp(indexOf(engine.FileManager().Operations(), op), op)
				return rootOpts.printer(cmd.OutOrStdout()).emit(v, "queued "+v.line())
			})
		},
	}
}

func newOpsAbortCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "abort <index>",
		Short:        "Abort a file operation by its list index",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[0])
			if err != nil || idx < 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid index %q", args[0]))
			}
			return rootOpts.withEngine(cmd.Context(), func(ctx context.Context, engine *playout.EngineProxy) error {
				ops := engine.FileManager().Operations()
				if idx >= len(ops) {
					return NewExitError(ExitCommandError, fmt.Sprintf("no operation at index %d", idx))
				}
				callCtx, cancel := rootOpts.callCtx(ctx)
				defer cancel()
				if err := ops[idx].Abort(callCtx); err != nil {
					return remoteErr("abort", err)
				}
				return rootOpts.printer(cmd.OutOrStdout()).emit(map[string]int{"aborted": idx}, fmt.Sprintf("aborted %d", idx))
			})
		},
	}
}

func newOpsClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "clear",
		Short:        "Drop finished, failed and aborted operations",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withEngine(cmd.Context(), func(ctx context.Context, engine *playout.EngineProxy) error {
				callCtx, cancel := rootOpts.callCtx(ctx)
				defer cancel()
				n, err := engine.FileManager().ClearFinished(callCtx)
				if err != nil {
					return remoteErr("clear", err)
				}
				return rootOpts.printer(cmd.OutOrStdout()).emit(map[string]int{"cleared": n}, fmt.Sprintf("cleared %d", n))
			})
		},
	}
}
