package cli

import (
	"context"
	"fmt"

	"github.com/danmuck/tvremote/internal/playout"
	"github.com/spf13/cobra"
)

type mediaView struct {
	FileName  string `json:"file_name"`
	MediaName string `json:"media_name"`
	Size      int64  `json:"size"`
	Duration  string `json:"duration"`
	Status    string `json:"status"`
}

func viewMedia(m *playout.MediaProxy) mediaView {
	return mediaView{
		FileName:  m.FileName(),
		MediaName: m.MediaName(),
		Size:      m.FileSize(),
		Duration:  m.Duration().String(),
		Status:    string(m.Status()),
	}
}

func NewFilesCommand(rootOpts *RootOptions) *cobra.Command {
	var rename string
	cmd := &cobra.Command{
		Use:   "files <directory> [filter]",
		Short: "List media in a directory",
		Long: `List media in a directory through the GetFiles query.
With --rename, the single matching file gets a new media name.`,
		Args:         cobra.RangeArgs(1, 2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) == 2 {
				filter = args[1]
			}
			return rootOpts.withEngine(cmd.Context(), func(ctx context.Context, engine *playout.EngineProxy) error {
				dir, err := findDirectory(engine, args[0])
				if err != nil {
					return err
				}
				callCtx, cancel := rootOpts.callCtx(ctx)
				defer cancel()
				files, err := dir.GetFiles(callCtx, filter)
				if err != nil {
					return remoteErr("get files", err)
				}
				if rename != "" {
					if len(files) != 1 {
						return NewExitError(ExitCommandError, fmt.Sprintf("--rename needs exactly one match, got %d", len(files)))
					}
					if err := files[0].Rename(callCtx, rename); err != nil {
						return remoteErr("rename", err)
					}
				}

				views := make([]mediaView, 0, len(files))
				lines := make([]string, 0, len(files))
				for _, m := range files {
					v := viewMedia(m)
					views = append(views, v)
					lines = append(lines, fmt.Sprintf("%-32s %-24s %10d  %-10s %s", v.FileName, v.MediaName, v.Size, v.Duration, v.Status))
				}
				if len(lines) == 0 {
					lines = append(lines, "no files")
				}
				return rootOpts.printer(cmd.OutOrStdout()).emit(views, lines...)
			})
		},
	}
	cmd.Flags().StringVar(&rename, "rename", "", "new media name for the matched file")
	return cmd
}
