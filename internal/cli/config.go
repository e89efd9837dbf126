package cli

import (
	"fmt"

	"github.com/danmuck/tvremote/internal/config"
	"github.com/spf13/cobra"
)

func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write and inspect config files",
	}
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	cmd.AddCommand(newConfigChannelsCommand(rootOpts))
	return cmd
}

func newConfigInitCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		kind  string
		force bool
	)
	cmd := &cobra.Command{
		Use:          "init [path]",
		Short:        "Write a starter client or server config",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, kind, force); err != nil {
				return WrapExitError(ExitCommandError, "config init", err)
			}
			return rootOpts.printer(cmd.OutOrStdout()).emit(map[string]string{"kind": kind, "path": path}, fmt.Sprintf("wrote %s config to %s", kind, path))
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "client", "template kind (client|server)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigChannelsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "channels",
		Short:        "List configured channels",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClientConfig(rootOpts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "load config", err)
			}
			lines := make([]string, 0, len(cfg.Channels))
			for _, ch := range cfg.Channels {
				marker := " "
				if ch.Name == cfg.Default {
					marker = "*"
				}
				lines = append(lines, fmt.Sprintf("%s %-16s %-24s engine=%t media=%t tls=%t", marker, ch.Name, ch.Address, ch.ShowEngine, ch.ShowMedia, ch.TLS.Enabled))
			}
			return rootOpts.printer(cmd.OutOrStdout()).emit(cfg.Channels, lines...)
		},
	}
}
