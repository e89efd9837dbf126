package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Channel    string
	Address    string // overrides the config file when set
	Timeout    time.Duration
	Format     string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tvremotectl",
		Short: "tvremotectl - playout remote control",
		Long:  "Watch and drive a playout engine over the remote object protocol.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Timeout <= 0 {
				return fmt.Errorf("invalid timeout %v", opts.Timeout)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "tvremotectl.toml", "channel list config")
	cmd.PersistentFlags().StringVar(&opts.Channel, "channel", "", "channel name (default from config)")
	cmd.PersistentFlags().StringVar(&opts.Address, "address", "", "server host:port, bypasses the config file")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "per-request timeout")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewOpsCommand(opts))
	cmd.AddCommand(NewFilesCommand(opts))
	cmd.AddCommand(NewCGCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
