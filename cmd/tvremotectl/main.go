package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/tvremote/internal/cli"
	"github.com/danmuck/tvremote/internal/observability"
)

func main() {
	observability.InitLogger("tvremotectl")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand()
	cmd.SilenceErrors = true
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tvremotectl: %v\n", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
