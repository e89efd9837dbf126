package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	path := flag.String("config", "config.toml", "path to tvremoted config")
	flag.Parse()

	cfg, err := loadServiceConfig(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tvremoted: %v\n", err)
		os.Exit(1)
	}
	if err := newDaemon(cfg).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tvremoted: %v\n", err)
		os.Exit(1)
	}
}
