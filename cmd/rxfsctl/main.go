// Command rxfsctl reads, writes and listens to documents through the
// backend selected by the rxfirestore configuration.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config := NewCliConfig()
	rc, err := Cli(ctx, os.Args[1:], config)
	if err != nil {
		fmt.Fprintf(config.Stderr, "%s: error: %v\n", config.Name, err)
	}
	stop()
	os.Exit(rc)
}
