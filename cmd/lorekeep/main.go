// Lorekeep stores prototype-based item definitions and rates them with
// their formulas.
// Usage: lorekeep [--config file] [--driver sqlite|json|memory] [--db path] <command>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
