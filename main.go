// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/attendfix/cmd"
	"github.com/xkilldash9x/attendfix/internal/observability"
)

// main is the entry point for the attendfix CLI.
func main() {
	// SIGINT/SIGTERM cancel the running session; the browser is still torn down.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cmd.Execute(ctx)
	stop()
	observability.Sync()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		os.Exit(0)
	default:
		os.Exit(1)
	}
}
