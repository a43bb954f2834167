// File: cmd/graft/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/graft-cli/cmd"
	"github.com/xkilldash9x/graft-cli/internal/observability"
)

// osExit is swappable so the exit paths are testable.
var osExit = os.Exit

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		observability.Sync()
		if errors.Is(err, context.Canceled) {
			// An operator interrupt is a clean stop, not a failure.
			osExit(0)
		}
		osExit(1)
	}
	observability.Sync()
}

// handlePanic flushes buffered logs before the process dies so the panic
// cause is not lost with them.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()
		fmt.Fprintf(os.Stderr, "panic: %v\n\n%s", r, debug.Stack())
		osExit(2)
	}
}
