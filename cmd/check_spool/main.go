package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-spool/cmd"
	"github.com/paulschiretz/pgl-spool/pkg/health"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Usage errors are UNKNOWN in monitoring-plugin terms.
	code := cmd.Execute(ctx, cmd.NewCheckRootCommand(os.Stdout, os.Stderr), health.Unknown.ExitCode())
	stop()
	os.Exit(code)
}
