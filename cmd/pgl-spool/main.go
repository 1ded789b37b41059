package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-spool/cmd"
	"github.com/paulschiretz/pgl-spool/pkg/buildinfo"
	"github.com/paulschiretz/pgl-spool/pkg/plog"
)

func main() {
	// Canceled on the first SIGINT or SIGTERM. Running transfers and mount
	// commands are killed and every mounted target is released.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plog.Debug("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid())
	code := cmd.Execute(ctx, cmd.NewRootCommand(os.Stdout, os.Stderr), 1)
	stop()
	os.Exit(code)
}
