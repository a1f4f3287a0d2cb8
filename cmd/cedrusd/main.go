// Command cedrusd is a minimal process wrapper around the cedrus library:
// load configuration, open a Core, and keep it running until signalled.
// spec.md §1 scopes the HTTP surface out of the core itself, so this binary
// exists mainly to prove the wiring and give operators something to run
// standalone; an embedding service links against the cedrus package
// directly instead of shelling out to this binary.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stratusmedia/cedrus"
	"github.com/stratusmedia/cedrus/internal/config"
	"github.com/stratusmedia/cedrus/internal/logger"
)

func main() {
	logger.Init(logger.DefaultConfig())
	log := logger.WithComponent("cedrusd")

	cfg := config.Load()
	log.Info("starting cedrus core", "config", cfg.Snapshot())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := cedrus.Open(ctx, cfg)
	if err != nil {
		log.Error("opening cedrus core", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	log.Info("cedrus core ready")
	<-ctx.Done()
	log.Info("shutting down")
}
