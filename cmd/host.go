package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tanq16/mydm/internal/protocol"
	"github.com/tanq16/mydm/internal/scheduler"
	"github.com/tanq16/mydm/internal/utils"
)

const shutdownGrace = 10 * time.Second

// runHost serves the browser over stdin/stdout until the browser closes the
// channel or the process is signalled. stdout carries only frames.
func runHost(parent context.Context, args []string) error {
	log := utils.GetLogger("cmd/host")
	log.Info().Strs("args", args).Str("version", MyDMVersion).Msg("Host started")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := utils.NewMyDMHTTPClient(cfg.HTTPClientConfig())
	defer client.CloseIdleConnections()
	sender := protocol.NewSender(os.Stdout)
	engine := scheduler.NewEngine(client, scheduler.NewPool(cfg.MaxWorkers), sender, cfg.EngineOptions())
	host := protocol.NewHost(os.Stdin, sender, engine, cfg.MaxFrameSize)

	runErr := host.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		log.Info().Msg("Signal received, shutting down")
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Jobs did not stop within the grace period")
	}
	log.Info().Msg("Host stopped")
	return runErr
}
