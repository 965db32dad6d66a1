package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tanq16/mydm/internal/output"
	"github.com/tanq16/mydm/internal/scheduler"
	"github.com/tanq16/mydm/internal/types"
	"github.com/tanq16/mydm/internal/utils"
)

func newGetCmd() *cobra.Command {
	var referer string

	cmd := &cobra.Command{
		Use:   "get [URL]... [--referer REFERER]",
		Short: "Download one or more URLs from the terminal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := make([]types.DownloadEntry, 0, len(args))
			for _, link := range args {
				entries = append(entries, types.DownloadEntry{URL: link, Referer: referer})
			}
			return runDownloads(cmd.Context(), entries)
		},
	}

	cmd.Flags().StringVarP(&referer, "referer", "r", "", "Referer header sent with every request")
	return cmd
}

// runDownloads drives the engine with a terminal display instead of the
// browser channel and waits for every job to end.
func runDownloads(parent context.Context, entries []types.DownloadEntry) error {
	log := utils.GetLogger("cmd/get")
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := utils.NewMyDMHTTPClient(cfg.HTTPClientConfig())
	defer client.CloseIdleConnections()
	manager := output.NewManager(os.Stdout)
	engine := scheduler.NewEngine(client, scheduler.NewPool(cfg.MaxWorkers), manager, cfg.EngineOptions())

	manager.StartDisplay()
	for _, entry := range entries {
		id, err := engine.Download(entry.URL, entry.Referer)
		if err != nil {
			manager.Emit(types.NewError("", fmt.Errorf("%s: %w", entry.URL, err)))
			continue
		}
		manager.Label(id, entry.URL)
		log.Debug().Str("job", id).Str("url", entry.URL).Msg("Download queued")
	}

	done := make(chan struct{})
	go func() {
		engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Info().Msg("Interrupted, cancelling downloads")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := engine.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Jobs did not stop within the grace period")
		}
	}
	manager.StopDisplay()

	if manager.Failed() > 0 {
		return errors.New("encountered failed download(s)")
	}
	return nil
}
