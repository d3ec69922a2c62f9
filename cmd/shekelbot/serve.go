package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nbarak/shekelbot/internal/config"
	"github.com/nbarak/shekelbot/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and HTTP event surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			ctx := cmd.Context()

			recordStore, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = recordStore.Close() }()

			ingester, err := buildIngester(cfg, recordStore)
			if err != nil {
				return err
			}
			orchestrator, _, err := buildOrchestrator(ctx, cfg, recordStore)
			if err != nil {
				return err
			}
			resolver, notifier := buildResolver(cfg, recordStore, orchestrator)
			jobRunner := buildRunner(ingester, orchestrator, resolver, notifier)

			httpServer := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           server.New(jobRunner, resolver).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errChan := make(chan error, 2)
			go func() {
				slog.Info("HTTP server listening", "addr", cfg.Server.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errChan <- err
				}
			}()
			go func() {
				errChan <- jobRunner.Schedule(ctx, cfg.Runner.ScrapeAt, cfg.Runner.ClassifyAt)
			}()

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-errChan:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP server shutdown failed", "error", err)
			}

			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			return nil
		},
	}
}
