package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/soarkit/pkg/mcp"
)

func newServeCmd(cfg func() Config) *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio with the scheduler and /metrics endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg(), !noScheduler)
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run scheduled event batches")
	return cmd
}

func serve(ctx context.Context, cfg Config, withScheduler bool) error {
	// stdout carries the MCP protocol; logs go to stderr.
	a, err := openApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	swapper := newHandlerSwapper(startingMux())
	var httpSrv *http.Server
	if cfg.MetricsAddr != "" {
		httpSrv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           swapper,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics listener failed", slog.String("addr", cfg.MetricsAddr), slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	if withScheduler {
		if err := a.scheduler.RecoverMissed(ctx); err != nil {
			a.logger.Warn("recover missed schedules", slog.String("error", err.Error()))
		}
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
		defer a.scheduler.Stop()
	}

	srv := mcp.NewSoarkitServer(mcp.SoarkitServerDeps{
		Events:      a.events,
		Interaction: a.interaction,
		Resolver:    a.resolver,
		Engine:      a.engine,
		Validator:   a.validator,
		Filter:      a.filter,
		Scheduler:   a.scheduler,
		Blobs:       a.blobs,
		Store:       a.store,
		Logger:      a.logger,
	})
	swapper.Swap(readyMux(a.metrics.Handler()))

	a.logger.Info("soarkit serving",
		slog.String("version", version),
		slog.String("db", cfg.DBPath),
		slog.String("metrics_addr", cfg.MetricsAddr),
		slog.Bool("scheduler", withScheduler),
	)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
