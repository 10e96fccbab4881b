package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/use-agent/seibro/api"
	"github.com/use-agent/seibro/api/handler"
	"github.com/use-agent/seibro/browser"
	"github.com/use-agent/seibro/logging"
)

func newServeCmd(gf *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(gf, port)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "Listen port; defaults to SEIBRO_PORT")
	return cmd
}

func serve(gf *globalFlags, port int) error {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := loadConfig(gf)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	// ── 2. Initialise structured logging ────────────────────────────
	logging.Init(cfg.Log)
	slog.Info("seibro starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"workers", cfg.Orchestrator.Concurrency,
		"maxRuns", cfg.Server.MaxRuns,
	)
	if cfg.Auth.Enabled && len(cfg.Auth.APIKeys) == 0 {
		slog.Warn("auth enabled without SEIBRO_API_KEYS; API is open")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── 3. Runner and router ────────────────────────────────────────
	runner := handler.NewRunner(ctx, cfg, browser.NewFactory(cfg.Browser, cfg.Selectors))
	router := api.NewRouter(ctx, runner, cfg, time.Now())

	// ── 4. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── 5. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Running scrapes own browsers; stop them before exiting.
	runner.StopAll(shutdownCtx)
	slog.Info("seibro stopped")
	return nil
}
