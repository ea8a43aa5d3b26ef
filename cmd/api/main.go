// Package main is the entry point of the fluency and certificate API.
//
// It serves learner fluency levels on the CEFR ladder (A1..C1), lets teachers
// move learners one step at a time, records every change in an append-only
// history and issues numbered certificates on upgrades.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mauroLambrecht2/dutch-learning-app-sub002/config"
	"github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/bootstrap"
	httpserver "github.com/mauroLambrecht2/dutch-learning-app-sub002/internal/interface/http"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := bootstrap.NewSlog(cfg, os.Stdout)
	appLog := bootstrap.NewLogger(cfg, os.Stdout)
	defer appLog.Sync()

	log.Info("starting fluency API",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"store", cfg.Store.Backend,
		"auth", cfg.Auth.Provider,
		"timezone", cfg.App.Location.String(),
	)
	for _, f := range cfg.Features.All() {
		log.Debug("feature flag", "name", f.Name, "enabled", f.Enabled, "rollout", f.RolloutPercent)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. WIRING
	// ─────────────────────────────────────────────────────────────────────────
	app, err := bootstrap.New(ctx, cfg, appLog, log, bootstrap.Options{})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		log.Info("releasing resources...")
		if err := app.Close(); err != nil {
			log.Error("failed to release resources", "error", err)
		}
	}()

	server := httpserver.NewServer(app.HTTPConfig(), app.HTTPDependencies())

	// ─────────────────────────────────────────────────────────────────────────
	// 3. RUN UNTIL SIGNALLED
	// ─────────────────────────────────────────────────────────────────────────
	errCh := server.StartAsync()
	log.Info("fluency API is running", "addr", cfg.HTTP.Addr())

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-errCh:
		if ok && err != nil {
			log.Error("http server failed", "error", err)
			return err
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}
