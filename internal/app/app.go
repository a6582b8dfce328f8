// Package app provides the top-level application lifecycle for the arbitrage
// bot. It wires the node client, price oracle, pools, executors and the
// optional Redis, Postgres and status server components, then runs the
// goroutines of the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/stratoarb/internal/config"
)

// Options are per-invocation switches that are not part of the config file.
type Options struct {
	// Once runs a single cycle in run mode and exits.
	Once bool
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, selects the operating mode and blocks until the
// mode finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Bool("dry_run", a.cfg.Execution.DryRun),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, mode != "server", a.logger)
	a.closers = append(a.closers, cleanup)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}

	switch mode {
	case "run":
		return a.RunMode(ctx, deps)
	case "scan":
		return a.ScanMode(ctx, deps)
	case "server":
		return a.ServerMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
