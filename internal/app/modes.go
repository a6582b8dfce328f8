package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/stratoarb/internal/amm"
)

const shutdownTimeout = 10 * time.Second

// RunMode ensures approvals, then runs the arbitrage loop and, when enabled,
// the status server. With Once set it performs a single cycle and returns.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode",
		slog.Int("pairs", len(deps.Executors)),
		slog.Bool("dry_run", a.cfg.Execution.DryRun),
	)

	if a.cfg.Execution.EnsureApprovals && !a.cfg.Execution.DryRun {
		for _, p := range deps.Pools {
			if err := p.EnsureApprovals(ctx, a.cfg.Execution.ConfirmTimeout.Duration); err != nil {
				return fmt.Errorf("run mode: approvals for %s: %w", p.Address().Hex(), err)
			}
		}
	}

	if a.opts.Once {
		res, err := deps.Runner.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("run mode: %w", err)
		}
		if res != nil && !res.Success && !res.Busy {
			return fmt.Errorf("run mode: execution on %s failed: %s", res.Pair, res.Cause())
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Runner.Run(gctx)
	})
	a.startServer(gctx, g, deps)
	a.startArchiver(gctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// ScanMode scans every pair once and logs what it finds. It never trades.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan", slog.Int("pairs", len(deps.Executors)))

	found := 0
	for _, ex := range deps.Executors {
		opp, err := ex.Scan(ctx)
		if err != nil {
			return fmt.Errorf("scan mode: %s: %w", ex.Pair(), err)
		}
		if opp == nil {
			a.logger.InfoContext(ctx, "no opportunity", slog.String("pair", ex.Pair()))
			continue
		}
		found++
		a.logger.InfoContext(ctx, "opportunity",
			slog.String("pair", ex.Pair()),
			slog.String("direction", string(opp.Direction)),
			slog.String("amount_in", amm.Format(opp.OptimalInput)),
			slog.String("expected_out", amm.Format(opp.ExpectedOutput)),
			slog.String("estimated_profit", amm.Format(opp.EstimatedProfit)),
		)
	}
	a.logger.InfoContext(ctx, "scan complete", slog.Int("opportunities", found))
	return nil
}

// ServerMode serves the status API without trading. It is meant to run
// beside trading instances that share the same Redis bus and profit file.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	if deps.Server == nil {
		return errors.New("server mode: server not wired")
	}
	a.logger.InfoContext(ctx, "starting server mode", slog.Int("port", a.cfg.Server.Port))

	g, gctx := errgroup.WithContext(ctx)
	a.startServer(gctx, g, deps)
	a.startArchiver(gctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// startServer adds the HTTP server and WebSocket hub to g. The server is
// shut down when ctx is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Server == nil {
		return
	}
	g.Go(func() error {
		return deps.Hub.Run(ctx)
	})
	g.Go(func() error {
		return deps.Server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return deps.Server.Shutdown(shutdownCtx)
	})
}

// startArchiver adds the periodic S3 export to g when it is configured.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration)
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
