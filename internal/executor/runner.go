package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// DefaultInterval is the pause between scan cycles.
const DefaultInterval = 10 * time.Second

// Runner drives the polling loop over every configured pair. Pairs are
// scanned in order and the first opportunity of a cycle is executed; in
// dry-run mode it is only logged.
type Runner struct {
	executors []*Executor
	interval  time.Duration
	dryRun    bool
	logger    *slog.Logger
}

// NewRunner creates a Runner over executors.
func NewRunner(executors []*Executor, interval time.Duration, dryRun bool, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		executors: executors,
		interval:  interval,
		dryRun:    dryRun,
		logger:    logger.With(slog.String("component", "runner")),
	}
}

// Executors returns the pairs driven by the runner.
func (r *Runner) Executors() []*Executor { return r.executors }

// DryRun reports whether opportunities are only logged.
func (r *Runner) DryRun() bool { return r.dryRun }

// Run loops until ctx is cancelled. Cancellation is observed only between
// cycles; a cycle in progress always completes.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting loop",
		slog.Duration("interval", r.interval),
		slog.Int("pairs", len(r.executors)),
		slog.Bool("dry_run", r.dryRun),
	)
	defer r.logger.Info("runner stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.RunOnce(context.WithoutCancel(ctx)); err != nil {
			r.logger.ErrorContext(ctx, "loop error", slog.String("error", err.Error()))
		}

		t := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RunOnce performs a single cycle. It returns the execution result, or nil
// when nothing was executed (no opportunity, or dry run). Pairs with an
// execution still in flight are not scanned; Execute's guard rejects any
// execution that slips past this check.
func (r *Runner) RunOnce(ctx context.Context) (*domain.ExecutionResult, error) {
	for _, ex := range r.executors {
		if ex.Guard().Executing() {
			r.logger.InfoContext(ctx, "skipping pair: execution in flight",
				slog.String("pair", ex.Pair()))
			continue
		}
		opp, err := ex.Scan(ctx)
		if err != nil {
			return nil, err
		}
		if opp == nil {
			continue
		}
		if r.dryRun {
			r.logger.InfoContext(ctx, "dry-run: would execute trade",
				slog.String("pair", ex.Pair()),
				slog.String("direction", string(opp.Direction)),
			)
			return nil, nil
		}
		res := ex.Execute(ctx, *opp)
		r.logger.InfoContext(ctx, "execution result",
			slog.String("pair", ex.Pair()),
			slog.Bool("success", res.Success),
		)
		return &res, nil
	}
	return nil, nil
}
