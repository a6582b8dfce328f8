package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/alanyoungcy/stratoarb/internal/domain"
	"github.com/alanyoungcy/stratoarb/internal/ledger"
)

// ExecutionSource lists journaled executions by start time.
type ExecutionSource interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.ExecutionEvent, error)
}

// ProfitSource reads the persisted profit total.
type ProfitSource interface {
	Load(ctx context.Context) (ledger.Record, error)
}

// Archiver exports the execution journal as one JSONL object per calendar
// month and writes a daily snapshot of the profit ledger:
//
//	{prefix}/executions/2025-01.jsonl
//	{prefix}/profit/2025-01-31.json
//
// The current month and day are rewritten on every pass, so objects grow
// until the period closes.
type Archiver struct {
	store  domain.BlobStore
	execs  ExecutionSource
	profit ProfitSource
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver. profit may be nil to skip snapshots.
func NewArchiver(store domain.BlobStore, execs ExecutionSource, profit ProfitSource, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		store:  store,
		execs:  execs,
		profit: profit,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
		now:    time.Now,
	}
}

// ArchiveMonth uploads every execution started in the UTC calendar month
// containing month. It returns the number of records written; an empty
// month uploads nothing.
func (a *Archiver) ArchiveMonth(ctx context.Context, month time.Time) (int, error) {
	from := monthStart(month)
	events, err := a.execs.ListBetween(ctx, from, from.AddDate(0, 1, 0))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}
	key := a.executionsPath(from)
	if err := a.store.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}
	return len(events), nil
}

type profitSnapshot struct {
	TakenAt             time.Time `json:"taken_at"`
	CumulativeProfitWei string    `json:"cumulative_profit_wei"`
	CumulativeProfitUSD string    `json:"cumulative_profit_usd"`
}

// SnapshotProfit writes the current ledger total under today's date and
// returns the object key.
func (a *Archiver) SnapshotProfit(ctx context.Context) (string, error) {
	rec, err := a.profit.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot profit: %w", err)
	}
	now := a.now().UTC()
	snap := profitSnapshot{
		TakenAt:             now,
		CumulativeProfitWei: "0",
		CumulativeProfitUSD: rec.CumulativeProfitUSD.StringFixed(6),
	}
	if rec.CumulativeProfitWei != nil {
		snap.CumulativeProfitWei = rec.CumulativeProfitWei.String()
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("s3blob: snapshot profit marshal: %w", err)
	}
	key := path.Join(a.prefix, "profit", now.Format("2006-01-02")+".json")
	if err := a.store.Put(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: snapshot profit upload: %w", err)
	}
	return key, nil
}

// RunOnce archives the previous month if it was never uploaded, refreshes
// the current month and writes a profit snapshot. Every step runs; their
// errors are joined.
func (a *Archiver) RunOnce(ctx context.Context) error {
	now := a.now().UTC()
	var errs []error

	prev := monthStart(now).AddDate(0, -1, 0)
	exists, err := a.store.Exists(ctx, a.executionsPath(prev))
	switch {
	case err != nil:
		errs = append(errs, err)
	case !exists:
		if n, err := a.ArchiveMonth(ctx, prev); err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			a.logger.InfoContext(ctx, "archived closed month",
				slog.String("month", prev.Format("2006-01")), slog.Int("records", n))
		}
	}

	if n, err := a.ArchiveMonth(ctx, now); err != nil {
		errs = append(errs, err)
	} else {
		a.logger.DebugContext(ctx, "archived current month",
			slog.String("month", now.Format("2006-01")), slog.Int("records", n))
	}

	if a.profit != nil {
		if _, err := a.SnapshotProfit(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run calls RunOnce immediately and then every interval until ctx ends.
// Failures are logged and retried on the next tick.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	a.logger.InfoContext(ctx, "starting archiver", slog.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := a.RunOnce(ctx); err != nil {
			a.logger.WarnContext(ctx, "archive pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Archiver) executionsPath(month time.Time) string {
	return path.Join(a.prefix, "executions", month.Format("2006-01")+".jsonl")
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
