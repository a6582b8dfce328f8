package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// ExecutionStore journals completed execution attempts.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore. Call Client.RunMigrations
// first.
func NewExecutionStore(c *Client) *ExecutionStore {
	return &ExecutionStore{pool: c.pool}
}

// Save inserts one result. Busy results are not journaled since nothing was
// submitted; saving the same ID twice is a no-op.
func (s *ExecutionStore) Save(ctx context.Context, res domain.ExecutionResult) error {
	if res.Busy {
		return nil
	}
	ev := res.Event()
	txs, err := json.Marshal(ev.Transactions)
	if err != nil {
		return fmt.Errorf("postgres: marshal transactions: %w", err)
	}
	if ev.Transactions == nil {
		txs = []byte("[]")
	}
	var actual *string
	if ev.ActualProfitUSD != "" {
		actual = &ev.ActualProfitUSD
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO arb_executions (id, pair, direction, success, amount_in, expected_out,
			estimated_profit, actual_profit, error, transactions, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.Pair, string(ev.Direction), ev.Success,
		zeroIfEmpty(ev.AmountIn), zeroIfEmpty(ev.ExpectedOut), zeroIfEmpty(ev.EstimatedProfit), actual,
		ev.Error, txs, ev.StartedAt, ev.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert arb_execution %s: %w", ev.ID, err)
	}
	return nil
}

const selectExecutions = `
	SELECT id::text, pair, direction, success, amount_in::text, expected_out::text,
		estimated_profit::text, COALESCE(actual_profit::text, ''), error, transactions,
		started_at, duration_ms
	FROM arb_executions`

// RecentExecutions returns the latest journaled executions, newest first.
func (s *ExecutionStore) RecentExecutions(ctx context.Context, limit int) ([]domain.ExecutionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, selectExecutions+` ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arb_executions: %w", err)
	}
	return collectExecutions(rows)
}

// ListBetween returns executions started in [from, to), oldest first.
func (s *ExecutionStore) ListBetween(ctx context.Context, from, to time.Time) ([]domain.ExecutionEvent, error) {
	rows, err := s.pool.Query(ctx,
		selectExecutions+` WHERE started_at >= $1 AND started_at < $2 ORDER BY started_at`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list arb_executions between: %w", err)
	}
	return collectExecutions(rows)
}

func collectExecutions(rows pgx.Rows) ([]domain.ExecutionEvent, error) {
	defer rows.Close()

	var list []domain.ExecutionEvent
	for rows.Next() {
		var ev domain.ExecutionEvent
		var dir string
		var txs []byte
		if err := rows.Scan(&ev.ID, &ev.Pair, &dir, &ev.Success, &ev.AmountIn, &ev.ExpectedOut,
			&ev.EstimatedProfit, &ev.ActualProfitUSD, &ev.Error, &txs, &ev.StartedAt, &ev.DurationMs); err != nil {
			return nil, fmt.Errorf("postgres: scan arb_execution: %w", err)
		}
		ev.Direction = domain.Direction(dir)
		if err := json.Unmarshal(txs, &ev.Transactions); err != nil {
			return nil, fmt.Errorf("postgres: decode transactions %s: %w", ev.ID, err)
		}
		list = append(list, ev)
	}
	return list, rows.Err()
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
