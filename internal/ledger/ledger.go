// Package ledger persists the cumulative realised profit of the bot in a
// single JSON file shared by every executor and every process on the host.
//
// Each update is a read-modify-write under an exclusive flock(2) on a
// sidecar lock file. The new total is written to a temporary file, synced
// and renamed over the profit file, so a crash at any point leaves either the
// old total or the new one on disk.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sys/unix"

	"github.com/alanyoungcy/stratoarb/internal/amm"
)

// DefaultPath is used when no profit file is configured.
const DefaultPath = "profit.json"

const lockPollInterval = 10 * time.Millisecond

// rename is replaced in tests to simulate a failed commit.
var rename = os.Rename

// Record is the persisted running total, in USD at wei scale.
type Record struct {
	CumulativeProfitWei *big.Int
	CumulativeProfitUSD decimal.Decimal
}

// fileRecord is the on-disk layout. The USD value is written as a JSON
// number and ignored on read; the integer field is authoritative.
type fileRecord struct {
	CumulativeProfitWei *big.Int    `json:"cumulative_profit_wei"`
	CumulativeProfitUSD json.Number `json:"cumulative_profit_usd"`
}

// Ledger updates one profit file. Separate Ledger values may point at the
// same path.
type Ledger struct {
	path   string
	logger *slog.Logger
}

// New returns a Ledger for path, or DefaultPath when path is empty.
func New(path string, logger *slog.Logger) *Ledger {
	if path == "" {
		path = DefaultPath
	}
	return &Ledger{
		path:   path,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// Path returns the profit file location.
func (l *Ledger) Path() string { return l.path }

// Record converts profitQuoteWei to USD with quoteUSDPriceWei
// (profit·price/10^18) and adds it to the persisted total. It returns the new
// total.
func (l *Ledger) Record(ctx context.Context, profitQuoteWei, quoteUSDPriceWei *big.Int) (Record, error) {
	if profitQuoteWei == nil || quoteUSDPriceWei == nil {
		return Record{}, errors.New("ledger: record: nil amount")
	}
	profitUSD := amm.MulDiv(profitQuoteWei, quoteUSDPriceWei, amm.WeiScale)

	unlock, err := l.acquire(ctx, unix.LOCK_EX)
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	total, err := l.readTotal()
	if err != nil {
		return Record{}, fmt.Errorf("ledger: read %s: %w", l.path, err)
	}
	total.Add(total, profitUSD)
	rec := newRecord(total)

	data, err := json.MarshalIndent(fileRecord{
		CumulativeProfitWei: rec.CumulativeProfitWei,
		CumulativeProfitUSD: json.Number(rec.CumulativeProfitUSD.String()),
	}, "", "  ")
	if err != nil {
		return Record{}, fmt.Errorf("ledger: encode: %w", err)
	}
	if err := l.replace(append(data, '\n')); err != nil {
		return Record{}, err
	}

	l.logger.InfoContext(ctx, "cumulative profit updated",
		slog.String("added_usd", amm.Format(profitUSD)),
		slog.String("cumulative_usd", rec.CumulativeProfitUSD.StringFixed(6)),
		slog.String("cumulative_wei", rec.CumulativeProfitWei.String()),
	)
	return rec, nil
}

// Load returns the persisted total under a shared lock. A missing file is a
// zero total.
func (l *Ledger) Load(ctx context.Context) (Record, error) {
	if _, err := os.Stat(l.path); errors.Is(err, fs.ErrNotExist) {
		return newRecord(new(big.Int)), nil
	}
	unlock, err := l.acquire(ctx, unix.LOCK_SH)
	if err != nil {
		return Record{}, err
	}
	defer unlock()

	total, err := l.readTotal()
	if err != nil {
		return Record{}, fmt.Errorf("ledger: read %s: %w", l.path, err)
	}
	return newRecord(total), nil
}

func (l *Ledger) lockPath() string { return l.path + ".lock" }

// acquire takes how on the sidecar lock file and returns its release.
func (l *Ledger) acquire(ctx context.Context, how int) (func(), error) {
	f, err := os.OpenFile(l.lockPath(), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", l.lockPath(), err)
	}
	if err := lock(ctx, f, how); err != nil {
		f.Close()
		return nil, fmt.Errorf("ledger: lock %s: %w", l.lockPath(), err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}

// replace atomically swaps the profit file for data. The caller holds the
// exclusive lock.
func (l *Ledger) replace(data []byte) error {
	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("ledger: create temp: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("ledger: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("ledger: chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("ledger: fsync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: close %s: %w", tmp.Name(), err)
	}
	if err := rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("ledger: rename to %s: %w", l.path, err)
	}
	committed = true

	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("ledger: open dir %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("ledger: fsync dir %s: %w", dir, err)
	}
	return nil
}

func newRecord(totalWei *big.Int) Record {
	return Record{
		CumulativeProfitWei: totalWei,
		CumulativeProfitUSD: amm.ToDecimal(totalWei),
	}
}

// lock takes a flock without blocking the goroutine past ctx.
func lock(ctx context.Context, f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			return err
		}
		t := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (l *Ledger) readTotal() (*big.Int, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return new(big.Int), nil
	}
	var fr fileRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, err
	}
	if fr.CumulativeProfitWei == nil {
		return new(big.Int), nil
	}
	return fr.CumulativeProfitWei, nil
}
