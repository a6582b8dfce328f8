package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stratoarb/internal/domain"
	"github.com/alanyoungcy/stratoarb/internal/ledger"
)

var (
	baseToken  = common.HexToAddress("937efa7e3a77e20bbdbd7c0d32b6514f368c1010")
	extToken   = common.HexToAddress("0x93fb7295859b2d70199e0a4883b7c320cf874e6c")
	poolAddr   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	errNetwork = errors.New("connection refused")
)

func wei(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1e18))
}

// milli returns n/1000 tokens in wei.
func milli(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e15))
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakePool struct {
	snap domain.PoolSnapshot
	err  error
}

func (f *fakePool) Refresh(context.Context) (domain.PoolSnapshot, error) { return f.snap, f.err }

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]*big.Int
	err    error
	forced []bool
}

func (f *fakePrices) FetchPrices(_ context.Context, _ []string, force bool) (map[string]*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forced = append(f.forced, force)
	return f.prices, f.err
}

func (f *fakePrices) forcedSnapshot() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.forced...)
}

type fakeGas struct {
	base, voucher *big.Int
	err           error
}

func (f *fakeGas) GasBalances(context.Context) (*big.Int, *big.Int, error) {
	return f.base, f.voucher, f.err
}

type fakeCosts struct {
	avg *big.Int
	err error
}

func (f *fakeCosts) AverageCost(context.Context, common.Address) (*big.Int, error) {
	return f.avg, f.err
}

type fakeSwaps struct {
	mu        sync.Mutex
	requests  []domain.SwapRequest
	submitErr error
	conf      domain.Confirmation
	confErr   error
	// entered is closed once SubmitSwap is running; release unblocks it.
	entered chan struct{}
	release chan struct{}
	ctxErrs []error
}

func (f *fakeSwaps) SubmitSwap(ctx context.Context, req domain.SwapRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	entered, release := f.entered, f.release
	f.mu.Unlock()
	if entered != nil {
		close(entered)
		<-release
	}
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "0xabc", nil
}

func (f *fakeSwaps) WaitForConfirmation(ctx context.Context, txID string, _ time.Duration) (domain.Confirmation, error) {
	if f.confErr != nil {
		return domain.Confirmation{}, f.confErr
	}
	c := f.conf
	c.Hash = txID
	if c.Status == "" {
		c.Status = domain.TxStatusSuccess
	}
	return c, nil
}

func (f *fakeSwaps) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type recordCall struct{ profit, price *big.Int }

type fakeLedger struct {
	mu    sync.Mutex
	calls []recordCall
	err   error
	// block makes Record wait for its context, like a lock held elsewhere.
	block bool
}

func (f *fakeLedger) Record(ctx context.Context, profit, price *big.Int) (ledger.Record, error) {
	if f.block {
		<-ctx.Done()
		return ledger.Record{}, ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return ledger.Record{}, f.err
	}
	f.calls = append(f.calls, recordCall{profit, price})
	return ledger.Record{CumulativeProfitWei: profit}, nil
}

type fakeLease struct {
	err      error
	acquired int
	released int
}

func (f *fakeLease) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	return func() { f.released++ }, nil
}

type fakeEvents struct {
	mu      sync.Mutex
	results []domain.ExecutionResult
}

func (f *fakeEvents) PublishExecution(_ context.Context, res domain.ExecutionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
}

type harness struct {
	pool   *fakePool
	prices *fakePrices
	gas    *fakeGas
	costs  *fakeCosts
	swaps  *fakeSwaps
	ledger *fakeLedger
	events *fakeEvents
	now    time.Time
}

// newHarness builds a pair where the pool underprices the external token by
// 5% and the account holds only the base token.
func newHarness() *harness {
	return &harness{
		pool: &fakePool{snap: domain.PoolSnapshot{
			Address:  poolAddr,
			TokenA:   domain.Token{Address: extToken, Symbol: "ETHST", Name: "ETHST", Balance: big.NewInt(0)},
			TokenB:   domain.Token{Address: baseToken, Symbol: "USDST", Name: "USDST", Balance: wei(1_000_000)},
			ReserveA: wei(1_000_000),
			ReserveB: wei(1_000_000),
		}},
		prices: &fakePrices{prices: map[string]*big.Int{
			"ETHST": milli(1050),
			"USDST": wei(1),
		}},
		gas:    &fakeGas{base: wei(1_000_000), voucher: big.NewInt(0)},
		costs:  &fakeCosts{avg: big.NewInt(0)},
		swaps:  &fakeSwaps{},
		ledger: &fakeLedger{},
		events: &fakeEvents{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// overpriced flips the pair so the pool overprices the external token and
// the account holds it.
func (h *harness) overpriced() *harness {
	h.prices.prices["ETHST"] = milli(950)
	h.pool.snap.TokenA.Balance = wei(1_000_000)
	h.pool.snap.TokenB.Balance = big.NewInt(0)
	h.gas.base = wei(1)
	return h
}

func (h *harness) executor(pair string) *Executor {
	e := New(Config{
		Pair:           pair,
		ExternalSymbol: "ETHST",
		QuoteSymbol:    "USDST",
		FeeBps:         30,
		MinProfit:      wei(1),
		BaseToken:      baseToken,
	}, Deps{
		Pool:   h.pool,
		Prices: h.prices,
		Gas:    h.gas,
		Costs:  h.costs,
		Swaps:  h.swaps,
		Ledger: h.ledger,
		Events: h.events,
	}, discard())
	e.now = func() time.Time { return h.now }
	e.newID = func() string { return "exec-1" }
	return e
}
