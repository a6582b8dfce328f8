// Package executor scans one AMM pair against the oracle, prices the best
// trade and executes it under a per-pair guard.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stratoarb/internal/amm"
	"github.com/alanyoungcy/stratoarb/internal/domain"
	"github.com/alanyoungcy/stratoarb/internal/ledger"
	"github.com/alanyoungcy/stratoarb/internal/metrics"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultSlippageBps    int64 = 400
	DefaultSwapDeadline         = 60 * time.Second
	DefaultConfirmTimeout       = 120 * time.Second
	DefaultLedgerTimeout        = 30 * time.Second
)

// ProfitRecorder persists realised profit. It is satisfied by *ledger.Ledger.
type ProfitRecorder interface {
	Record(ctx context.Context, profitQuoteWei, quoteUSDPriceWei *big.Int) (ledger.Record, error)
}

// EventPublisher fans execution results out to notification channels.
type EventPublisher interface {
	PublishExecution(ctx context.Context, res domain.ExecutionResult)
}

// Config is the per-pair trading configuration.
type Config struct {
	// Pair is a display name such as "ETHST/USDST".
	Pair string
	// ExternalSymbol and QuoteSymbol are the oracle symbols of token A and
	// token B. An empty value falls back to the token name in the snapshot.
	ExternalSymbol string
	QuoteSymbol    string
	FeeBps         int64
	MinProfit      *big.Int // token B, wei
	SlippageBps    int64
	SwapDeadline   time.Duration
	ConfirmTimeout time.Duration
	// LeaseTTL bounds how long a cross-process pair lease may be held.
	LeaseTTL time.Duration
	// LedgerTimeout bounds the profit file update after a settled swap.
	LedgerTimeout time.Duration
	BaseToken     common.Address
}

// Deps are the collaborators of one Executor. Lease, Events and Metrics are
// optional.
type Deps struct {
	Pool    domain.PoolSource
	Prices  domain.PriceSource
	Gas     domain.GasSource
	Costs   domain.CostBasisSource
	Swaps   domain.SwapSubmitter
	Ledger  ProfitRecorder
	Lease   domain.LockManager
	Events  EventPublisher
	Metrics *metrics.Metrics
}

// Executor owns the arbitrage loop body for a single pair.
type Executor struct {
	cfg    Config
	deps   Deps
	guard  *Guard
	gas    GasAdjuster
	loss   LossGuard
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu     sync.Mutex
	status PairStatus
}

// New creates an Executor for one pair.
func New(cfg Config, deps Deps, logger *slog.Logger) *Executor {
	if cfg.SlippageBps == 0 {
		cfg.SlippageBps = DefaultSlippageBps
	}
	if cfg.SwapDeadline == 0 {
		cfg.SwapDeadline = DefaultSwapDeadline
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.LeaseTTL == 0 {
		cfg.LeaseTTL = cfg.SwapDeadline + cfg.ConfirmTimeout
	}
	if cfg.LedgerTimeout == 0 {
		cfg.LedgerTimeout = DefaultLedgerTimeout
	}
	if cfg.MinProfit == nil {
		cfg.MinProfit = new(big.Int)
	}
	return &Executor{
		cfg:    cfg,
		deps:   deps,
		guard:  NewGuard(),
		gas:    GasAdjuster{BaseToken: cfg.BaseToken},
		logger: logger.With(slog.String("component", "executor"), slog.String("pair", cfg.Pair)),
		now:    time.Now,
		newID:  uuid.NewString,
		status: PairStatus{Pair: cfg.Pair},
	}
}

// Pair returns the configured display name.
func (e *Executor) Pair() string { return e.cfg.Pair }

// Guard exposes the pair's execution guard.
func (e *Executor) Guard() *Guard { return e.guard }

func (e *Executor) checkDeps() error {
	d := e.deps
	if d.Pool == nil || d.Prices == nil || d.Gas == nil || d.Costs == nil || d.Swaps == nil || d.Ledger == nil {
		return errors.New("executor: missing collaborator")
	}
	return nil
}

// Scan refreshes the pool and oracle prices and looks for a profitable
// trade. Collaborator failures and missing opportunities both return
// (nil, nil) after logging the reason; an error means the Executor itself is
// misconfigured.
func (e *Executor) Scan(ctx context.Context) (*domain.Opportunity, error) {
	if err := e.checkDeps(); err != nil {
		return nil, err
	}
	opp, outcome := e.scan(ctx)
	e.deps.Metrics.ScanOutcome(e.cfg.Pair, outcome)
	e.mu.Lock()
	e.status.LastScan = e.now()
	e.status.LastOutcome = outcome
	e.mu.Unlock()
	return opp, nil
}

func (e *Executor) scan(ctx context.Context) (*domain.Opportunity, string) {
	log := e.logger

	snap, err := e.deps.Pool.Refresh(ctx)
	if err != nil {
		log.WarnContext(ctx, "pool refresh failed", slog.String("error", err.Error()))
		return nil, "pool_error"
	}
	if !positive(snap.ReserveA) || !positive(snap.ReserveB) {
		log.WarnContext(ctx, "no arbitrage opportunity: invalid reserves",
			slog.String("reserve_a", str(snap.ReserveA)),
			slog.String("reserve_b", str(snap.ReserveB)),
		)
		return nil, string(amm.RejectInvalidInput)
	}

	symA, symB := e.symbols(snap)
	prices, err := e.deps.Prices.FetchPrices(ctx, []string{symA, symB}, true)
	if err != nil {
		log.ErrorContext(ctx, "failed to get oracle prices", slog.String("error", err.Error()))
		return nil, "oracle_error"
	}
	priceA, priceB := prices[symA], prices[symB]
	if !positive(priceA) || !positive(priceB) {
		log.WarnContext(ctx, "no arbitrage opportunity: invalid oracle prices",
			slog.String(symA, str(priceA)),
			slog.String(symB, str(priceB)),
		)
		return nil, "oracle_error"
	}
	oracle := amm.MulDiv(priceA, amm.WeiScale, priceB)
	if oracle.Sign() <= 0 {
		log.WarnContext(ctx, "no arbitrage opportunity: invalid oracle price ratio",
			slog.String("oracle_price", oracle.String()))
		return nil, string(amm.RejectInvalidInput)
	}

	poolPrice := amm.PoolPrice(snap.ReserveA, snap.ReserveB)
	divergence := decimal.NewFromBigInt(amm.DivergenceBps(poolPrice, oracle), -2)
	log.InfoContext(ctx, "prices",
		slog.String("pool_price", amm.Format(poolPrice)),
		slog.String("oracle_price", amm.Format(oracle)),
		slog.String("divergence_pct", divergence.StringFixed(2)),
		slog.String("unit", snap.TokenB.Symbol+" per "+snap.TokenA.Symbol),
	)
	e.deps.Metrics.Prices(e.cfg.Pair, poolPrice, oracle)

	e.mu.Lock()
	e.status.Pool = snap.Address.Hex()
	e.status.PoolPrice = amm.Format(poolPrice)
	e.status.OraclePrice = amm.Format(oracle)
	e.status.DivergencePct = divergence.StringFixed(2)
	e.mu.Unlock()

	base, voucher, err := e.deps.Gas.GasBalances(ctx)
	if err != nil {
		log.WarnContext(ctx, "gas balance check failed", slog.String("error", err.Error()))
		return nil, "gas_error"
	}
	if !e.gas.HasGas(base, voucher) {
		log.WarnContext(ctx, "insufficient gas",
			slog.String("base_balance", amm.Format(base)),
			slog.String("voucher_balance", amm.Format(voucher)),
		)
	}

	trade, rej := amm.FindOptimalTrade(amm.TradeInput{
		ReserveX:      snap.ReserveA,
		ReserveY:      snap.ReserveB,
		OraclePriceXY: oracle,
		BalanceX:      e.gas.Spendable(snap.TokenA.Address, snap.TokenA.Balance, base, voucher),
		BalanceY:      e.gas.Spendable(snap.TokenB.Address, snap.TokenB.Balance, base, voucher),
		FeeBps:        e.cfg.FeeBps,
		MinProfit:     e.cfg.MinProfit,
	})
	if rej != nil {
		log.InfoContext(ctx, "no arbitrage opportunity found",
			slog.String("reason", string(rej.Reason)),
			slog.String("detail", rej.Detail),
		)
		e.deps.Metrics.Rejected(e.cfg.Pair, string(rej.Reason))
		return nil, string(rej.Reason)
	}

	opp := &domain.Opportunity{
		Direction:       trade.Side.Direction(),
		OptimalInput:    trade.AmountIn,
		ExpectedOutput:  trade.ExpectedOut,
		EstimatedProfit: trade.Profit,
		Pool:            snap.Address,
		TokenIn:         snap.TokenB.Address,
		QuoteUSDPrice:   new(big.Int).Set(priceB),
	}
	symIn, symOut := snap.TokenB.Symbol, snap.TokenA.Symbol
	if opp.Direction == domain.DirectionSell {
		opp.TokenIn = snap.TokenA.Address
		symIn, symOut = symOut, symIn
	}
	log.InfoContext(ctx, "opportunity found",
		slog.String("direction", string(opp.Direction)),
		slog.String("side", string(trade.Side)),
		slog.String("input", amm.Format(opp.OptimalInput)+" "+symIn),
		slog.String("output", amm.Format(opp.ExpectedOutput)+" "+symOut),
		slog.String("profit", amm.Format(opp.EstimatedProfit)+" "+snap.TokenB.Symbol),
	)

	if opp.Direction == domain.DirectionSell {
		avgCost, err := e.deps.Costs.AverageCost(ctx, snap.TokenA.Address)
		if err != nil {
			log.WarnContext(ctx, "cost basis unavailable", slog.String("error", err.Error()))
			return nil, "cost_basis_error"
		}
		if !e.loss.Allow(*opp, avgCost) {
			log.WarnContext(ctx, "sell blocked: would realise a loss",
				slog.String("sell_price", amm.Format(SellPrice(*opp))),
				slog.String("avg_cost", amm.Format(avgCost)),
			)
			return nil, "loss_blocked"
		}
	}

	e.deps.Metrics.Found(e.cfg.Pair, string(opp.Direction))
	return opp, "opportunity"
}

// Execute submits opp as a single swap and waits for its terminal status.
// It returns exactly one result per call and never panics on collaborator
// failure. A concurrent call for the same pair returns a Busy result.
func (e *Executor) Execute(ctx context.Context, opp domain.Opportunity) domain.ExecutionResult {
	res := domain.ExecutionResult{
		ID:          e.newID(),
		Pair:        e.cfg.Pair,
		Opportunity: opp,
		StartedAt:   e.now(),
	}
	if err := e.checkDeps(); err != nil {
		res.Err = err
		return res
	}

	release, ok := e.guard.TryEnter()
	if !ok {
		res.Busy = true
		res.Err = domain.ErrBusy
		e.logger.WarnContext(ctx, "execution skipped", slog.String("error", res.Err.Error()))
		e.deps.Metrics.Executed(e.cfg.Pair, "busy", 0)
		return res
	}
	defer release()

	// Once a swap is in flight, shutdown must not abandon it.
	ctx = context.WithoutCancel(ctx)

	if e.deps.Lease != nil {
		unlock, err := e.deps.Lease.Acquire(ctx, "pair:"+e.cfg.Pair, e.cfg.LeaseTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				res.Busy = true
				res.Err = fmt.Errorf("%w: pair leased by another instance", domain.ErrBusy)
			} else {
				res.Err = fmt.Errorf("executor: acquire pair lease: %w", err)
			}
			e.finish(ctx, &res)
			return res
		}
		defer unlock()
	}

	e.execute(ctx, opp, &res)
	e.finish(ctx, &res)
	return res
}

func (e *Executor) execute(ctx context.Context, opp domain.Opportunity, res *domain.ExecutionResult) {
	if !positive(opp.OptimalInput) || !positive(opp.ExpectedOutput) ||
		opp.Pool == (common.Address{}) || opp.TokenIn == (common.Address{}) {
		res.Err = fmt.Errorf("%w: invalid opportunity", domain.ErrSubmitFailed)
		return
	}

	minOut := amm.MulDiv(opp.ExpectedOutput, big.NewInt(amm.BpsDenom-e.cfg.SlippageBps), big.NewInt(amm.BpsDenom))
	req := domain.SwapRequest{
		Pool:         opp.Pool,
		Direction:    opp.Direction,
		TokenIn:      opp.TokenIn,
		AmountIn:     opp.OptimalInput,
		MinAmountOut: minOut,
		Deadline:     e.now().Add(e.cfg.SwapDeadline),
	}

	e.logger.InfoContext(ctx, "submitting swap",
		slog.String("execution_id", res.ID),
		slog.String("direction", string(opp.Direction)),
		slog.String("amount_in", opp.OptimalInput.String()),
		slog.String("min_amount_out", minOut.String()),
	)
	txID, err := e.deps.Swaps.SubmitSwap(ctx, req)
	if err != nil {
		if !errors.Is(err, domain.ErrSubmitFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrSubmitFailed, err)
		}
		res.Err = err
		return
	}
	res.Transactions = append(res.Transactions, domain.TxRecord{
		Type:      "swap",
		Hash:      txID,
		Timestamp: e.now(),
	})

	conf, err := e.deps.Swaps.WaitForConfirmation(ctx, txID, e.cfg.ConfirmTimeout)
	if err != nil {
		if !errors.Is(err, domain.ErrTxTimeout) && !errors.Is(err, domain.ErrTxFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrTxTimeout, err)
		}
		res.Err = err
		return
	}
	if conf.Status != domain.TxStatusSuccess {
		res.Err = fmt.Errorf("%w: %s: %s", domain.ErrTxFailed, txID, conf.Detail)
		return
	}
	res.Success = true

	if !positive(opp.QuoteUSDPrice) {
		e.logger.ErrorContext(ctx, "profit not recorded: no quote token price",
			slog.String("execution_id", res.ID))
		return
	}
	lctx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	defer cancel()
	rec, err := e.deps.Ledger.Record(lctx, opp.EstimatedProfit, opp.QuoteUSDPrice)
	if err != nil {
		// The swap has settled; the ledger is reporting only.
		e.logger.ErrorContext(ctx, "failed to update cumulative profit",
			slog.String("execution_id", res.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	res.ActualProfit = amm.MulDiv(opp.EstimatedProfit, opp.QuoteUSDPrice, amm.WeiScale)
	e.deps.Metrics.Profit(rec.CumulativeProfitWei)
}

func (e *Executor) finish(ctx context.Context, res *domain.ExecutionResult) {
	res.Duration = e.now().Sub(res.StartedAt)

	status := "success"
	switch {
	case res.Busy:
		status = "busy"
	case !res.Success:
		status = "failure"
	}
	e.deps.Metrics.Executed(e.cfg.Pair, status, res.Duration)

	attrs := []any{
		slog.String("execution_id", res.ID),
		slog.String("status", status),
		slog.Duration("duration", res.Duration),
		slog.Int("transactions", len(res.Transactions)),
	}
	if res.Success {
		e.logger.InfoContext(ctx, "execution finished", attrs...)
	} else {
		e.logger.ErrorContext(ctx, "arbitrage execution failed", append(attrs, slog.String("error", res.Cause()))...)
	}

	e.mu.Lock()
	ev := res.Event()
	e.status.LastResult = &ev
	e.mu.Unlock()

	if e.deps.Events != nil {
		e.deps.Events.PublishExecution(ctx, *res)
	}
}

func (e *Executor) symbols(snap domain.PoolSnapshot) (string, string) {
	a, b := e.cfg.ExternalSymbol, e.cfg.QuoteSymbol
	if a == "" {
		a = snap.TokenA.Name
	}
	if b == "" {
		b = snap.TokenB.Name
	}
	return a, b
}

func positive(x *big.Int) bool { return x != nil && x.Sign() > 0 }

func str(x *big.Int) string {
	if x == nil {
		return "<nil>"
	}
	return x.String()
}
