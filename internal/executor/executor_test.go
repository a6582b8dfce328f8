package executor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stratoarb/internal/amm"
	"github.com/alanyoungcy/stratoarb/internal/domain"
)

func TestScanFindsBuyWhenPoolUnderprices(t *testing.T) {
	h := newHarness()
	opp, err := h.executor("ETHST/USDST").Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if opp == nil {
		t.Fatal("expected an opportunity")
	}
	if opp.Direction != domain.DirectionBuy {
		t.Fatalf("direction = %s, want buy", opp.Direction)
	}
	if opp.EstimatedProfit.Cmp(wei(1)) < 0 {
		t.Fatalf("profit %s below min", amm.Format(opp.EstimatedProfit))
	}
	if len(h.prices.forced) != 1 || !h.prices.forced[0] {
		t.Fatalf("prices fetched with force=%v, want a single forced refresh", h.prices.forced)
	}
}

func TestScanDowngradesCollaboratorFailures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*harness)
	}{
		{"pool refresh", func(h *harness) { h.pool.err = errNetwork }},
		{"oracle", func(h *harness) { h.prices.err = errNetwork }},
		{"missing price", func(h *harness) { delete(h.prices.prices, "USDST") }},
		{"zero reserves", func(h *harness) { h.pool.snap.ReserveA = big.NewInt(0) }},
		{"gas balances", func(h *harness) { h.gas.err = errNetwork }},
		{"no gas", func(h *harness) { h.gas.base = big.NewInt(0) }},
		{"cost basis", func(h *harness) { h.overpriced(); h.costs.err = errNetwork }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			tc.setup(h)
			opp, err := h.executor("p").Scan(context.Background())
			if err != nil {
				t.Fatalf("Scan returned error %v, want nil", err)
			}
			if opp != nil {
				t.Fatalf("Scan = %+v, want nil", opp)
			}
		})
	}
}

func TestScanMissingCollaboratorIsAnError(t *testing.T) {
	e := New(Config{Pair: "p"}, Deps{}, discard())
	if _, err := e.Scan(context.Background()); err == nil {
		t.Fatal("expected error for unconfigured executor")
	}
}

func TestScanLossGuardBlocksLosingSell(t *testing.T) {
	h := newHarness().overpriced()
	h.costs.avg = milli(1200)

	opp, err := h.executor("p").Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if opp != nil {
		t.Fatalf("sell below cost basis should be blocked, got %+v", opp)
	}

	h.costs.avg = milli(500)
	opp, _ = h.executor("p").Scan(context.Background())
	if opp == nil || opp.Direction != domain.DirectionSell {
		t.Fatalf("sell above cost basis should pass, got %+v", opp)
	}
}

func TestExecuteSuccessRecordsProfit(t *testing.T) {
	h := newHarness()
	e := h.executor("ETHST/USDST")
	ctx := context.Background()
	opp, _ := e.Scan(ctx)
	if opp == nil {
		t.Fatal("expected an opportunity")
	}

	res := e.Execute(ctx, *opp)
	if !res.Success || res.Err != nil {
		t.Fatalf("Execute = %+v", res)
	}
	if len(res.Transactions) != 1 || res.Transactions[0].Hash != "0xabc" {
		t.Fatalf("transactions = %+v", res.Transactions)
	}

	req := h.swaps.requests[0]
	wantMin := new(big.Int).Mul(opp.ExpectedOutput, big.NewInt(9600))
	wantMin.Div(wantMin, big.NewInt(10000))
	if req.MinAmountOut.Cmp(wantMin) != 0 {
		t.Fatalf("min out = %s, want %s", req.MinAmountOut, wantMin)
	}
	if !req.Deadline.Equal(h.now.Add(60 * time.Second)) {
		t.Fatalf("deadline = %v", req.Deadline)
	}
	if req.TokenIn != baseToken || req.Pool != poolAddr || req.Direction != domain.DirectionBuy {
		t.Fatalf("request = %+v", req)
	}

	if len(h.ledger.calls) != 1 {
		t.Fatalf("ledger calls = %d, want 1", len(h.ledger.calls))
	}
	call := h.ledger.calls[0]
	if call.profit.Cmp(opp.EstimatedProfit) != 0 || call.price.Cmp(wei(1)) != 0 {
		t.Fatalf("ledger call = %+v", call)
	}
	if res.ActualProfit.Cmp(opp.EstimatedProfit) != 0 {
		t.Fatalf("actual profit = %s", res.ActualProfit)
	}
	if e.Guard().Executing() {
		t.Fatal("guard not released")
	}
	if len(h.events.results) != 1 || !h.events.results[0].Success {
		t.Fatalf("events = %+v", h.events.results)
	}
}

func TestExecuteFailures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*harness)
		want  error
	}{
		{"submit", func(h *harness) { h.swaps.submitErr = errNetwork }, domain.ErrSubmitFailed},
		{"reverted", func(h *harness) {
			h.swaps.conf = domain.Confirmation{Status: domain.TxStatusFailure, Detail: "slippage"}
		}, domain.ErrTxFailed},
		{"timeout", func(h *harness) { h.swaps.confErr = context.DeadlineExceeded }, domain.ErrTxTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			tc.setup(h)
			e := h.executor("p")
			opp, _ := e.Scan(context.Background())
			if opp == nil {
				t.Fatal("expected an opportunity")
			}
			res := e.Execute(context.Background(), *opp)
			if res.Success {
				t.Fatal("expected failure")
			}
			if !errors.Is(res.Err, tc.want) {
				t.Fatalf("err = %v, want %v", res.Err, tc.want)
			}
			if len(h.ledger.calls) != 0 {
				t.Fatal("ledger must not be touched on failure")
			}
			if e.Guard().Executing() {
				t.Fatal("guard not released")
			}
			if res.Cause() == "" {
				t.Fatal("failure must carry a cause")
			}
		})
	}
}

func TestExecuteLedgerFailureKeepsSuccess(t *testing.T) {
	h := newHarness()
	h.ledger.err = errors.New("disk full")
	e := h.executor("p")
	opp, _ := e.Scan(context.Background())

	res := e.Execute(context.Background(), *opp)
	if !res.Success {
		t.Fatalf("ledger failure must not fail the trade: %v", res.Err)
	}
	if res.ActualProfit != nil {
		t.Fatalf("actual profit = %s, want nil", res.ActualProfit)
	}
}

func TestExecuteConcurrentCallIsBusy(t *testing.T) {
	h := newHarness()
	h.swaps.entered = make(chan struct{})
	h.swaps.release = make(chan struct{})
	e := h.executor("p")
	opp, _ := e.Scan(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Execute(context.Background(), *opp)
	}()
	<-h.swaps.entered

	res := e.Execute(context.Background(), *opp)
	if !res.Busy || !errors.Is(res.Err, domain.ErrBusy) || res.Success {
		t.Fatalf("concurrent Execute = %+v, want busy", res)
	}

	close(h.swaps.release)
	<-done
	if h.swaps.count() != 1 {
		t.Fatalf("swaps submitted = %d, want 1", h.swaps.count())
	}
}

func TestExecuteSurvivesCancellation(t *testing.T) {
	h := newHarness()
	e := h.executor("p")
	opp, _ := e.Scan(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := e.Execute(ctx, *opp)
	if !res.Success {
		t.Fatalf("Execute = %v", res.Err)
	}
	if h.swaps.ctxErrs[0] != nil {
		t.Fatalf("swap saw cancelled context: %v", h.swaps.ctxErrs[0])
	}
}

func TestExecuteHonoursPairLease(t *testing.T) {
	h := newHarness()
	e := h.executor("p")
	lease := &fakeLease{err: domain.ErrLockHeld}
	e.deps.Lease = lease
	opp, _ := e.Scan(context.Background())

	res := e.Execute(context.Background(), *opp)
	if !res.Busy || !errors.Is(res.Err, domain.ErrBusy) {
		t.Fatalf("Execute with held lease = %+v", res)
	}
	if h.swaps.count() != 0 {
		t.Fatal("swap submitted without the lease")
	}

	lease.err = nil
	res = e.Execute(context.Background(), *opp)
	if !res.Success || lease.acquired != 1 || lease.released != 1 {
		t.Fatalf("res=%+v acquired=%d released=%d", res, lease.acquired, lease.released)
	}
}

func TestStatusReflectsLastScanAndResult(t *testing.T) {
	h := newHarness()
	e := h.executor("ETHST/USDST")
	opp, err := e.Scan(context.Background())
	if err != nil || opp == nil {
		t.Fatalf("Scan = %+v, %v", opp, err)
	}
	e.Execute(context.Background(), *opp)
	st := e.Status()
	if st.LastOutcome != "opportunity" {
		t.Fatalf("outcome = %q", st.LastOutcome)
	}
	if st.PoolPrice != "1.000000" || st.OraclePrice != "1.050000" || st.DivergencePct != "5.00" {
		t.Fatalf("status = %+v", st)
	}
	if st.LastResult == nil || !st.LastResult.Success {
		t.Fatalf("last result = %+v", st.LastResult)
	}
	if st.LastExecution.IsZero() {
		t.Fatal("last execution not stamped")
	}
}

func TestExecuteUsesStateOfTheScanThatFoundIt(t *testing.T) {
	h := newHarness()
	e := h.executor("ETHST/USDST")
	ctx := context.Background()

	first, _ := e.Scan(ctx)
	if first == nil {
		t.Fatal("expected an opportunity")
	}

	// A later refresh sees a different pool and a re-priced quote token.
	h.pool.snap.Address = common.HexToAddress("0x2222222222222222222222222222222222222222")
	h.prices.prices = map[string]*big.Int{"ETHST": milli(7350), "USDST": wei(7)}
	if second, _ := e.Scan(ctx); second == nil {
		t.Fatal("expected a second opportunity")
	}

	res := e.Execute(ctx, *first)
	if !res.Success {
		t.Fatalf("Execute = %v", res.Err)
	}
	if req := h.swaps.requests[0]; req.Pool != poolAddr || req.TokenIn != baseToken {
		t.Fatalf("request = %+v, want the first scan's pool and input token", req)
	}
	if got := h.ledger.calls[0].price; got.Cmp(wei(1)) != 0 {
		t.Fatalf("ledger price = %s, want %s", got, wei(1))
	}
	if res.ActualProfit.Cmp(first.EstimatedProfit) != 0 {
		t.Fatalf("actual profit = %s, want %s", res.ActualProfit, first.EstimatedProfit)
	}
}

func TestExecuteRejectsOpportunityWithoutPool(t *testing.T) {
	h := newHarness()
	e := h.executor("p")
	opp, _ := e.Scan(context.Background())
	opp.Pool = common.Address{}

	res := e.Execute(context.Background(), *opp)
	if res.Success || !errors.Is(res.Err, domain.ErrSubmitFailed) {
		t.Fatalf("Execute = %+v", res)
	}
	if h.swaps.count() != 0 {
		t.Fatal("swap submitted for an unpinned opportunity")
	}
}

func TestExecuteBoundsStuckLedger(t *testing.T) {
	h := newHarness()
	h.ledger.block = true
	e := h.executor("p")
	e.cfg.LedgerTimeout = 20 * time.Millisecond
	opp, _ := e.Scan(context.Background())

	done := make(chan domain.ExecutionResult, 1)
	go func() { done <- e.Execute(context.Background(), *opp) }()

	select {
	case res := <-done:
		if !res.Success {
			t.Fatalf("settled swap reported as failed: %v", res.Err)
		}
		if res.ActualProfit != nil {
			t.Fatalf("actual profit = %s, want nil", res.ActualProfit)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute blocked on the ledger")
	}
	if e.Guard().Executing() {
		t.Fatal("guard not released")
	}
}
