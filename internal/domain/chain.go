package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PoolSource refreshes reserves, token metadata, balances and allowances for
// one pool. Implementations must always hit the ledger; cached snapshots are
// not acceptable immediately before a trading decision.
type PoolSource interface {
	Refresh(ctx context.Context) (PoolSnapshot, error)
}

// GasSource reports what the bot account can spend on transaction fees: the
// base stable-value token balance and the fee voucher balance, both wei scale.
type GasSource interface {
	GasBalances(ctx context.Context) (base, voucher *big.Int, err error)
}

// CostBasisSource returns the weighted-average acquisition cost of a token in
// the base token (wei scale per whole token), or zero when unknown.
type CostBasisSource interface {
	AverageCost(ctx context.Context, token common.Address) (*big.Int, error)
}

// SwapSubmitter submits swaps and waits for their terminal status.
type SwapSubmitter interface {
	SubmitSwap(ctx context.Context, req SwapRequest) (txID string, err error)
	WaitForConfirmation(ctx context.Context, txID string, timeout time.Duration) (Confirmation, error)
}

// PriceSource returns external USD prices keyed by symbol, wei scale. A
// forced refresh bypasses any internal cache.
type PriceSource interface {
	FetchPrices(ctx context.Context, symbols []string, forceRefresh bool) (map[string]*big.Int, error)
}
