package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Token is an ERC20-style token together with the bot account's balance and
// the allowance it has granted to the pool.
type Token struct {
	Address   common.Address
	Symbol    string
	Name      string
	Balance   *big.Int
	Allowance *big.Int
}

// PoolSnapshot is a point-in-time view of a constant-product pool. Reserves
// are never assumed to stay valid after the snapshot is taken.
type PoolSnapshot struct {
	Address  common.Address
	TokenA   Token
	TokenB   Token
	ReserveA *big.Int
	ReserveB *big.Int
	TakenAt  time.Time
}

// SwapRequest asks the chain collaborator to swap against a pool.
type SwapRequest struct {
	Pool         common.Address
	Direction    Direction
	TokenIn      common.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Deadline     time.Time
}
