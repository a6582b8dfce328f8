package executor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stratoarb/internal/amm"
	"github.com/alanyoungcy/stratoarb/internal/domain"
)

var (
	// MinVoucherBalance is the voucher balance that pays for gas on its own.
	MinVoucherBalance = new(big.Int).Set(amm.WeiScale)
	// GasReserve is the base-token amount kept back to pay for gas.
	GasReserve = new(big.Int).Div(amm.WeiScale, big.NewInt(100))
)

// GasAdjuster turns raw token balances into spendable amounts so that a
// trade never strands the account without gas.
type GasAdjuster struct {
	// BaseToken is the stable token that also pays for gas.
	BaseToken common.Address
}

// Spendable returns how much of balance may be traded. Gas is available when
// the account holds at least MinVoucherBalance vouchers or GasReserve of the
// base token; without gas nothing is spendable. A base-token balance is
// reduced by GasReserve, floored at zero.
func (g GasAdjuster) Spendable(token common.Address, balance, baseBalance, voucherBalance *big.Int) *big.Int {
	if balance == nil || balance.Sign() <= 0 {
		return new(big.Int)
	}
	if !g.HasGas(baseBalance, voucherBalance) {
		return new(big.Int)
	}
	if token == g.BaseToken {
		out := new(big.Int).Sub(balance, GasReserve)
		if out.Sign() < 0 {
			return new(big.Int)
		}
		return out
	}
	return new(big.Int).Set(balance)
}

// HasGas reports whether either gas source is funded.
func (g GasAdjuster) HasGas(baseBalance, voucherBalance *big.Int) bool {
	return (voucherBalance != nil && voucherBalance.Cmp(MinVoucherBalance) >= 0) ||
		(baseBalance != nil && baseBalance.Cmp(GasReserve) >= 0)
}

// LossGuard blocks sells that would realise a loss against the average
// acquisition cost of the token being sold.
type LossGuard struct{}

// Allow reports whether opp may proceed given avgCost, the weighted-average
// cost of token A in token B at wei scale. Buys always pass, as does a sell
// with no known cost basis. A sell passes only when its effective price
// expectedOutput·10^18/optimalInput is strictly above avgCost.
func (LossGuard) Allow(opp domain.Opportunity, avgCost *big.Int) bool {
	if opp.Direction != domain.DirectionSell {
		return true
	}
	if opp.OptimalInput == nil || opp.OptimalInput.Sign() <= 0 {
		return false
	}
	if avgCost == nil || avgCost.Sign() <= 0 {
		return true
	}
	return SellPrice(opp).Cmp(avgCost) > 0
}

// SellPrice is the effective per-token price of opp, token B per token A.
func SellPrice(opp domain.Opportunity) *big.Int {
	return amm.MulDiv(opp.ExpectedOutput, amm.WeiScale, opp.OptimalInput)
}
