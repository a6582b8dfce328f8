package amm

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// Side names the token flow of a trade between X and Y.
type Side string

const (
	// SideXToY sells X for Y.
	SideXToY Side = "X->Y"
	// SideYToX spends Y to buy X.
	SideYToX Side = "Y->X"
)

// Direction maps the side onto token X, which callers treat as token A.
func (s Side) Direction() domain.Direction {
	if s == SideXToY {
		return domain.DirectionSell
	}
	return domain.DirectionBuy
}

// RejectReason categorises why no trade was returned.
type RejectReason string

const (
	RejectInvalidInput RejectReason = "invalid_input"
	RejectNoBalance    RejectReason = "no_balance"
	RejectInvalidFee   RejectReason = "invalid_fee"
	RejectNoInput      RejectReason = "no_input"
	RejectZeroOutput   RejectReason = "zero_output"
	RejectProfitTooLow RejectReason = "profit_too_low"
	RejectPricesEqual  RejectReason = "prices_equal"
)

// Rejection explains a missing opportunity. It is a business outcome, not an
// error.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) String() string {
	return string(r.Reason) + ": " + r.Detail
}

func reject(reason RejectReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// TradeInput is everything FindOptimalTrade looks at. OraclePriceXY is Y per
// X; MinProfit is in Y.
type TradeInput struct {
	ReserveX      *big.Int
	ReserveY      *big.Int
	OraclePriceXY *big.Int
	BalanceX      *big.Int
	BalanceY      *big.Int
	FeeBps        int64
	MinProfit     *big.Int
}

// Trade is a priced one-sided trade. Profit is in Y.
type Trade struct {
	Side        Side
	AmountIn    *big.Int
	ExpectedOut *big.Int
	Profit      *big.Int
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

// FindOptimalTrade decides whether a profitable trade exists against the
// oracle and, if so, on which side and with which size. It is pure: identical
// inputs give identical results.
func FindOptimalTrade(in TradeInput) (Trade, *Rejection) {
	rx, ry, oracle := orZero(in.ReserveX), orZero(in.ReserveY), orZero(in.OraclePriceXY)
	bx, by := orZero(in.BalanceX), orZero(in.BalanceY)
	minProfit := orZero(in.MinProfit)

	if rx.Sign() <= 0 || ry.Sign() <= 0 || oracle.Sign() <= 0 {
		return Trade{}, reject(RejectInvalidInput,
			"reserve_x=%s reserve_y=%s oracle_price_xy=%s", rx, ry, oracle)
	}
	if bx.Sign() <= 0 && by.Sign() <= 0 {
		return Trade{}, reject(RejectNoBalance, "balance_x=%s balance_y=%s", bx, by)
	}
	if !ValidFee(in.FeeBps) {
		return Trade{}, reject(RejectInvalidFee, "fee_bps=%d", in.FeeBps)
	}

	poolPrice := PoolPrice(rx, ry)

	switch poolPrice.Cmp(oracle) {
	case -1:
		// Pool underprices X: spend Y to buy X.
		priceYX := InversePrice(oracle)
		dyOpt := OptimalInput(ry, rx, priceYX, in.FeeBps)
		dy := new(big.Int)
		if dyOpt.Sign() > 0 && by.Sign() > 0 {
			dy = MinBig(dyOpt, by)
		}
		if dy.Sign() <= 0 {
			return Trade{}, reject(RejectNoInput, "%s dy_opt=%s balance_y=%s", SideYToX, dyOpt, by)
		}
		xOut := SwapOutput(dy, ry, rx, in.FeeBps)
		if xOut.Sign() <= 0 {
			return Trade{}, reject(RejectZeroOutput, "%s x_out=%s", SideYToX, xOut)
		}
		profit := MulDiv(xOut, oracle, WeiScale)
		profit.Sub(profit, dy)
		if profit.Sign() > 0 && profit.Cmp(minProfit) >= 0 {
			return Trade{Side: SideYToX, AmountIn: dy, ExpectedOut: xOut, Profit: profit}, nil
		}
		return Trade{}, reject(RejectProfitTooLow, "%s profit=%s min_profit=%s",
			SideYToX, Format(profit), Format(minProfit))

	case 1:
		// Pool overprices X: sell X for Y.
		dxOpt := OptimalInput(rx, ry, oracle, in.FeeBps)
		dx := new(big.Int)
		if dxOpt.Sign() > 0 && bx.Sign() > 0 {
			dx = MinBig(dxOpt, bx)
		}
		if dx.Sign() <= 0 {
			return Trade{}, reject(RejectNoInput, "%s dx_opt=%s balance_x=%s", SideXToY, dxOpt, bx)
		}
		yOut := SwapOutput(dx, rx, ry, in.FeeBps)
		if yOut.Sign() <= 0 {
			return Trade{}, reject(RejectZeroOutput, "%s y_out=%s", SideXToY, yOut)
		}
		profit := new(big.Int).Sub(yOut, MulDiv(dx, oracle, WeiScale))
		if profit.Sign() > 0 && profit.Cmp(minProfit) >= 0 {
			return Trade{Side: SideXToY, AmountIn: dx, ExpectedOut: yOut, Profit: profit}, nil
		}
		return Trade{}, reject(RejectProfitTooLow, "%s profit=%s min_profit=%s",
			SideXToY, Format(profit), Format(minProfit))
	}

	return Trade{}, reject(RejectPricesEqual, "pool price %s equals oracle price", Format(poolPrice))
}
