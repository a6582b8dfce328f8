// Package amm implements constant-product pool arithmetic over wei-scaled
// integers and the one-sided arbitrage search built on top of it.
//
// Every quantity is a *big.Int holding value·10^18. Functions never panic on
// out-of-range input: they return zero and leave validation to the caller.
package amm

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// BpsDenom is the basis-point denominator; 10000 bps is 100%.
const BpsDenom int64 = 10_000

// WeiDecimals is the number of decimal places in the wei scale.
const WeiDecimals = 18

var (
	// WeiScale is 10^18, the fixed-point representation of 1.0.
	WeiScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(WeiDecimals), nil)

	weiScaleSq = new(big.Int).Mul(WeiScale, WeiScale)
	bpsDenom   = big.NewInt(BpsDenom)
)

func positive(x *big.Int) bool { return x != nil && x.Sign() > 0 }

// ValidFee reports whether feeBps lies in [0, BpsDenom).
func ValidFee(feeBps int64) bool { return feeBps >= 0 && feeBps < BpsDenom }

// SwapOutput returns the amount of Y received for dx of X from a pool holding
// reserveX/reserveY, with the fee charged on the input:
//
//	dxEff = dx·(10000−fee)/10000
//	dy    = reserveY·dxEff / (reserveX+dxEff)
//
// Zero means "no trade".
func SwapOutput(dx, reserveX, reserveY *big.Int, feeBps int64) *big.Int {
	if !positive(dx) || !positive(reserveX) || !positive(reserveY) || !ValidFee(feeBps) {
		return new(big.Int)
	}
	dxEff := new(big.Int).Mul(dx, big.NewInt(BpsDenom-feeBps))
	dxEff.Div(dxEff, bpsDenom)
	if dxEff.Sign() <= 0 {
		return new(big.Int)
	}
	num := new(big.Int).Mul(reserveY, dxEff)
	den := new(big.Int).Add(reserveX, dxEff)
	return num.Div(num, den)
}

// OptimalInput returns the input (fee included) that moves the pool's
// marginal price of the input token to priceScaled, expressed as output token
// per input token. It solves x_target = isqrt(k·10^18/price) on the invariant
// k = reserveIn·reserveOut and returns zero when the pool is already at or
// below the target. The result is not clipped to any balance.
func OptimalInput(reserveIn, reserveOut, priceScaled *big.Int, feeBps int64) *big.Int {
	if !positive(reserveIn) || !positive(reserveOut) || !positive(priceScaled) || !ValidFee(feeBps) {
		return new(big.Int)
	}
	k := new(big.Int).Mul(reserveIn, reserveOut)
	k.Mul(k, WeiScale)
	k.Div(k, priceScaled)
	xTarget := k.Sqrt(k)
	if xTarget.Cmp(reserveIn) <= 0 {
		return new(big.Int)
	}
	dx := xTarget.Sub(xTarget, reserveIn)
	dx.Mul(dx, bpsDenom)
	return dx.Div(dx, big.NewInt(BpsDenom-feeBps))
}

// BuyProfit is the profit, in token B, of buying token A with input of token
// B: out·oracle/10^18 − input. oraclePrice is B per A. The result may be
// zero or negative.
func BuyProfit(input, reserveIn, reserveOut, oraclePrice *big.Int, feeBps int64) *big.Int {
	out := SwapOutput(input, reserveIn, reserveOut, feeBps)
	value := MulDiv(out, oraclePrice, WeiScale)
	return value.Sub(value, input)
}

// SellProfit is the profit, in token B, of selling input of token A for
// token B: out − input·oracle/10^18. The result may be zero or negative.
func SellProfit(input, reserveIn, reserveOut, oraclePrice *big.Int, feeBps int64) *big.Int {
	out := SwapOutput(input, reserveIn, reserveOut, feeBps)
	cost := MulDiv(input, oraclePrice, WeiScale)
	return out.Sub(out, cost)
}

// MulDiv returns floor(a·b/c), or zero when c is not positive.
func MulDiv(a, b, c *big.Int) *big.Int {
	if a == nil || b == nil || !positive(c) {
		return new(big.Int)
	}
	r := new(big.Int).Mul(a, b)
	return r.Div(r, c)
}

// PoolPrice returns reserveY·10^18/reserveX: Y per X at the margin.
func PoolPrice(reserveX, reserveY *big.Int) *big.Int {
	return MulDiv(reserveY, WeiScale, reserveX)
}

// InversePrice returns 10^36/price, the inverse orientation of a scaled
// price. Zero for a non-positive price.
func InversePrice(price *big.Int) *big.Int {
	if !positive(price) {
		return new(big.Int)
	}
	return new(big.Int).Div(weiScaleSq, price)
}

// DivergenceBps is (oracle−pool)·10000/pool, positive when the pool
// underprices X relative to the oracle.
func DivergenceBps(pool, oracle *big.Int) *big.Int {
	if !positive(pool) || oracle == nil {
		return new(big.Int)
	}
	diff := new(big.Int).Sub(oracle, pool)
	diff.Mul(diff, bpsDenom)
	return diff.Quo(diff, pool)
}

// FromDecimal converts a decimal amount to wei scale, truncating below 1 wei.
func FromDecimal(d decimal.Decimal) *big.Int {
	return d.Shift(WeiDecimals).BigInt()
}

// ToDecimal renders a wei-scaled integer as an exact decimal.
func ToDecimal(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -WeiDecimals)
}

// Format renders a wei-scaled integer with six decimals, for logs.
func Format(wei *big.Int) string {
	return ToDecimal(wei).StringFixed(6)
}

// MinBig returns a copy of the smaller of a and b.
func MinBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
