package amm

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func wei(s string) *big.Int {
	return FromDecimal(decimal.RequireFromString(s))
}

func TestSwapOutputFeeZeroExact(t *testing.T) {
	// 100·1000/(1000+100) = 90.909..., floored.
	got := SwapOutput(big.NewInt(100), big.NewInt(1000), big.NewInt(1000), 0)
	if got.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("SwapOutput = %s, want 90", got)
	}

	dx := wei("10")
	x, y := wei("1000"), wei("2000")
	want := new(big.Int).Mul(y, dx)
	want.Div(want, new(big.Int).Add(x, dx))
	if got := SwapOutput(dx, x, y, 0); got.Cmp(want) != 0 {
		t.Fatalf("SwapOutput = %s, want %s", got, want)
	}
}

func TestSwapOutputAppliesFeeToInput(t *testing.T) {
	// 30 bps on 10000 leaves 9970 effective input.
	got := SwapOutput(big.NewInt(10_000), big.NewInt(1_000_000), big.NewInt(1_000_000), 30)
	want := big.NewInt(1_000_000 * 9_970 / (1_000_000 + 9_970))
	if got.Cmp(want) != 0 {
		t.Fatalf("SwapOutput = %s, want %s", got, want)
	}
}

func TestSwapOutputDegenerateInputs(t *testing.T) {
	one := big.NewInt(1)
	cases := []struct {
		name       string
		dx, rx, ry *big.Int
		fee        int64
	}{
		{"zero input", big.NewInt(0), wei("1"), wei("1"), 30},
		{"negative input", big.NewInt(-5), wei("1"), wei("1"), 30},
		{"nil input", nil, wei("1"), wei("1"), 30},
		{"zero reserve x", one, big.NewInt(0), wei("1"), 30},
		{"zero reserve y", one, wei("1"), big.NewInt(0), 30},
		{"fee at denominator", wei("1"), wei("1"), wei("1"), BpsDenom},
		{"negative fee", wei("1"), wei("1"), wei("1"), -1},
		{"dust eaten by fee", one, wei("1"), wei("1"), 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SwapOutput(tc.dx, tc.rx, tc.ry, tc.fee); got.Sign() != 0 {
				t.Fatalf("SwapOutput = %s, want 0", got)
			}
		})
	}
}

func TestSwapOutputNeverDrainsReserve(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		x := new(big.Int).Rand(rng, wei("1000000"))
		x.Add(x, big.NewInt(1))
		y := new(big.Int).Rand(rng, wei("1000000"))
		y.Add(y, big.NewInt(1))
		dx := new(big.Int).Rand(rng, wei("100000000"))
		dx.Add(dx, big.NewInt(1))
		fee := rng.Int63n(BpsDenom)

		out := SwapOutput(dx, x, y, fee)
		if out.Sign() < 0 || out.Cmp(y) >= 0 {
			t.Fatalf("SwapOutput(%s, %s, %s, %d) = %s, want in [0, reserveY)", dx, x, y, fee, out)
		}
	}
}

func TestOptimalInputZeroWhenPoolAtOrBelowTarget(t *testing.T) {
	x, y := wei("1000"), wei("1000")
	// Pool price of the input is 1.0; asking for 1.0 or more means selling
	// more input can never help.
	for _, p := range []string{"1", "1.5", "100"} {
		if got := OptimalInput(x, y, wei(p), 30); got.Sign() != 0 {
			t.Errorf("OptimalInput at price %s = %s, want 0", p, got)
		}
	}
	if got := OptimalInput(x, y, big.NewInt(0), 30); got.Sign() != 0 {
		t.Errorf("OptimalInput at zero price = %s, want 0", got)
	}
}

func TestOptimalInputMovesPriceToTarget(t *testing.T) {
	x, y := wei("1000000"), wei("1100000")
	target := wei("1.05")

	dx := OptimalInput(x, y, target, 0)
	if dx.Sign() <= 0 {
		t.Fatalf("OptimalInput = %s, want positive", dx)
	}
	out := SwapOutput(dx, x, y, 0)
	newX := new(big.Int).Add(x, dx)
	newY := new(big.Int).Sub(y, out)
	post := PoolPrice(newX, newY)

	// Within 1e-9 relative of the target.
	diff := new(big.Int).Sub(post, target)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(1_000_000_000))
	if diff.Cmp(target) > 0 {
		t.Fatalf("post-trade price %s, want ~%s", Format(post), Format(target))
	}
}

func TestOptimalInputPostPriceWithinFeeTier(t *testing.T) {
	x, y := wei("1000000"), wei("1100000")
	target := wei("1.05")
	const fee = 30

	dx := OptimalInput(x, y, target, fee)
	out := SwapOutput(dx, x, y, fee)
	post := PoolPrice(new(big.Int).Add(x, dx), new(big.Int).Sub(y, out))

	// |post−target|·10000 ≤ target·fee, plus one bps of slack for rounding.
	diff := new(big.Int).Sub(post, target)
	diff.Abs(diff)
	diff.Mul(diff, bpsDenom)
	limit := new(big.Int).Mul(target, big.NewInt(fee+1))
	if diff.Cmp(limit) > 0 {
		t.Fatalf("post-trade price %s too far from %s", Format(post), Format(target))
	}
}

func TestProfitDecreasesBeyondOptimal(t *testing.T) {
	x, y := wei("1000000"), wei("1100000")
	oracle := wei("1.05")
	const fee = 30

	opt := OptimalInput(x, y, oracle, fee)
	prev := SellProfit(opt, x, y, oracle, fee)
	if prev.Sign() <= 0 {
		t.Fatalf("profit at optimum = %s, want positive", Format(prev))
	}
	for _, pct := range []int64{125, 150, 200, 400} {
		dx := MulDiv(opt, big.NewInt(pct), big.NewInt(100))
		p := SellProfit(dx, x, y, oracle, fee)
		if p.Cmp(prev) >= 0 {
			t.Fatalf("profit at %d%% of optimum = %s, not below %s", pct, Format(p), Format(prev))
		}
		prev = p
	}
}

func TestBuyProfitSign(t *testing.T) {
	x, y := wei("1000"), wei("1000")
	// Buying X at ~1.0 and valuing it at 2.0 is profitable for small input.
	if p := BuyProfit(wei("1"), y, x, wei("2"), 0); p.Sign() <= 0 {
		t.Fatalf("BuyProfit = %s, want positive", Format(p))
	}
	// Valuing X at 0.5 is a loss.
	if p := BuyProfit(wei("1"), y, x, wei("0.5"), 0); p.Sign() >= 0 {
		t.Fatalf("BuyProfit = %s, want negative", Format(p))
	}
}

func TestInversePrice(t *testing.T) {
	if got := InversePrice(wei("2")); got.Cmp(wei("0.5")) != 0 {
		t.Fatalf("InversePrice(2) = %s", Format(got))
	}
	if got := InversePrice(big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("InversePrice(0) = %s, want 0", got)
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	d := decimal.RequireFromString("123.456789012345678901")
	w := FromDecimal(d)
	if w.String() != "123456789012345678901" {
		t.Fatalf("FromDecimal = %s", w)
	}
	if got := Format(w); got != "123.456789" {
		t.Fatalf("Format = %s", got)
	}
	if !ToDecimal(w).Equal(d) {
		t.Fatalf("ToDecimal = %s", ToDecimal(w))
	}
}

func TestDivergenceBps(t *testing.T) {
	if got := DivergenceBps(wei("1"), wei("1.05")); got.Int64() != 500 {
		t.Fatalf("DivergenceBps = %s, want 500", got)
	}
	if got := DivergenceBps(wei("1.05"), wei("1")); got.Int64() != -476 {
		t.Fatalf("DivergenceBps = %s, want -476", got)
	}
}
