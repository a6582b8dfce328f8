package executor

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

func TestGasAdjusterSpendable(t *testing.T) {
	adj := GasAdjuster{BaseToken: baseToken}
	cases := []struct {
		name          string
		token         common.Address
		balance       *big.Int
		base, voucher *big.Int
		want          *big.Int
	}{
		{"voucher covers gas", extToken, wei(5), big.NewInt(0), wei(1), wei(5)},
		{"base covers gas", extToken, wei(5), milli(10), big.NewInt(0), wei(5)},
		{"no gas at all", extToken, wei(5), milli(9), milli(999), big.NewInt(0)},
		{"base token keeps reserve", baseToken, wei(5), wei(5), big.NewInt(0), new(big.Int).Sub(wei(5), milli(10))},
		{"base token below reserve", baseToken, milli(5), big.NewInt(0), wei(2), big.NewInt(0)},
		{"zero balance", extToken, big.NewInt(0), wei(1), wei(1), big.NewInt(0)},
		{"nil balances", extToken, wei(1), nil, nil, big.NewInt(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := adj.Spendable(tc.token, tc.balance, tc.base, tc.voucher)
			if got.Cmp(tc.want) != 0 {
				t.Fatalf("Spendable = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestLossGuardAllow(t *testing.T) {
	// 10 tokens sold for 12: effective price 1.2.
	sell := domain.Opportunity{
		Direction:      domain.DirectionSell,
		OptimalInput:   wei(10),
		ExpectedOutput: wei(12),
	}
	buy := sell
	buy.Direction = domain.DirectionBuy

	cases := []struct {
		name string
		opp  domain.Opportunity
		avg  *big.Int
		want bool
	}{
		{"buy ignores cost basis", buy, wei(100), true},
		{"unknown cost basis", sell, big.NewInt(0), true},
		{"nil cost basis", sell, nil, true},
		{"sell above cost", sell, milli(1100), true},
		{"sell at cost", sell, milli(1200), false},
		{"sell below cost", sell, milli(1500), false},
		{"sell with zero input", domain.Opportunity{Direction: domain.DirectionSell, OptimalInput: big.NewInt(0), ExpectedOutput: wei(1)}, big.NewInt(0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := (LossGuard{}).Allow(tc.opp, tc.avg); got != tc.want {
				t.Fatalf("Allow = %v, want %v", got, tc.want)
			}
		})
	}
}
