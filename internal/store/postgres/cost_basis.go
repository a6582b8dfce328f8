package postgres

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/stratoarb/internal/amm"
	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// querier is the subset of pgxpool.Pool used by the readers.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// swapTotalsSQL sums the account's buys of a token on one pool from the
// Cirrus swap event table. Amounts are stored as decimal text.
const swapTotalsSQL = `
	SELECT COALESCE(SUM("amountIn"::numeric), 0)::text,
	       COALESCE(SUM("amountOut"::numeric), 0)::text
	FROM "BlockApps-Pool-Swap"
	WHERE address = $1 AND sender = $2 AND "tokenIn" = $3 AND "tokenOut" = $4`

// CostBasis implements domain.CostBasisSource by querying the Cirrus indexer
// database directly. It gives the same buy-only VWAP as the REST search but
// in one round trip.
type CostBasis struct {
	db        querier
	pool      common.Address
	account   string
	baseToken common.Address
}

// NewCostBasis returns a reader for account's swaps on pool, pricing tokens
// in baseToken.
func NewCostBasis(c *Client, pool common.Address, account string, baseToken common.Address) *CostBasis {
	return newCostBasis(c.pool, pool, account, baseToken)
}

func newCostBasis(db querier, pool common.Address, account string, baseToken common.Address) *CostBasis {
	return &CostBasis{
		db:        db,
		pool:      pool,
		account:   indexerAddr(common.HexToAddress(account)),
		baseToken: baseToken,
	}
}

// AverageCost returns the base-token cost per whole token at wei scale, or
// zero when the account never bought token on this pool.
func (cb *CostBasis) AverageCost(ctx context.Context, token common.Address) (*big.Int, error) {
	var spentStr, boughtStr string
	err := cb.db.QueryRow(ctx, swapTotalsSQL,
		indexerAddr(cb.pool), cb.account, indexerAddr(cb.baseToken), indexerAddr(token),
	).Scan(&spentStr, &boughtStr)
	if err != nil {
		return nil, fmt.Errorf("postgres: average cost %s: %w", token.Hex(), err)
	}

	spent, ok := new(big.Int).SetString(integerPart(spentStr), 10)
	if !ok {
		return nil, fmt.Errorf("postgres: average cost: bad spent total %q", spentStr)
	}
	bought, ok := new(big.Int).SetString(integerPart(boughtStr), 10)
	if !ok {
		return nil, fmt.Errorf("postgres: average cost: bad bought total %q", boughtStr)
	}
	return amm.MulDiv(spent, amm.WeiScale, bought), nil
}

// indexerAddr renders an address the way Cirrus stores it: lowercase hex
// without the 0x prefix.
func indexerAddr(a common.Address) string {
	return strings.ToLower(strings.TrimPrefix(a.Hex(), "0x"))
}

// integerPart drops a trailing fractional part such as ".0" that numeric
// sums can carry.
func integerPart(s string) string {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

var _ domain.CostBasisSource = (*CostBasis)(nil)
