package strato

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// MaxUint256 is the allowance granted for an infinite approval.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var weiScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Pool is one constant-product pool contract as seen by the bot account.
// It implements domain.PoolSource, domain.SwapSubmitter and
// domain.CostBasisSource.
type Pool struct {
	client  *Client
	address common.Address
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	last domain.PoolSnapshot
}

// NewPool binds a pool address to client.
func NewPool(client *Client, address common.Address) *Pool {
	return &Pool{
		client:  client,
		address: address,
		logger:  client.logger.With(slog.String("pool", address.Hex())),
		now:     time.Now,
	}
}

// Address returns the pool contract address.
func (p *Pool) Address() common.Address { return p.address }

type cirrusEntry struct {
	Key   string `json:"key"`
	Key2  string `json:"key2"`
	Value bigNum `json:"value"`
}

type cirrusToken struct {
	Address    string        `json:"address"`
	Symbol     string        `json:"_symbol"`
	Name       string        `json:"_name"`
	Balances   []cirrusEntry `json:"balances"`
	Allowances []cirrusEntry `json:"allowances"`
}

type cirrusPool struct {
	Address       string       `json:"address"`
	TokenABalance bigNum       `json:"tokenABalance"`
	TokenBBalance bigNum       `json:"tokenBBalance"`
	TokenA        *cirrusToken `json:"tokenA"`
	TokenB        *cirrusToken `json:"tokenB"`
}

const poolSelect = "address,tokenABalance,tokenBBalance," +
	"tokenA:tokenA_fkey(address,_symbol,_name," +
	"balances:BlockApps-Token-_balances!left(key,value::text)," +
	"allowances:BlockApps-Token-_allowances!left(key,key2,value::text))," +
	"tokenB:tokenB_fkey(address,_symbol,_name," +
	"balances:BlockApps-Token-_balances!left(key,value::text)," +
	"allowances:BlockApps-Token-_allowances!left(key,key2,value::text))"

// Refresh reads reserves, token metadata, and the account's balances and
// allowances in a single Cirrus query. It never serves cached data.
func (p *Pool) Refresh(ctx context.Context) (domain.PoolSnapshot, error) {
	acct, err := p.client.requireAccount()
	if err != nil {
		return domain.PoolSnapshot{}, err
	}
	account := "eq." + acct
	pool := "eq." + cirrusAddr(p.address)

	var rows []cirrusPool
	err = p.client.Search(ctx, "BlockApps-Pool", url.Values{
		"address":                {pool},
		"select":                 {poolSelect},
		"tokenA.balances.key":    {account},
		"tokenB.balances.key":    {account},
		"tokenA.allowances.key":  {account},
		"tokenA.allowances.key2": {pool},
		"tokenB.allowances.key":  {account},
		"tokenB.allowances.key2": {pool},
	}, &rows)
	if err != nil {
		return domain.PoolSnapshot{}, err
	}
	if len(rows) == 0 {
		return domain.PoolSnapshot{}, fmt.Errorf("strato: pool %s: %w", p.address.Hex(), domain.ErrNotFound)
	}

	row := rows[0]
	snap := domain.PoolSnapshot{
		Address:  p.address,
		TokenA:   toToken(row.TokenA),
		TokenB:   toToken(row.TokenB),
		ReserveA: row.TokenABalance.Value(),
		ReserveB: row.TokenBBalance.Value(),
		TakenAt:  p.now(),
	}
	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()
	return snap, nil
}

func toToken(t *cirrusToken) domain.Token {
	if t == nil {
		return domain.Token{Balance: new(big.Int), Allowance: new(big.Int)}
	}
	tok := domain.Token{
		Address:   common.HexToAddress(t.Address),
		Symbol:    t.Symbol,
		Name:      t.Name,
		Balance:   new(big.Int),
		Allowance: new(big.Int),
	}
	if len(t.Balances) > 0 {
		tok.Balance = t.Balances[0].Value.Value()
	}
	if len(t.Allowances) > 0 {
		tok.Allowance = t.Allowances[0].Value.Value()
	}
	return tok
}

// SubmitSwap calls swap(isAToB, amountIn, minAmountOut, deadline) on the
// pool. A sell of token A swaps A to B.
func (p *Pool) SubmitSwap(ctx context.Context, req domain.SwapRequest) (string, error) {
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 || req.MinAmountOut == nil {
		return "", fmt.Errorf("%w: invalid swap amounts", domain.ErrSubmitFailed)
	}
	return p.client.SendTransaction(ctx, Call{
		ContractAddress: p.address,
		Method:          "swap",
		Args: map[string]any{
			"isAToB":       req.Direction == domain.DirectionSell,
			"amountIn":     req.AmountIn,
			"minAmountOut": req.MinAmountOut,
			"deadline":     req.Deadline.Unix(),
		},
	})
}

// WaitForConfirmation waits for a transaction submitted through this pool.
func (p *Pool) WaitForConfirmation(ctx context.Context, txID string, timeout time.Duration) (domain.Confirmation, error) {
	return p.client.WaitForTransaction(ctx, txID, timeout)
}

// AverageCost is the account's buy-only volume-weighted cost of token, in
// base token per whole token at wei scale, from its swap history on this
// pool. Sells do not adjust it. Zero means no buys are on record.
func (p *Pool) AverageCost(ctx context.Context, token common.Address) (*big.Int, error) {
	account, err := p.client.requireAccount()
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Spent  bigNum `json:"spent"`
		Bought bigNum `json:"bought"`
	}
	err = p.client.Search(ctx, "BlockApps-Pool-Swap", url.Values{
		"address":  {"eq." + cirrusAddr(p.address)},
		"sender":   {"eq." + account},
		"tokenIn":  {"eq." + cirrusAddr(p.client.cfg.BaseToken)},
		"tokenOut": {"eq." + cirrusAddr(token)},
		"select":   {"spent:amountIn.sum()::text,bought:amountOut.sum()::text"},
	}, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return new(big.Int), nil
	}
	return vwap(rows[0].Spent.Value(), rows[0].Bought.Value()), nil
}

func vwap(spent, bought *big.Int) *big.Int {
	if bought.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(spent, weiScale)
	return out.Div(out, bought)
}

// EnsureApprovals grants the pool an infinite allowance on both tokens
// where it is not already in place, waiting for each approval to confirm.
func (p *Pool) EnsureApprovals(ctx context.Context, confirmTimeout time.Duration) error {
	snap, err := p.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("strato: ensure approvals: %w", err)
	}
	for _, tok := range []domain.Token{snap.TokenA, snap.TokenB} {
		if tok.Address == (common.Address{}) {
			continue
		}
		if tok.Allowance != nil && tok.Allowance.Cmp(MaxUint256) >= 0 {
			continue
		}
		p.logger.InfoContext(ctx, "approving token for pool", slog.String("token", tok.Symbol))
		hash, err := p.client.SendTransaction(ctx, Call{
			ContractAddress: tok.Address,
			Method:          "approve",
			Args: map[string]any{
				"spender": cirrusAddr(p.address),
				"value":   MaxUint256,
			},
		})
		if err != nil {
			return fmt.Errorf("strato: approve %s: %w", tok.Symbol, err)
		}
		conf, err := p.client.WaitForTransaction(ctx, hash, confirmTimeout)
		if err != nil {
			return fmt.Errorf("strato: approve %s: %w", tok.Symbol, err)
		}
		if conf.Status != domain.TxStatusSuccess {
			return fmt.Errorf("strato: approve %s: %w: %s", tok.Symbol, domain.ErrTxFailed, conf.Detail)
		}
		p.logger.InfoContext(ctx, "token approved", slog.String("token", tok.Symbol))
	}
	return nil
}

// Last returns the most recent snapshot, and false before the first Refresh.
func (p *Pool) Last() (domain.PoolSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.last.ReserveA != nil
}

var _ interface {
	domain.PoolSource
	domain.SwapSubmitter
	domain.CostBasisSource
} = (*Pool)(nil)

var _ domain.GasSource = (*Client)(nil)
