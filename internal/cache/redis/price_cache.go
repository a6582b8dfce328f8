package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// priceTTL bounds how long an unrefreshed oracle price survives in Redis.
// Freshness is still judged by the reader against the stored timestamp.
const priceTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache with one hash per symbol at
// "{prefix}:price:{SYMBOL}" holding the wei price and a unix-millisecond
// timestamp.
type PriceCache struct {
	rdb *redis.Client
	c   *Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.rdb, c: c}
}

// SetPrice stores the latest price for a symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price *big.Int, ts time.Time) error {
	if price == nil {
		return fmt.Errorf("redis: set price %s: nil price", symbol)
	}
	key := pc.c.key("price", symbol)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "wei", price.String(), "ts", strconv.FormatInt(ts.UnixMilli(), 10))
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice returns the cached price and when it was fetched.
// It returns domain.ErrNotFound when nothing is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (*big.Int, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, pc.c.key("price", symbol)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	weiStr, ok := vals["wei"]
	tsStr, ok2 := vals["ts"]
	if !ok || !ok2 {
		return nil, time.Time{}, domain.ErrNotFound
	}

	price, ok := new(big.Int).SetString(weiStr, 10)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("redis: parse price %s: %q", symbol, weiStr)
	}
	ms, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}
	return price, time.UnixMilli(ms), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
