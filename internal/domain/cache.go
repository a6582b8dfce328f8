package domain

import (
	"context"
	"math/big"
	"time"
)

// PriceCache shares oracle prices between bot instances.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price *big.Int, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (*big.Int, time.Time, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for execution events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RequestQuota shares an outbound request budget between bot instances.
type RequestQuota interface {
	Wait(ctx context.Context, key string) error
}
