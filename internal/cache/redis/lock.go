package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// releaseLua deletes the lease only if the caller still owns it.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends the lease TTL only if the caller still owns it.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LeaseManager implements domain.LockManager. A lease is a SET NX key holding
// a random owner token; while held it is renewed at a third of its TTL so a
// slow confirmation does not let a second bot trade the same pool.
type LeaseManager struct {
	rdb     *redis.Client
	c       *Client
	release *redis.Script
	renew   *redis.Script
	logger  *slog.Logger
}

// NewLeaseManager creates a LeaseManager backed by the given Client.
func NewLeaseManager(c *Client, logger *slog.Logger) *LeaseManager {
	return &LeaseManager{
		rdb:     c.rdb,
		c:       c,
		release: redis.NewScript(releaseLua),
		renew:   redis.NewScript(renewLua),
		logger:  logger.With(slog.String("component", "lease")),
	}
}

// Acquire takes the lease for key. It returns domain.ErrLockHeld when another
// owner holds it. The returned unlock stops renewal and releases the lease;
// it is safe to call more than once.
func (lm *LeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redis: acquire lease %s: ttl must be positive", key)
	}
	token := uuid.NewString()
	lk := lm.c.key("lease", key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go lm.keepAlive(lk, token, ttl, stop, done)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's context may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lm.release.Run(ctx, lm.rdb, []string{lk}, token).Err(); err != nil {
				lm.logger.Warn("lease release failed", slog.String("key", key), slog.String("error", err.Error()))
			}
		})
	}
	return unlock, nil
}

func (lm *LeaseManager) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			n, err := lm.renew.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
			cancel()
			switch {
			case err != nil:
				lm.logger.Warn("lease renewal failed", slog.String("key", lk), slog.String("error", err.Error()))
			case n == 0:
				lm.logger.Error("lease lost", slog.String("key", lk))
				return
			}
		}
	}
}

var _ domain.LockManager = (*LeaseManager)(nil)
