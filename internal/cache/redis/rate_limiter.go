package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// slidingWindowLua admits a request if fewer than ARGV[3] requests were
// admitted in the last ARGV[2] microseconds. Returns {admitted, count}.
const slidingWindowLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count < limit then
    redis.call('ZADD', key, now, ARGV[4])
    redis.call('PEXPIRE', key, math.ceil(window / 1000))
    return {1, count + 1}
end
return {0, count}
`

const quotaPoll = 50 * time.Millisecond

// RequestQuota implements domain.RequestQuota with a sliding window shared by
// every process using the same Redis, so several bots can split one oracle
// API key.
type RequestQuota struct {
	rdb    *redis.Client
	c      *Client
	limit  int
	window time.Duration
	script *redis.Script
	now    func() time.Time
}

// NewRequestQuota admits at most limit requests per window for each key.
func NewRequestQuota(c *Client, limit int, window time.Duration) *RequestQuota {
	return &RequestQuota{
		rdb:    c.rdb,
		c:      c,
		limit:  limit,
		window: window,
		script: redis.NewScript(slidingWindowLua),
		now:    time.Now,
	}
}

// Allow reports whether one more request for key fits in the window, and
// counts it if so.
func (q *RequestQuota) Allow(ctx context.Context, key string) (bool, error) {
	res, err := q.script.Run(ctx, q.rdb,
		[]string{q.c.key("quota", key)},
		q.now().UnixMicro(), q.window.Microseconds(), q.limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: quota %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: quota %s: unexpected result length %d", key, len(res))
	}
	return res[0] == 1, nil
}

// Wait blocks until a request for key is admitted or ctx ends.
func (q *RequestQuota) Wait(ctx context.Context, key string) error {
	for {
		ok, err := q.Allow(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		t := time.NewTimer(quotaPoll)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("redis: quota wait %s: %w", key, ctx.Err())
		case <-t.C:
		}
	}
}

var _ domain.RequestQuota = (*RequestQuota)(nil)
