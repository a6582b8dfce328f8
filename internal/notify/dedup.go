package notify

import (
	"sync"
	"time"
)

// Dedup suppresses repeats of the same alert key within a TTL window. It is
// safe for concurrent use.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewDedup creates a Dedup. A non-positive ttl disables suppression.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// Seen reports whether key was let through within the window. If not, the
// key is recorded and false is returned. Expired keys are pruned on the way.
func (d *Dedup) Seen(key string) bool {
	if d == nil || d.ttl <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}
