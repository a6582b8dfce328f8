package executor

import (
	"sync"
	"time"
)

// Guard admits at most one execution per pair at a time. Entry never blocks:
// a caller that finds the pair busy is turned away and decides for itself
// what to do. It is safe for concurrent use.
type Guard struct {
	mu            sync.Mutex
	executing     bool
	lastExecution time.Time
	now           func() time.Time
}

// NewGuard returns an idle guard.
func NewGuard() *Guard {
	return &Guard{now: time.Now}
}

// TryEnter marks the pair as executing. It returns ok=false when an
// execution is already in flight. On success the caller must call release
// exactly once on every path; further calls are no-ops.
func (g *Guard) TryEnter() (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.executing {
		return nil, false
	}
	g.executing = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.executing = false
			g.lastExecution = g.now()
			g.mu.Unlock()
		})
	}, true
}

// Executing reports whether an execution is in flight.
func (g *Guard) Executing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.executing
}

// LastExecution is when the most recent execution finished, or the zero
// time if none has.
func (g *Guard) LastExecution() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastExecution
}
