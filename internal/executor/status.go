package executor

import (
	"time"

	"github.com/alanyoungcy/stratoarb/internal/domain"
)

// PairStatus is a point-in-time view of one pair for the status API.
type PairStatus struct {
	Pair          string                 `json:"pair"`
	Pool          string                 `json:"pool"`
	Executing     bool                   `json:"executing"`
	LastExecution time.Time              `json:"last_execution"`
	LastScan      time.Time              `json:"last_scan"`
	LastOutcome   string                 `json:"last_outcome"`
	PoolPrice     string                 `json:"pool_price"`
	OraclePrice   string                 `json:"oracle_price"`
	DivergencePct string                 `json:"divergence_pct"`
	LastResult    *domain.ExecutionEvent `json:"last_result,omitempty"`
}

// Status returns a copy of the pair's current status.
func (e *Executor) Status() PairStatus {
	e.mu.Lock()
	s := e.status
	e.mu.Unlock()
	s.Executing = e.guard.Executing()
	s.LastExecution = e.guard.LastExecution()
	return s
}
