package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Direction is the side taken on token A of a pair.
type Direction string

const (
	// DirectionBuy spends token B to acquire token A.
	DirectionBuy Direction = "buy"
	// DirectionSell disposes of token A for token B.
	DirectionSell Direction = "sell"
)

// Opportunity is a single priced arbitrage decision. It is only valid against
// the reserve and price snapshot it was derived from and must not be mutated
// after construction. Pool, TokenIn and QuoteUSDPrice pin that snapshot so
// execution never depends on a later refresh.
type Opportunity struct {
	Direction       Direction
	OptimalInput    *big.Int // input token, wei
	ExpectedOutput  *big.Int // output token, wei
	EstimatedProfit *big.Int // token B, wei

	Pool          common.Address
	TokenIn       common.Address
	QuoteUSDPrice *big.Int // USD per token B at scan time, wei
}

// TxRecord is one transaction submitted while executing an opportunity.
type TxRecord struct {
	Type      string    `json:"type"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// ExecutionResult is produced exactly once per execution attempt.
type ExecutionResult struct {
	ID           string
	Pair         string
	Success      bool
	Busy         bool // rejected by the execution guard, nothing was submitted
	Opportunity  Opportunity
	Transactions []TxRecord
	// ActualProfit is the USD-denominated profit (wei scale) credited to the
	// profit ledger. Nil when nothing was recorded.
	ActualProfit *big.Int
	StartedAt    time.Time
	Duration     time.Duration
	Err          error
}

// Cause returns the human-readable failure cause, or "" on success.
func (r ExecutionResult) Cause() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// TxStatus is the terminal status of a confirmed transaction.
type TxStatus string

const (
	TxStatusSuccess TxStatus = "success"
	TxStatusFailure TxStatus = "failure"
)

// Confirmation is the terminal outcome of a submitted transaction.
type Confirmation struct {
	Hash   string
	Status TxStatus
	Detail string
}

// ExecutionsChannel is the signal bus channel carrying ExecutionEvent JSON.
const ExecutionsChannel = "arbbot:executions"

// ExecutionEvent is the wire form of an ExecutionResult. Amounts are decimal
// strings in wei.
type ExecutionEvent struct {
	ID              string     `json:"id"`
	Pair            string     `json:"pair"`
	Success         bool       `json:"success"`
	Busy            bool       `json:"busy,omitempty"`
	Direction       Direction  `json:"direction,omitempty"`
	AmountIn        string     `json:"amount_in,omitempty"`
	ExpectedOut     string     `json:"expected_out,omitempty"`
	EstimatedProfit string     `json:"estimated_profit,omitempty"`
	ActualProfitUSD string     `json:"actual_profit_usd_wei,omitempty"`
	Transactions    []TxRecord `json:"transactions,omitempty"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	DurationMs      int64      `json:"duration_ms"`
}

// Event converts the result to its wire form.
func (r ExecutionResult) Event() ExecutionEvent {
	return ExecutionEvent{
		ID:              r.ID,
		Pair:            r.Pair,
		Success:         r.Success,
		Busy:            r.Busy,
		Direction:       r.Opportunity.Direction,
		AmountIn:        bigString(r.Opportunity.OptimalInput),
		ExpectedOut:     bigString(r.Opportunity.ExpectedOutput),
		EstimatedProfit: bigString(r.Opportunity.EstimatedProfit),
		ActualProfitUSD: bigString(r.ActualProfit),
		Transactions:    r.Transactions,
		Error:           r.Cause(),
		StartedAt:       r.StartedAt,
		DurationMs:      r.Duration.Milliseconds(),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
