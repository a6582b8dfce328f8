package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrLockHeld         = errors.New("lock already held")
	ErrBusy             = errors.New("executor is already running")
	ErrPriceUnavailable = errors.New("oracle price unavailable")
	ErrSubmitFailed     = errors.New("swap submission failed")
	ErrTxFailed         = errors.New("transaction failed")
	ErrTxTimeout        = errors.New("transaction confirmation timed out")
)
