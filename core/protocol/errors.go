package protocol

import "errors"

var (
	ErrInvalidAmount      = errors.New("protocol: amount must be positive")
	ErrBelowMinDebt       = errors.New("protocol: debt below minimum")
	ErrDustDebt           = errors.New("protocol: residual debt below minimum")
	ErrBelowMCR           = errors.New("protocol: collateral ratio below MCR")
	ErrBelowCCRInRecovery = errors.New("protocol: collateral ratio below CCR in recovery mode")
	ErrTCRWouldDecrease   = errors.New("protocol: operation would decrease TCR in recovery mode")
	ErrStalePrice         = errors.New("protocol: stale price")
	// ErrInvariantViolation is fatal: the working state is discarded and the
	// committed state left untouched. It indicates an implementation bug and
	// callers must treat it as corruption.
	ErrInvariantViolation = errors.New("protocol: invariant violation")
)
