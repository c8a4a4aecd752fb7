package state

import "errors"

// Rejection sentinels. Handlers wrap these with context via fmt.Errorf %w;
// callers branch with errors.Is.
var (
	ErrNotInitialized      = errors.New("vault not initialized")
	ErrAlreadyInitialized  = errors.New("vault already initialized")
	ErrVaultPaused         = errors.New("vault paused")
	ErrVenueDisabled       = errors.New("venue disabled")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidParameter    = errors.New("invalid parameter")
	ErrPositionNotFound    = errors.New("position not found")
	ErrLoanAlreadyActive   = errors.New("loan already active")
	ErrNoActiveLoan        = errors.New("no active loan")
	ErrBridgePending       = errors.New("bridge request pending")
	ErrNoBridgePending     = errors.New("no pending bridge request")
	ErrInvalidBridgeState  = errors.New("invalid bridge state")
	ErrOrderNotCancellable = errors.New("order not cancellable")
	ErrComplianceRequired  = errors.New("compliance attestation required")
	ErrAttestationExpired  = errors.New("compliance attestation expired")
	ErrRiskScoreTooHigh    = errors.New("risk score too high")
)
