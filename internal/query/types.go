package query

import "github.com/google/uuid"

// VaultStatsResponse is the public vault counter set. Commitments and
// balances stay hidden; only aggregate plumbing is visible.
type VaultStatsResponse struct {
	TotalShieldedTvl int64  `json:"total_shielded_tvl"`
	TotalPositions   int64  `json:"total_positions"`
	CurrentYieldBps  uint16 `json:"current_yield_bps"`
	IsPaused         bool   `json:"is_paused"`
	EmergencyMode    bool   `json:"emergency_mode"`
	AsOfSequence     int64  `json:"as_of_sequence"`
}

// PositionResponse is a user's confidential position for API queries.
// All amounts are hex-encoded commitments.
type PositionResponse struct {
	Owner               uuid.UUID `json:"owner"`
	BalanceCommitment   string    `json:"balance_commitment"`
	PrincipalCommitment string    `json:"principal_commitment"`
	YieldCommitment     string    `json:"yield_commitment"`
	HasActiveLoan       bool      `json:"has_active_loan"`
	HasPendingBridge    bool      `json:"has_pending_bridge"`
	ComplianceVerified  bool      `json:"compliance_verified"`
	DepositCount        uint32    `json:"deposit_count"`
	WithdrawalCount     uint32    `json:"withdrawal_count"`
	ActionCount         uint32    `json:"action_count"`
	Version             int64     `json:"version"`
	CreatedAt           int64     `json:"created_at"`
	LastActionAt        int64     `json:"last_action_at"`
	AsOfSequence        int64     `json:"as_of_sequence"`
}

// AccrueResponse is the read-side yield accrual view: the commitment tag
// the encrypted-compute venue would produce for this principal at the
// given moment. Derived at query time, never written back.
type AccrueResponse struct {
	Owner               uuid.UUID `json:"owner"`
	PrincipalCommitment string    `json:"principal_commitment"`
	AccruedCommitment   string    `json:"accrued_commitment"`
	YieldBps            uint16    `json:"yield_bps"`
	ElapsedSeconds      int64     `json:"elapsed_seconds"`
	YieldFactor         uint64    `json:"yield_factor"`
	AsOfSequence        int64     `json:"as_of_sequence"`
}

// BridgeResponse is a user's outbound bridge request for API queries.
type BridgeResponse struct {
	Owner            uuid.UUID `json:"owner"`
	DestChainTag     string    `json:"dest_chain_tag"`
	DestChainID      int64     `json:"dest_chain_id"`
	AmountCommitment string    `json:"amount_commitment"`
	Status           string    `json:"status"`
	InitiatedAt      int64     `json:"initiated_at"`
	ResolvedAt       int64     `json:"resolved_at,omitempty"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// AttestationResponse is a user's compliance attestation for API queries.
type AttestationResponse struct {
	Owner           uuid.UUID `json:"owner"`
	AttestationHash string    `json:"attestation_hash"`
	RiskScore       int32     `json:"risk_score"`
	IsValid         bool      `json:"is_valid"`
	AttestedAt      int64     `json:"attested_at"`
	ExpiresAt       int64     `json:"expires_at"`
	AsOfSequence    int64     `json:"as_of_sequence"`
}

// IntegrityReport is the result of an action-log integrity check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LatestSequence  int64   `json:"latest_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
}
