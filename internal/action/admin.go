package action

import (
	"time"

	"github.com/google/uuid"
)

// AdminOp is the admin control sub-operation.
type AdminOp int32

const (
	AdminUpdateFees AdminOp = iota
	AdminUpdateYieldRate
	AdminPause
	AdminUnpause
	AdminSetEmergency
	AdminClearEmergency
	AdminToggleVenues
	AdminDepositRewards
	AdminSetComplianceRequired
)

func (op AdminOp) String() string {
	switch op {
	case AdminUpdateFees:
		return "UpdateFees"
	case AdminUpdateYieldRate:
		return "UpdateYieldRate"
	case AdminPause:
		return "Pause"
	case AdminUnpause:
		return "Unpause"
	case AdminSetEmergency:
		return "SetEmergency"
	case AdminClearEmergency:
		return "ClearEmergency"
	case AdminToggleVenues:
		return "ToggleVenues"
	case AdminDepositRewards:
		return "DepositRewards"
	case AdminSetComplianceRequired:
		return "SetComplianceRequired"
	default:
		return "Unknown"
	}
}

// FeePatch carries a partial fee-schedule update; nil fields are untouched.
type FeePatch struct {
	DepositFeeBps    *uint16
	WithdrawalFeeBps *uint16
	LendingFeeBps    *uint16
	SwapFeeBps       *uint16
	BridgeFeeBps     *uint16
}

// VenuePatch carries a partial venue-switch update; nil fields are untouched.
type VenuePatch struct {
	EncryptedCompute *bool
	PrivateTransfer  *bool
	DarkPool         *bool
	LendingMarket    *bool
	BridgeRelay      *bool
	SwapDesk         *bool
	ComplianceOracle *bool
}

// AdminControl mutates vault configuration. Only the configured admin may
// issue it; authorization is checked against the acting identity, never
// against payload contents.
type AdminControl struct {
	ActionID uuid.UUID
	Admin    uuid.UUID // Acting identity

	Op AdminOp

	Fees               *FeePatch
	Venues             *VenuePatch
	YieldBps           *uint16
	ComplianceRequired *bool
	RewardAmount       int64 // DepositRewards only

	Sequence  int64
	Timestamp time.Time
}

func (a *AdminControl) IdempotencyKey() string {
	return a.ActionID.String()
}

func (a *AdminControl) ActionType() Type {
	return TypeAdminControl
}

func (a *AdminControl) User() *uuid.UUID {
	return nil // Vault-global
}

func (a *AdminControl) SourceSequence() int64 {
	return a.Sequence
}
