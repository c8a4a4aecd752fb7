package action

import (
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/ledger"
)

// LendOp is the lending sub-operation.
type LendOp int32

const (
	LendBorrow LendOp = iota
	LendRepay
	LendLiquidate
	LendAddCollateral
	LendWithdrawCollateral
)

func (op LendOp) String() string {
	switch op {
	case LendBorrow:
		return "Borrow"
	case LendRepay:
		return "Repay"
	case LendLiquidate:
		return "Liquidate"
	case LendAddCollateral:
		return "AddCollateral"
	case LendWithdrawCollateral:
		return "WithdrawCollateral"
	default:
		return "Unknown"
	}
}

// Lend drives the user's single confidential loan slot.
type Lend struct {
	ActionID uuid.UUID
	UserID   uuid.UUID

	Op LendOp

	CollateralCommitment ledger.Commitment
	BorrowCommitment     ledger.Commitment
	RepaymentCommitment  ledger.Commitment

	InterestRateBps         uint16
	LiquidationThresholdBps uint16

	// LiquidationProof is required for Liquidate only.
	LiquidationProof ledger.Proof

	Sequence  int64
	Timestamp time.Time
}

func (l *Lend) IdempotencyKey() string {
	return l.ActionID.String()
}

func (l *Lend) ActionType() Type {
	return TypeLend
}

func (l *Lend) User() *uuid.UUID {
	u := l.UserID
	return &u
}

func (l *Lend) SourceSequence() int64 {
	return l.Sequence
}
