package action

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/ledger"
)

// WithdrawType selects which balance slots a withdrawal touches.
type WithdrawType int32

const (
	WithdrawPartial WithdrawType = iota
	WithdrawFull
	WithdrawYieldOnly
)

func (wt WithdrawType) String() string {
	switch wt {
	case WithdrawPartial:
		return "Partial"
	case WithdrawFull:
		return "Full"
	case WithdrawYieldOnly:
		return "YieldOnly"
	default:
		return "Unknown"
	}
}

// Withdraw unshields funds from the user's position. Every withdrawal,
// partial included, burns its nullifier.
type Withdraw struct {
	ActionID uuid.UUID
	UserID   uuid.UUID

	Type           WithdrawType
	ExpectedAmount int64 // Public outflow amount, base units

	// RemainderCommitment is the new principal commitment after a partial
	// withdrawal; ignored for Full and YieldOnly.
	RemainderCommitment ledger.Commitment

	Nullifier       ledger.Nullifier
	WithdrawalProof ledger.Proof
	OwnershipProof  ledger.Proof

	Sequence  int64
	Timestamp time.Time
}

func (w *Withdraw) IdempotencyKey() string {
	return fmt.Sprintf("withdraw:%s:%s", w.UserID, w.Nullifier.Hex())
}

func (w *Withdraw) ActionType() Type {
	return TypeWithdraw
}

func (w *Withdraw) User() *uuid.UUID {
	u := w.UserID
	return &u
}

func (w *Withdraw) SourceSequence() int64 {
	return w.Sequence
}
