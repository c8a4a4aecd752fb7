package state

import (
	"github.com/google/uuid"
)

// LendingPosition is the single loan a position may hold against its
// confidential collateral. At most one active loan per user.
type LendingPosition struct {
	Borrower uuid.UUID

	EncryptedCollateral EncryptedAmount
	EncryptedBorrow     EncryptedAmount

	InterestRateBps         uint16
	LiquidationThresholdBps uint16

	IsActive      bool
	OriginatedAt  int64
	LastAccrualAt int64
	ClosedAt      int64
}

// Close deactivates the loan, either by repayment or liquidation.
func (lp *LendingPosition) Close(now int64) {
	lp.IsActive = false
	lp.ClosedAt = now
}

// Clone returns a copy safe to hand across goroutine boundaries.
func (lp *LendingPosition) Clone() *LendingPosition {
	cp := *lp
	return &cp
}
