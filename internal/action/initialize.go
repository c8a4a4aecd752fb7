package action

import (
	"time"

	"github.com/google/uuid"
)

// Initialize creates the vault aggregate. Accepted exactly once.
type Initialize struct {
	ActionID uuid.UUID
	Admin    uuid.UUID
	Treasury uuid.UUID

	ShieldedAsset  string
	SecondaryAsset string

	DepositFeeBps    uint16
	WithdrawalFeeBps uint16
	LendingFeeBps    uint16
	SwapFeeBps       uint16
	BridgeFeeBps     uint16
	InitialYieldBps  uint16

	ComplianceRequired bool

	Sequence  int64
	Timestamp time.Time
}

func (i *Initialize) IdempotencyKey() string {
	return i.ActionID.String()
}

func (i *Initialize) ActionType() Type {
	return TypeInitialize
}

func (i *Initialize) User() *uuid.UUID {
	return nil // Vault-global
}

func (i *Initialize) SourceSequence() int64 {
	return i.Sequence
}
