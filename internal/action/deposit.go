package action

import (
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/ledger"
)

// Deposit shields an amount into the user's position. The public amount
// leaves the record here; from this point on only commitments circulate.
type Deposit struct {
	ActionID uuid.UUID
	UserID   uuid.UUID

	Amount           int64 // Public inflow amount, base units
	AmountCommitment ledger.Commitment
	BlindingFactor   [ledger.BlobLen]byte // Stored as the decryption handle

	Sequence  int64
	Timestamp time.Time
}

func (d *Deposit) IdempotencyKey() string {
	return d.ActionID.String()
}

func (d *Deposit) ActionType() Type {
	return TypeDeposit
}

func (d *Deposit) User() *uuid.UUID {
	u := d.UserID
	return &u
}

func (d *Deposit) SourceSequence() int64 {
	return d.Sequence
}
