package action

import (
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/ledger"
)

// ComplianceOp is the attestation sub-operation.
type ComplianceOp int32

const (
	ComplianceSubmit ComplianceOp = iota
	ComplianceVerify
	ComplianceRevoke
	ComplianceRenew
)

func (op ComplianceOp) String() string {
	switch op {
	case ComplianceSubmit:
		return "Submit"
	case ComplianceVerify:
		return "Verify"
	case ComplianceRevoke:
		return "Revoke"
	case ComplianceRenew:
		return "Renew"
	default:
		return "Unknown"
	}
}

// Compliance manages the user's regulatory attestation.
type Compliance struct {
	ActionID uuid.UUID
	UserID   uuid.UUID

	Op ComplianceOp

	AttestationHash [32]byte
	ValidityDays    uint16
	DisclosureProof ledger.Proof

	Sequence  int64
	Timestamp time.Time
}

func (c *Compliance) IdempotencyKey() string {
	return c.ActionID.String()
}

func (c *Compliance) ActionType() Type {
	return TypeCompliance
}

func (c *Compliance) User() *uuid.UUID {
	u := c.UserID
	return &u
}

func (c *Compliance) SourceSequence() int64 {
	return c.Sequence
}
