package action

import (
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/ledger"
)

// BridgeOp is the cross-chain sub-operation.
type BridgeOp int32

const (
	BridgeInitiateOutbound BridgeOp = iota
	BridgeVerifyCompletion
	BridgeCancelRequest
	BridgeClaimInbound
)

func (op BridgeOp) String() string {
	switch op {
	case BridgeInitiateOutbound:
		return "InitiateOutbound"
	case BridgeVerifyCompletion:
		return "VerifyCompletion"
	case BridgeCancelRequest:
		return "CancelRequest"
	case BridgeClaimInbound:
		return "ClaimInbound"
	default:
		return "Unknown"
	}
}

// Bridge manages the user's single in-flight cross-chain transfer.
type Bridge struct {
	ActionID uuid.UUID
	UserID   uuid.UUID

	Op BridgeOp

	DestChainTag     string // InitiateOutbound only
	AmountCommitment ledger.Commitment

	BridgeProof  ledger.Proof
	InboundProof ledger.Proof // ClaimInbound only

	Sequence  int64
	Timestamp time.Time
}

func (b *Bridge) IdempotencyKey() string {
	return b.ActionID.String()
}

func (b *Bridge) ActionType() Type {
	return TypeBridge
}

func (b *Bridge) User() *uuid.UUID {
	u := b.UserID
	return &u
}

func (b *Bridge) SourceSequence() int64 {
	return b.Sequence
}
