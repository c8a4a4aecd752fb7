package state

import (
	"fmt"

	"github.com/google/uuid"

	"ShieldVault/internal/ledger"
)

// BridgeStatus is the lifecycle of an outbound cross-chain request.
type BridgeStatus int32

const (
	BridgeStatusPending BridgeStatus = iota
	BridgeStatusCompleted
	BridgeStatusFailed
	BridgeStatusCancelled
)

func (bs BridgeStatus) String() string {
	switch bs {
	case BridgeStatusPending:
		return "Pending"
	case BridgeStatusCompleted:
		return "Completed"
	case BridgeStatusFailed:
		return "Failed"
	case BridgeStatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// destinationChains maps accepted chain tags to their canonical chain IDs.
var destinationChains = map[string]uint64{
	"ethereum":  1,
	"optimism":  10,
	"bsc":       56,
	"polygon":   137,
	"base":      8453,
	"arbitrum":  42161,
	"avalanche": 43114,
}

// ChainID resolves a destination chain tag. Unknown tags are rejected
// before any bridge state is created.
func ChainID(tag string) (uint64, error) {
	id, ok := destinationChains[tag]
	if !ok {
		return 0, fmt.Errorf("%w: unknown destination chain %q", ErrInvalidParameter, tag)
	}
	return id, nil
}

// BridgeRequest is a user's single in-flight outbound transfer. A new
// request may only be created once the previous one left Pending.
type BridgeRequest struct {
	User             uuid.UUID
	DestChainTag     string
	DestChainID      uint64
	AmountCommitment ledger.Commitment
	Status           BridgeStatus
	CreatedAt        int64
	ResolvedAt       int64
}

// Clone returns a copy safe to hand across goroutine boundaries.
func (br *BridgeRequest) Clone() *BridgeRequest {
	cp := *br
	return &cp
}

// Resolve moves a Pending request to a terminal status.
func (br *BridgeRequest) Resolve(status BridgeStatus, now int64) error {
	if br.Status != BridgeStatusPending {
		return fmt.Errorf("%w: request is %s", ErrInvalidBridgeState, br.Status)
	}
	br.Status = status
	br.ResolvedAt = now
	return nil
}
