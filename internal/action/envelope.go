package action

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminator for action payloads. One type per action category;
// sub-operations are discriminated inside the payload.
type Type int32

const (
	TypeUnknown Type = iota
	TypeInitialize
	TypeDeposit
	TypeWithdraw
	TypeLend
	TypeSwap
	TypeBridge
	TypeCompliance
	TypeAdminControl
)

// Envelope wraps every applied action in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Action type discriminator
	ActionType Type

	// Acting user (nil for vault-global actions: initialize, admin)
	User *uuid.UUID

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded action-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this action
	StateHash [32]byte

	// Previous action's state hash (chain integrity)
	PrevHash [32]byte
}

// Action is the interface all action payloads must implement
type Action interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// ActionType returns the discriminator
	ActionType() Type

	// User returns the acting user (nil for vault-global actions)
	User() *uuid.UUID

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (t Type) String() string {
	switch t {
	case TypeInitialize:
		return "Initialize"
	case TypeDeposit:
		return "Deposit"
	case TypeWithdraw:
		return "Withdraw"
	case TypeLend:
		return "Lend"
	case TypeSwap:
		return "Swap"
	case TypeBridge:
		return "Bridge"
	case TypeCompliance:
		return "Compliance"
	case TypeAdminControl:
		return "AdminControl"
	default:
		return "Unknown"
	}
}
