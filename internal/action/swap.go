package action

import (
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/ledger"
)

// SwapOp is the swap / dark pool sub-operation.
type SwapOp int32

const (
	SwapExecute SwapOp = iota
	SwapPlaceLimitOrder
	SwapCancelOrder
	SwapMatchDarkPool
)

func (op SwapOp) String() string {
	switch op {
	case SwapExecute:
		return "Execute"
	case SwapPlaceLimitOrder:
		return "PlaceLimitOrder"
	case SwapCancelOrder:
		return "CancelOrder"
	case SwapMatchDarkPool:
		return "MatchDarkPool"
	default:
		return "Unknown"
	}
}

// SwapRoute selects the execution venue for SwapExecute.
type SwapRoute int32

const (
	RouteSwapDesk SwapRoute = iota
	RouteDarkPool
	RouteSplit
)

func (r SwapRoute) String() string {
	switch r {
	case RouteSwapDesk:
		return "SwapDesk"
	case RouteDarkPool:
		return "DarkPool"
	case RouteSplit:
		return "Split"
	default:
		return "Unknown"
	}
}

// MaxSlippageBps caps the accepted slippage tolerance on SwapExecute.
const MaxSlippageBps = 1_000

// Swap executes a confidential swap or manages the user's dark pool order.
type Swap struct {
	ActionID uuid.UUID
	UserID   uuid.UUID

	Op    SwapOp
	Route SwapRoute

	AmountInCommitment     ledger.Commitment
	MinAmountOutCommitment ledger.Commitment
	PriceCommitment        ledger.Commitment // Limit price; PlaceLimitOrder only

	Side           int32 // 0 buy, 1 sell; dark pool orders only
	MaxSlippageBps uint16
	SplitWeightBps uint16 // Route weight for Split; bps toward the swap desk

	SwapProof ledger.Proof

	Sequence  int64
	Timestamp time.Time
}

func (s *Swap) IdempotencyKey() string {
	return s.ActionID.String()
}

func (s *Swap) ActionType() Type {
	return TypeSwap
}

func (s *Swap) User() *uuid.UUID {
	u := s.UserID
	return &u
}

func (s *Swap) SourceSequence() int64 {
	return s.Sequence
}
