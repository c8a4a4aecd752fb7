package state

import (
	"fmt"

	"github.com/google/uuid"
)

// PositionStore owns every per-user entity. Exactly one goroutine (the
// core) reads and writes it; there is no locking by construction.
type PositionStore struct {
	positions    map[uuid.UUID]*EncryptedPosition
	loans        map[uuid.UUID]*LendingPosition
	bridges      map[uuid.UUID]*BridgeRequest
	orders       map[uuid.UUID]*DarkPoolOrder
	attestations map[uuid.UUID]*ComplianceAttestation
}

func NewPositionStore() *PositionStore {
	return &PositionStore{
		positions:    make(map[uuid.UUID]*EncryptedPosition),
		loans:        make(map[uuid.UUID]*LendingPosition),
		bridges:      make(map[uuid.UUID]*BridgeRequest),
		orders:       make(map[uuid.UUID]*DarkPoolOrder),
		attestations: make(map[uuid.UUID]*ComplianceAttestation),
	}
}

// Position returns the user's position if one exists.
func (ps *PositionStore) Position(user uuid.UUID) (*EncryptedPosition, bool) {
	p, ok := ps.positions[user]
	return p, ok
}

// RequirePosition returns the user's position or ErrPositionNotFound.
func (ps *PositionStore) RequirePosition(user uuid.UUID) (*EncryptedPosition, error) {
	p, ok := ps.positions[user]
	if !ok {
		return nil, fmt.Errorf("%w: user=%s", ErrPositionNotFound, user)
	}
	return p, nil
}

// GetOrCreatePosition returns the existing position or a fresh one.
// The created flag tells the caller to bump the vault position counter.
func (ps *PositionStore) GetOrCreatePosition(user uuid.UUID, now int64) (pos *EncryptedPosition, created bool) {
	if p, ok := ps.positions[user]; ok {
		return p, false
	}
	p := &EncryptedPosition{
		Owner:     user,
		CreatedAt: now,
	}
	ps.positions[user] = p
	return p, true
}

// Loan returns the user's loan slot if one was ever opened.
func (ps *PositionStore) Loan(user uuid.UUID) (*LendingPosition, bool) {
	l, ok := ps.loans[user]
	return l, ok
}

// ActiveLoan returns the user's loan or ErrNoActiveLoan when absent or
// already closed.
func (ps *PositionStore) ActiveLoan(user uuid.UUID) (*LendingPosition, error) {
	l, ok := ps.loans[user]
	if !ok || !l.IsActive {
		return nil, fmt.Errorf("%w: user=%s", ErrNoActiveLoan, user)
	}
	return l, nil
}

// EnsureNoActiveLoan rejects when the user already borrows.
func (ps *PositionStore) EnsureNoActiveLoan(user uuid.UUID) error {
	if l, ok := ps.loans[user]; ok && l.IsActive {
		return fmt.Errorf("%w: user=%s", ErrLoanAlreadyActive, user)
	}
	return nil
}

// PutLoan installs a freshly originated loan, overwriting a closed slot.
func (ps *PositionStore) PutLoan(loan *LendingPosition) {
	ps.loans[loan.Borrower] = loan
}

// Bridge returns the user's bridge request slot.
func (ps *PositionStore) Bridge(user uuid.UUID) (*BridgeRequest, bool) {
	b, ok := ps.bridges[user]
	return b, ok
}

// PendingBridge returns the user's request or ErrNoBridgePending when the
// slot is empty or already resolved.
func (ps *PositionStore) PendingBridge(user uuid.UUID) (*BridgeRequest, error) {
	b, ok := ps.bridges[user]
	if !ok {
		return nil, fmt.Errorf("%w: user=%s", ErrNoBridgePending, user)
	}
	if b.Status != BridgeStatusPending {
		return nil, fmt.Errorf("%w: request is %s", ErrInvalidBridgeState, b.Status)
	}
	return b, nil
}

// EnsureNoPendingBridge rejects when an outbound request is in flight.
func (ps *PositionStore) EnsureNoPendingBridge(user uuid.UUID) error {
	if b, ok := ps.bridges[user]; ok && b.Status == BridgeStatusPending {
		return fmt.Errorf("%w: user=%s", ErrBridgePending, user)
	}
	return nil
}

// PutBridge installs a new outbound request, overwriting a resolved slot.
func (ps *PositionStore) PutBridge(req *BridgeRequest) {
	ps.bridges[req.User] = req
}

// Order returns the user's dark pool order slot.
func (ps *PositionStore) Order(user uuid.UUID) (*DarkPoolOrder, bool) {
	o, ok := ps.orders[user]
	return o, ok
}

// PutOrder installs or overwrites the user's resting order.
func (ps *PositionStore) PutOrder(order *DarkPoolOrder) {
	ps.orders[order.Maker] = order
}

// Attestation returns the user's compliance attestation slot.
func (ps *PositionStore) Attestation(user uuid.UUID) (*ComplianceAttestation, bool) {
	a, ok := ps.attestations[user]
	return a, ok
}

// PutAttestation installs or refreshes the user's attestation.
func (ps *PositionStore) PutAttestation(att *ComplianceAttestation) {
	ps.attestations[att.User] = att
}

// RestorePosition installs a position during snapshot recovery.
func (ps *PositionStore) RestorePosition(p *EncryptedPosition) {
	ps.positions[p.Owner] = p
}

// PositionCount returns the number of position records (incl. emptied).
func (ps *PositionStore) PositionCount() int {
	return len(ps.positions)
}

// AllPositions iterates every position for snapshotting.
func (ps *PositionStore) AllPositions() []*EncryptedPosition {
	out := make([]*EncryptedPosition, 0, len(ps.positions))
	for _, p := range ps.positions {
		out = append(out, p)
	}
	return out
}

// AllLoans iterates every loan slot for snapshotting.
func (ps *PositionStore) AllLoans() []*LendingPosition {
	out := make([]*LendingPosition, 0, len(ps.loans))
	for _, l := range ps.loans {
		out = append(out, l)
	}
	return out
}

// AllBridges iterates every bridge slot for snapshotting.
func (ps *PositionStore) AllBridges() []*BridgeRequest {
	out := make([]*BridgeRequest, 0, len(ps.bridges))
	for _, b := range ps.bridges {
		out = append(out, b)
	}
	return out
}

// AllOrders iterates every order slot for snapshotting.
func (ps *PositionStore) AllOrders() []*DarkPoolOrder {
	out := make([]*DarkPoolOrder, 0, len(ps.orders))
	for _, o := range ps.orders {
		out = append(out, o)
	}
	return out
}

// AllAttestations iterates every attestation for snapshotting.
func (ps *PositionStore) AllAttestations() []*ComplianceAttestation {
	out := make([]*ComplianceAttestation, 0, len(ps.attestations))
	for _, a := range ps.attestations {
		out = append(out, a)
	}
	return out
}
