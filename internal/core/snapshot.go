package core

import (
	"ShieldVault/internal/ledger"
	"ShieldVault/internal/state"
)

// SnapshotState captures the full in-memory vault state at a sequence
// boundary: config, every entity, the consumed nullifier set, sequence
// partitions, and recent idempotency keys for LRU warming.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte

	Config       *state.VaultConfig
	Positions    []*state.EncryptedPosition
	Loans        []*state.LendingPosition
	Bridges      []*state.BridgeRequest
	Orders       []*state.DarkPoolOrder
	Attestations []*state.ComplianceAttestation

	Nullifiers      []ledger.ConsumedEntry
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
// Must run on the goroutine that owns the core (the core loop services
// snapshot requests between actions). The result shares no memory with
// live state, so the caller may serialize and persist it elsewhere.
func (c *VaultCore) CreateSnapshotState() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Nullifiers:      c.nullifiers.Snapshot(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
	if c.config != nil {
		snap.Config = c.config.Clone()
	}

	for _, pos := range c.store.AllPositions() {
		snap.Positions = append(snap.Positions, pos.Clone())
	}
	for _, loan := range c.store.AllLoans() {
		snap.Loans = append(snap.Loans, loan.Clone())
	}
	for _, req := range c.store.AllBridges() {
		snap.Bridges = append(snap.Bridges, req.Clone())
	}
	for _, order := range c.store.AllOrders() {
		snap.Orders = append(snap.Orders, order.Clone())
	}
	for _, att := range c.store.AllAttestations() {
		snap.Attestations = append(snap.Attestations, att.Clone())
	}

	return snap
}

// RestoreFromSnapshot rebuilds the core from a loaded snapshot. Replay of
// the action log from snap.Sequence+1 follows.
func (c *VaultCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.processedSeq.Store(c.sequence)
	c.hasher.SetPrevHash(snap.StateHash)
	c.config = snap.Config

	for _, pos := range snap.Positions {
		c.store.RestorePosition(pos)
	}
	for _, loan := range snap.Loans {
		c.store.PutLoan(loan)
	}
	for _, req := range snap.Bridges {
		c.store.PutBridge(req)
	}
	for _, order := range snap.Orders {
		c.store.PutOrder(order)
	}
	for _, att := range snap.Attestations {
		c.store.PutAttestation(att)
	}

	c.nullifiers.Restore(snap.Nullifiers)

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}

	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
}
