package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNullifierReused is returned when a withdrawal presents a nullifier
// that has already been consumed for the same position.
var ErrNullifierReused = errors.New("nullifier already consumed")

// DBNullifierChecker is the cold tier backed by Postgres. Consulted only
// on an in-memory miss, so a warm ledger never touches the database.
type DBNullifierChecker interface {
	IsConsumed(owner uuid.UUID, nullifier Nullifier) (bool, error)
}

type nullifierKey struct {
	owner     uuid.UUID
	nullifier Nullifier
}

// NullifierLedger tracks every consumed nullifier per position owner.
// Retention is unbounded: older nullifiers stay rejected forever, not
// just the most recent one. All access happens on the core goroutine,
// so check-then-set is atomic without locking.
type NullifierLedger struct {
	consumed  map[nullifierKey]struct{}
	dbChecker DBNullifierChecker // Optional second tier
}

func NewNullifierLedger(dbChecker DBNullifierChecker) *NullifierLedger {
	return &NullifierLedger{
		consumed:  make(map[nullifierKey]struct{}),
		dbChecker: dbChecker,
	}
}

// AttachDB wires (or replaces) the durable second tier.
func (nl *NullifierLedger) AttachDB(dbChecker DBNullifierChecker) {
	nl.dbChecker = dbChecker
}

// IsConsumed reports whether the nullifier was already spent by owner.
// Checks the in-memory set first, then the DB tier.
func (nl *NullifierLedger) IsConsumed(owner uuid.UUID, n Nullifier) (bool, error) {
	if _, ok := nl.consumed[nullifierKey{owner: owner, nullifier: n}]; ok {
		return true, nil
	}

	if nl.dbChecker != nil {
		consumed, err := nl.dbChecker.IsConsumed(owner, n)
		if err != nil {
			return false, fmt.Errorf("nullifier db check: %w", err)
		}
		if consumed {
			// Warm the in-memory set so the next check stays local
			nl.consumed[nullifierKey{owner: owner, nullifier: n}] = struct{}{}
			return true, nil
		}
	}

	return false, nil
}

// Record consumes the nullifier for owner, failing with ErrNullifierReused
// if it was ever consumed before. Callers must run all other validations
// first: once Record succeeds the nullifier is burned.
func (nl *NullifierLedger) Record(owner uuid.UUID, n Nullifier) error {
	consumed, err := nl.IsConsumed(owner, n)
	if err != nil {
		return err
	}
	if consumed {
		return fmt.Errorf("%w: owner=%s nullifier=%s", ErrNullifierReused, owner, n.Short())
	}

	nl.consumed[nullifierKey{owner: owner, nullifier: n}] = struct{}{}
	return nil
}

// Size returns the number of nullifiers held in memory.
func (nl *NullifierLedger) Size() int {
	return len(nl.consumed)
}

// ConsumedEntry is a serializable (owner, nullifier) pair for snapshots.
type ConsumedEntry struct {
	Owner     uuid.UUID `json:"owner"`
	Nullifier string    `json:"nullifier"` // hex
}

// Snapshot exports the full consumed set for snapshotting.
func (nl *NullifierLedger) Snapshot() []ConsumedEntry {
	entries := make([]ConsumedEntry, 0, len(nl.consumed))
	for key := range nl.consumed {
		entries = append(entries, ConsumedEntry{
			Owner:     key.owner,
			Nullifier: key.nullifier.Hex(),
		})
	}
	return entries
}

// Restore warms the in-memory set from snapshot entries. Malformed
// entries are skipped: the DB tier still covers them.
func (nl *NullifierLedger) Restore(entries []ConsumedEntry) {
	for _, e := range entries {
		raw, err := hex.DecodeString(e.Nullifier)
		if err != nil || len(raw) != BlobLen {
			continue
		}
		var n Nullifier
		copy(n[:], raw)
		nl.consumed[nullifierKey{owner: e.Owner, nullifier: n}] = struct{}{}
	}
}
