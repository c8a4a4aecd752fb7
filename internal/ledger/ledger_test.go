package ledger_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/uuid"

	"ShieldVault/internal/ledger"
)

// ============================================================================
// Test: Commitment / Proof / Nullifier well-formedness
// ============================================================================

func mustCommitment(t *testing.T, fill byte) ledger.Commitment {
	t.Helper()
	c, err := ledger.ParseCommitment(bytes.Repeat([]byte{fill}, ledger.BlobLen))
	if err != nil {
		t.Fatalf("ParseCommitment: %v", err)
	}
	return c
}

func mustNullifier(t *testing.T, fill byte) ledger.Nullifier {
	t.Helper()
	n, err := ledger.ParseNullifier(bytes.Repeat([]byte{fill}, ledger.BlobLen))
	if err != nil {
		t.Fatalf("ParseNullifier: %v", err)
	}
	return n
}

func TestParseCommitment_Valid(t *testing.T) {
	c := mustCommitment(t, 0xAB)
	if c.IsZero() {
		t.Error("commitment should not be zero")
	}
	if len(c.Hex()) != ledger.BlobLen*2 {
		t.Errorf("hex length: got %d, want %d", len(c.Hex()), ledger.BlobLen*2)
	}
}

func TestParseCommitment_WrongLength(t *testing.T) {
	_, err := ledger.ParseCommitment(make([]byte, 16))
	if !errors.Is(err, ledger.ErrMalformedCommitment) {
		t.Errorf("got %v, want ErrMalformedCommitment", err)
	}
}

func TestParseCommitment_AllZero(t *testing.T) {
	_, err := ledger.ParseCommitment(make([]byte, ledger.BlobLen))
	if !errors.Is(err, ledger.ErrMalformedCommitment) {
		t.Errorf("got %v, want ErrMalformedCommitment", err)
	}
}

func TestParseProof_AllZero(t *testing.T) {
	_, err := ledger.ParseProof(make([]byte, ledger.BlobLen))
	if !errors.Is(err, ledger.ErrMalformedProof) {
		t.Errorf("got %v, want ErrMalformedProof", err)
	}
}

func TestParseNullifier_WrongLength(t *testing.T) {
	_, err := ledger.ParseNullifier(make([]byte, 64))
	if !errors.Is(err, ledger.ErrMalformedNullifier) {
		t.Errorf("got %v, want ErrMalformedNullifier", err)
	}
}

func TestValidateCommitment_Zero(t *testing.T) {
	if err := ledger.ValidateCommitment(ledger.Commitment{}); !errors.Is(err, ledger.ErrMalformedCommitment) {
		t.Errorf("got %v, want ErrMalformedCommitment", err)
	}
}

// ============================================================================
// Test: NullifierLedger
// ============================================================================

func TestNullifierLedger_RecordOnce(t *testing.T) {
	nl := ledger.NewNullifierLedger(nil)
	owner := uuid.New()
	n := mustNullifier(t, 0x01)

	if err := nl.Record(owner, n); err != nil {
		t.Fatalf("first record: %v", err)
	}

	consumed, err := nl.IsConsumed(owner, n)
	if err != nil {
		t.Fatalf("IsConsumed: %v", err)
	}
	if !consumed {
		t.Error("nullifier should be consumed after record")
	}
}

func TestNullifierLedger_RejectsReuse(t *testing.T) {
	nl := ledger.NewNullifierLedger(nil)
	owner := uuid.New()
	n := mustNullifier(t, 0x02)

	if err := nl.Record(owner, n); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := nl.Record(owner, n); !errors.Is(err, ledger.ErrNullifierReused) {
		t.Errorf("second record: got %v, want ErrNullifierReused", err)
	}
}

func TestNullifierLedger_RetainsOldNullifiers(t *testing.T) {
	// Reuse of an OLD nullifier must fail even after newer ones were
	// consumed: retention is the full set, not most-recent-wins.
	nl := ledger.NewNullifierLedger(nil)
	owner := uuid.New()

	first := mustNullifier(t, 0x10)
	if err := nl.Record(owner, first); err != nil {
		t.Fatalf("record first: %v", err)
	}
	for fill := byte(0x11); fill < 0x20; fill++ {
		if err := nl.Record(owner, mustNullifier(t, fill)); err != nil {
			t.Fatalf("record %#x: %v", fill, err)
		}
	}

	if err := nl.Record(owner, first); !errors.Is(err, ledger.ErrNullifierReused) {
		t.Errorf("old nullifier: got %v, want ErrNullifierReused", err)
	}
}

func TestNullifierLedger_ScopedPerOwner(t *testing.T) {
	nl := ledger.NewNullifierLedger(nil)
	n := mustNullifier(t, 0x03)

	if err := nl.Record(uuid.New(), n); err != nil {
		t.Fatalf("owner A: %v", err)
	}
	if err := nl.Record(uuid.New(), n); err != nil {
		t.Errorf("owner B with same bytes: got %v, want nil", err)
	}
}

type stubDBChecker struct {
	consumed map[string]bool
	calls    int
}

func (s *stubDBChecker) IsConsumed(owner uuid.UUID, n ledger.Nullifier) (bool, error) {
	s.calls++
	return s.consumed[owner.String()+":"+n.Hex()], nil
}

func TestNullifierLedger_DBTierOnMiss(t *testing.T) {
	owner := uuid.New()
	n := mustNullifier(t, 0x04)

	db := &stubDBChecker{consumed: map[string]bool{owner.String() + ":" + n.Hex(): true}}
	nl := ledger.NewNullifierLedger(db)

	if err := nl.Record(owner, n); !errors.Is(err, ledger.ErrNullifierReused) {
		t.Errorf("got %v, want ErrNullifierReused from db tier", err)
	}
	if db.calls == 0 {
		t.Error("db tier should have been consulted")
	}

	// Second check hits the warmed in-memory set, not the db
	calls := db.calls
	consumed, err := nl.IsConsumed(owner, n)
	if err != nil || !consumed {
		t.Fatalf("IsConsumed after warm: %v %v", consumed, err)
	}
	if db.calls != calls {
		t.Error("warmed lookup should not touch the db tier")
	}
}

func TestNullifierLedger_SnapshotRestore(t *testing.T) {
	nl := ledger.NewNullifierLedger(nil)
	owner := uuid.New()
	n := mustNullifier(t, 0x05)
	if err := nl.Record(owner, n); err != nil {
		t.Fatalf("record: %v", err)
	}

	restored := ledger.NewNullifierLedger(nil)
	restored.Restore(nl.Snapshot())

	if err := restored.Record(owner, n); !errors.Is(err, ledger.ErrNullifierReused) {
		t.Errorf("after restore: got %v, want ErrNullifierReused", err)
	}
	if restored.Size() != 1 {
		t.Errorf("size: got %d, want 1", restored.Size())
	}
}
