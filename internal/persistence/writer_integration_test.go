package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/core"
	"ShieldVault/internal/ledger"
	"ShieldVault/internal/persistence"
	"ShieldVault/internal/testutil"
)

func TestActionLog_WriteAndDedup(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewActionLogWriter(db)
	user := uuid.New().String()
	now := time.Now().UTC()

	rows := []persistence.ActionRow{
		{
			Sequence:       1,
			ActionType:     "Initialize",
			IdempotencyKey: uuid.New().String(),
			Payload:        []byte(`{}`),
			StateHash:      make([]byte, 32),
			PrevHash:       make([]byte, 32),
			Timestamp:      now,
			SourceSequence: 1,
		},
		{
			Sequence:       2,
			ActionType:     "Deposit",
			IdempotencyKey: "dep-key-1",
			UserID:         &user,
			Payload:        []byte(`{}`),
			StateHash:      make([]byte, 32),
			PrevHash:       make([]byte, 32),
			Timestamp:      now,
			SourceSequence: 1,
		},
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteActionBatch(ctx, tx, rows); err != nil {
		t.Fatalf("write actions: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Re-writing the same sequences must be a no-op
	tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := writer.WriteActionBatch(ctx, tx, rows); err != nil {
		t.Fatalf("rewrite actions: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM action_log.actions`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 actions, got %d", count)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("Deposit", "dep-key-1")
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if !dup {
		t.Fatal("expected stored deposit key to be a duplicate")
	}
	dup, err = checker.IsDuplicate("Deposit", "dep-key-2")
	if err != nil {
		t.Fatalf("is duplicate: %v", err)
	}
	if dup {
		t.Fatal("unknown key reported as duplicate")
	}

	keys, err := checker.LoadRecentKeys(ctx, 10)
	if err != nil {
		t.Fatalf("load recent keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 recent keys, got %d", len(keys))
	}
	if keys[0] != "Deposit:dep-key-1" {
		t.Fatalf("expected newest key first, got %q", keys[0])
	}
}

func TestNullifierLog_SurvivesRestart(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	writer := persistence.NewActionLogWriter(db)
	owner := uuid.New()

	var null ledger.Nullifier
	null[0] = 0xAB

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	err = writer.WriteNullifierBatch(ctx, tx, []persistence.NullifierRow{{
		Owner:      owner.String(),
		Nullifier:  null[:],
		Sequence:   7,
		ConsumedAt: time.Now().UTC(),
	}})
	if err != nil {
		t.Fatalf("write nullifiers: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	checker := persistence.NewPostgresNullifierChecker(db)
	consumed, err := checker.IsConsumed(owner, null)
	if err != nil {
		t.Fatalf("is consumed: %v", err)
	}
	if !consumed {
		t.Fatal("stored nullifier not reported as consumed")
	}

	var other ledger.Nullifier
	other[0] = 0xCD
	consumed, err = checker.IsConsumed(owner, other)
	if err != nil {
		t.Fatalf("is consumed: %v", err)
	}
	if consumed {
		t.Fatal("fresh nullifier reported as consumed")
	}

	// Same nullifier under a different owner is independent
	consumed, err = checker.IsConsumed(uuid.New(), null)
	if err != nil {
		t.Fatalf("is consumed: %v", err)
	}
	if consumed {
		t.Fatal("nullifier leaked across owners")
	}
}

func TestSnapshotManager_RoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	mgr := persistence.NewSnapshotManager(db)

	snap := &core.SnapshotState{
		Sequence:      42,
		StateHash:     [32]byte{0x01, 0x02},
		SequenceState: map[string]int64{"global": 3},
	}

	if err := mgr.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	// Unverified snapshots must not become a restart base
	loaded, err := mgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded != nil {
		t.Fatal("unverified snapshot returned as restart base")
	}

	if err := mgr.MarkVerified(ctx, 42); err != nil {
		t.Fatalf("mark verified: %v", err)
	}

	loaded, err = mgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("verified snapshot not loaded")
	}
	if loaded.Sequence != 42 {
		t.Fatalf("expected sequence 42, got %d", loaded.Sequence)
	}
	if loaded.StateHash != snap.StateHash {
		t.Fatal("state hash mismatch after round trip")
	}
	if loaded.SequenceState["global"] != 3 {
		t.Fatal("sequence partitions lost in round trip")
	}
}
