package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ShieldVault/internal/action"
	"ShieldVault/internal/core"
	"ShieldVault/internal/ledger"
)

func testCommitment(fill byte) ledger.Commitment {
	var c ledger.Commitment
	copy(c[:], bytes.Repeat([]byte{fill}, ledger.BlobLen))
	return c
}

// Snapshot captures and action processing share the core goroutine, so
// requesting snapshots while actions stream through must never touch
// state concurrently. Run with -race.
func TestCoreLoop_SnapshotDuringProcessing(t *testing.T) {
	baseTime := time.Unix(1_700_000_000, 0).UTC()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persistChan := make(chan core.CoreOutput, 64)
	projectionChan := make(chan core.CoreOutput, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-persistChan:
			case <-projectionChan:
			}
		}
	}()

	vaultCore := core.NewVaultCore(0, persistChan, projectionChan, nil, nil, nil, nil)

	// Initialize before the loop starts; the loop then owns the core.
	if err := vaultCore.ProcessAction(&action.Initialize{
		ActionID:       uuid.New(),
		Admin:          uuid.New(),
		Treasury:       uuid.New(),
		ShieldedAsset:  "USDC",
		SecondaryAsset: "WSOL",
		Sequence:       0,
		Timestamp:      baseTime,
	}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	seqAlloc := newSeqAllocator(vaultCore.SequencePartitions())
	typedChan := make(chan action.Action)
	injectChan := make(chan action.Action, 64)
	snapReqChan := make(chan chan *core.SnapshotState)

	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		runCoreLoop(ctx, zerolog.Nop(), vaultCore, typedChan, injectChan, snapReqChan, seqAlloc)
	}()

	const deposits = 200
	user := uuid.New()
	partition := "user:" + user.String()

	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		for i := 0; i < deposits; i++ {
			injectChan <- &action.Deposit{
				ActionID:         uuid.New(),
				UserID:           user,
				Amount:           2_000_000,
				AmountCommitment: testCommitment(byte(i%255 + 1)),
				Sequence:         seqAlloc.nextSeq(partition),
				Timestamp:        baseTime,
			}
		}
	}()

	// Hammer snapshot requests while the deposits stream through
	var lastSeq int64 = -1
	for i := 0; i < 50; i++ {
		snap, err := captureSnapshot(ctx, snapReqChan)
		if err != nil {
			t.Fatalf("capture snapshot: %v", err)
		}
		if snap.Sequence < lastSeq {
			t.Fatalf("snapshot sequence went backwards: %d after %d", snap.Sequence, lastSeq)
		}
		lastSeq = snap.Sequence
	}

	<-producerDone

	// Drain fully, then the final capture must reflect every action
	deadline := time.After(5 * time.Second)
	for {
		snap, err := captureSnapshot(ctx, snapReqChan)
		if err != nil {
			t.Fatalf("capture snapshot: %v", err)
		}
		if snap.Sequence == deposits { // init is seq 0, deposits end at seq = count
			if len(snap.Positions) != 1 {
				t.Fatalf("positions: got %d, want 1", len(snap.Positions))
			}
			if snap.Positions[0].DepositCount != deposits {
				t.Fatalf("deposit count: got %d, want %d", snap.Positions[0].DepositCount, deposits)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("core loop stalled at sequence %d", snap.Sequence)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	cancel()
	select {
	case <-coreDone:
	case <-time.After(time.Second):
		t.Fatal("core loop did not stop")
	}
}
