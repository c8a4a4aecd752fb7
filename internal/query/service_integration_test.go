package query_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/action"
	"ShieldVault/internal/core"
	"ShieldVault/internal/ledger"
	"ShieldVault/internal/projection"
	"ShieldVault/internal/query"
	"ShieldVault/internal/state"
	"ShieldVault/internal/testutil"
)

func TestProjectionAndQuery_PositionFlow(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	owner := uuid.New()
	var balance ledger.Commitment
	balance[0] = 0x42

	depositPayload, err := json.Marshal(&action.Deposit{
		ActionID:         uuid.New(),
		UserID:           owner,
		Amount:           50_000_000,
		AmountCommitment: balance,
		Sequence:         1,
		Timestamp:        time.Unix(1_700_000_000, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("marshal deposit: %v", err)
	}

	pos := &state.EncryptedPosition{
		Owner:             owner,
		BalanceCommitment: balance,
		CreatedAt:         1_700_000_000,
		LastActionAt:      1_700_000_000,
		DepositCount:      1,
		ActionCount:       1,
		Version:           1,
	}
	pos.EncryptedPrincipal.Commitment = balance

	output := core.CoreOutput{
		Envelope: &action.Envelope{
			Sequence:       1,
			IdempotencyKey: uuid.New().String(),
			ActionType:     action.TypeDeposit,
			User:           &owner,
			Timestamp:      time.Unix(1_700_000_000, 0).UTC(),
			SourceSequence: 1,
			Payload:        depositPayload,
		},
		Position: pos.Clone(),
		Stats: &core.VaultStats{
			TotalShieldedTvl: 49_950_000,
			TotalPositions:   1,
			CurrentYieldBps:  500,
		},
	}

	projChan := make(chan core.CoreOutput, 4)
	worker := projection.NewProjectionWorker(db, projChan, nil)

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()

	projChan <- output
	close(projChan)
	if err := <-done; err != nil {
		t.Fatalf("projection worker: %v", err)
	}

	qs := query.NewQueryService(db, nil)

	stats, err := qs.GetVaultStats(ctx)
	if err != nil {
		t.Fatalf("get vault stats: %v", err)
	}
	if stats.TotalShieldedTvl != 49_950_000 {
		t.Fatalf("expected tvl 49_950_000, got %d", stats.TotalShieldedTvl)
	}
	if stats.AsOfSequence != 1 {
		t.Fatalf("expected watermark 1, got %d", stats.AsOfSequence)
	}

	got, err := qs.GetPosition(ctx, owner)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if got.BalanceCommitment != balance.Hex() {
		t.Fatalf("balance commitment mismatch: %s", got.BalanceCommitment)
	}
	if got.DepositCount != 1 || got.Version != 1 {
		t.Fatalf("unexpected counters: deposits=%d version=%d", got.DepositCount, got.Version)
	}

	// Accrual view folds the current rate over the stored principal
	view, err := qs.AccrueView(ctx, owner, time.Unix(1_700_000_000+86_400, 0).UTC())
	if err != nil {
		t.Fatalf("accrue view: %v", err)
	}
	if view.YieldBps != 500 {
		t.Fatalf("expected yield 500 bps, got %d", view.YieldBps)
	}
	if view.ElapsedSeconds != 86_400 {
		t.Fatalf("expected 86400s elapsed, got %d", view.ElapsedSeconds)
	}
	want := ledger.FoldYield(balance, view.YieldFactor)
	if view.AccruedCommitment != want.Hex() {
		t.Fatal("accrued commitment does not match fold of stored principal")
	}

	if _, err := qs.GetPosition(ctx, uuid.New()); err != query.ErrNotFound {
		t.Fatalf("expected ErrNotFound for unknown owner, got %v", err)
	}
}

func TestProjectionAndQuery_FullWithdrawalKeepsRow(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	owner := uuid.New()
	var balance ledger.Commitment
	balance[0] = 0x42
	var nullifier ledger.Nullifier
	nullifier[0] = 0x99

	depositPayload, err := json.Marshal(&action.Deposit{
		ActionID:         uuid.New(),
		UserID:           owner,
		Amount:           50_000_000,
		AmountCommitment: balance,
		Sequence:         1,
		Timestamp:        time.Unix(1_700_000_000, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("marshal deposit: %v", err)
	}
	withdrawPayload, err := json.Marshal(&action.Withdraw{
		ActionID:       uuid.New(),
		UserID:         owner,
		Type:           action.WithdrawFull,
		ExpectedAmount: 49_950_000,
		Nullifier:      nullifier,
		Sequence:       2,
		Timestamp:      time.Unix(1_700_000_100, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("marshal withdraw: %v", err)
	}

	funded := &state.EncryptedPosition{
		Owner:             owner,
		BalanceCommitment: balance,
		CreatedAt:         1_700_000_000,
		LastActionAt:      1_700_000_000,
		DepositCount:      1,
		ActionCount:       1,
		Version:           1,
	}
	emptied := funded.Clone()
	emptied.BalanceCommitment = ledger.Commitment{}
	emptied.EncryptedPrincipal.Commitment = ledger.Commitment{}
	emptied.LastNullifier = nullifier
	emptied.WithdrawalCount = 1
	emptied.ActionCount = 2
	emptied.Version = 2
	emptied.LastActionAt = 1_700_000_100

	outputs := []core.CoreOutput{
		{
			Envelope: &action.Envelope{
				Sequence:       1,
				IdempotencyKey: uuid.New().String(),
				ActionType:     action.TypeDeposit,
				User:           &owner,
				Timestamp:      time.Unix(1_700_000_000, 0).UTC(),
				SourceSequence: 1,
				Payload:        depositPayload,
			},
			Position: funded.Clone(),
			Stats:    &core.VaultStats{TotalShieldedTvl: 49_950_000, TotalPositions: 1},
		},
		{
			Envelope: &action.Envelope{
				Sequence:       2,
				IdempotencyKey: uuid.New().String(),
				ActionType:     action.TypeWithdraw,
				User:           &owner,
				Timestamp:      time.Unix(1_700_000_100, 0).UTC(),
				SourceSequence: 2,
				Payload:        withdrawPayload,
			},
			Position: emptied,
			Stats:    &core.VaultStats{TotalShieldedTvl: 0, TotalPositions: 1},
		},
	}

	projChan := make(chan core.CoreOutput, len(outputs))
	worker := projection.NewProjectionWorker(db, projChan, nil)
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()
	for _, out := range outputs {
		projChan <- out
	}
	close(projChan)
	if err := <-done; err != nil {
		t.Fatalf("projection worker: %v", err)
	}

	// The slot is never released: the row survives the full withdrawal
	// with zeroed commitments and its counters intact.
	qs := query.NewQueryService(db, nil)
	got, err := qs.GetPosition(ctx, owner)
	if err != nil {
		t.Fatalf("get position after full withdrawal: %v", err)
	}
	if got.BalanceCommitment != (ledger.Commitment{}).Hex() {
		t.Fatalf("expected zero balance commitment, got %s", got.BalanceCommitment)
	}
	if got.DepositCount != 1 || got.WithdrawalCount != 1 || got.Version != 2 {
		t.Fatalf("unexpected counters: deposits=%d withdrawals=%d version=%d",
			got.DepositCount, got.WithdrawalCount, got.Version)
	}
}

func TestProjectionAndQuery_BridgeAndAttestation(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	owner := uuid.New()
	var amount ledger.Commitment
	amount[0] = 0x07

	initiate, err := json.Marshal(&action.Bridge{
		ActionID:         uuid.New(),
		UserID:           owner,
		Op:               action.BridgeInitiateOutbound,
		DestChainTag:     "base",
		AmountCommitment: amount,
		Sequence:         1,
		Timestamp:        time.Unix(1_700_000_000, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("marshal bridge: %v", err)
	}
	cancelReq, err := json.Marshal(&action.Bridge{
		ActionID:  uuid.New(),
		UserID:    owner,
		Op:        action.BridgeCancelRequest,
		Sequence:  2,
		Timestamp: time.Unix(1_700_000_100, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("marshal cancel: %v", err)
	}
	attest, err := json.Marshal(&action.Compliance{
		ActionID:        uuid.New(),
		UserID:          owner,
		Op:              action.ComplianceSubmit,
		AttestationHash: [32]byte{1},
		ValidityDays:    30,
		Sequence:        3,
		Timestamp:       time.Unix(1_700_000_200, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("marshal compliance: %v", err)
	}

	outputs := []core.CoreOutput{
		bridgeOutput(1, owner, action.TypeBridge, initiate),
		bridgeOutput(2, owner, action.TypeBridge, cancelReq),
		bridgeOutput(3, owner, action.TypeCompliance, attest),
	}

	projChan := make(chan core.CoreOutput, len(outputs))
	worker := projection.NewProjectionWorker(db, projChan, nil)
	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx)
	}()
	for _, out := range outputs {
		projChan <- out
	}
	close(projChan)
	if err := <-done; err != nil {
		t.Fatalf("projection worker: %v", err)
	}

	qs := query.NewQueryService(db, nil)

	br, err := qs.GetBridgeRequest(ctx, owner)
	if err != nil {
		t.Fatalf("get bridge: %v", err)
	}
	if br.Status != "Cancelled" {
		t.Fatalf("expected Cancelled, got %s", br.Status)
	}
	if br.DestChainID != 8453 {
		t.Fatalf("expected chain 8453, got %d", br.DestChainID)
	}
	if br.ResolvedAt != 1_700_000_100 {
		t.Fatalf("unexpected resolved_at %d", br.ResolvedAt)
	}

	at, err := qs.GetAttestation(ctx, owner)
	if err != nil {
		t.Fatalf("get attestation: %v", err)
	}
	if !at.IsValid {
		t.Fatal("expected valid attestation")
	}
	if at.RiskScore != 1 {
		t.Fatalf("expected risk score 1, got %d", at.RiskScore)
	}
	if at.ExpiresAt != 1_700_000_200+30*86_400 {
		t.Fatalf("unexpected expires_at %d", at.ExpiresAt)
	}
}

func bridgeOutput(seq int64, owner uuid.UUID, actType action.Type, payload []byte) core.CoreOutput {
	return core.CoreOutput{
		Envelope: &action.Envelope{
			Sequence:       seq,
			IdempotencyKey: uuid.New().String(),
			ActionType:     actType,
			User:           &owner,
			Timestamp:      time.Unix(1_700_000_000, 0).UTC(),
			SourceSequence: seq,
			Payload:        payload,
		},
		Stats: &core.VaultStats{},
	}
}
