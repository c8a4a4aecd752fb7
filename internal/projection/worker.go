package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"ShieldVault/internal/action"
	"ShieldVault/internal/core"
	"ShieldVault/internal/observability"
	"ShieldVault/internal/state"
)

// ProjectionWorker maintains the read-side tables from processed core
// outputs: projections.positions, projections.vault_stats,
// projections.bridge_requests, projections.attestations and the
// watermark. The projection channel is non-blocking with drop on the
// core side; if this worker falls behind, the tables go stale until
// rebuilt from the action log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
	}
}

// Run starts the projection loop. Blocks until ctx is cancelled or the
// input channel closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and rebuildable
				// from the action log, so a failed update is logged and
				// skipped rather than retried.
				log.Printf("WARN: projection update failed at seq=%d: %v",
					output.Envelope.Sequence, err)
				continue
			}

			pw.lastSeq = output.Envelope.Sequence
		}
	}
}

// LastSequence returns the highest sequence this worker has applied.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	env := output.Envelope

	if err := pw.applyPosition(ctx, tx, output); err != nil {
		return fmt.Errorf("position projection: %w", err)
	}

	if output.Stats != nil {
		if err := pw.applyVaultStats(ctx, tx, env.Sequence, output.Stats); err != nil {
			return fmt.Errorf("vault stats projection: %w", err)
		}
	}

	switch env.ActionType {
	case action.TypeBridge:
		if err := pw.applyBridge(ctx, tx, env.Sequence, env.Payload); err != nil {
			return fmt.Errorf("bridge projection: %w", err)
		}
	case action.TypeCompliance:
		if err := pw.applyAttestation(ctx, tx, env.Sequence, env.Payload); err != nil {
			return fmt.Errorf("attestation projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, env.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues("main").
			Observe(time.Since(start).Seconds())
	}
	return nil
}

// applyPosition upserts the caller's position row. Position slots are
// never released in the store; a fully withdrawn position stays as a
// zero-commitment row with its counters intact.
func (pw *ProjectionWorker) applyPosition(ctx context.Context, tx *sql.Tx, output core.CoreOutput) error {
	env := output.Envelope

	if output.Position == nil {
		return nil
	}

	pos := output.Position
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(owner, balance_commitment, principal_commitment, yield_commitment,
			 last_nullifier, has_active_loan, has_pending_bridge, compliance_verified,
			 deposit_count, withdrawal_count, action_count, version,
			 created_at, last_action_at, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (owner) DO UPDATE SET
			balance_commitment = $2, principal_commitment = $3, yield_commitment = $4,
			last_nullifier = $5, has_active_loan = $6, has_pending_bridge = $7,
			compliance_verified = $8, deposit_count = $9, withdrawal_count = $10,
			action_count = $11, version = $12, last_action_at = $14, last_sequence = $15
	`,
		pos.Owner.String(),
		pos.BalanceCommitment[:],
		pos.EncryptedPrincipal.Commitment[:],
		pos.EncryptedYield.Commitment[:],
		pos.LastNullifier[:],
		pos.HasActiveLoan,
		pos.HasPendingBridge,
		pos.ComplianceVerified,
		pos.DepositCount,
		pos.WithdrawalCount,
		pos.ActionCount,
		pos.Version,
		pos.CreatedAt,
		pos.LastActionAt,
		env.Sequence,
	)
	return err
}

func (pw *ProjectionWorker) applyVaultStats(ctx context.Context, tx *sql.Tx, sequence int64, stats *core.VaultStats) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vault_stats
			(stat_id, total_shielded_tvl, total_positions, current_yield_bps,
			 is_paused, emergency_mode, last_sequence, updated_at)
		VALUES ('vault', $1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (stat_id) DO UPDATE SET
			total_shielded_tvl = $1, total_positions = $2, current_yield_bps = $3,
			is_paused = $4, emergency_mode = $5, last_sequence = $6, updated_at = NOW()
	`,
		stats.TotalShieldedTvl,
		stats.TotalPositions,
		int32(stats.CurrentYieldBps),
		stats.IsPaused,
		stats.EmergencyMode,
		sequence,
	)
	return err
}

// applyBridge tracks the user's single outbound request through its
// lifecycle. Inbound claims create no outbound row.
func (pw *ProjectionWorker) applyBridge(ctx context.Context, tx *sql.Tx, sequence int64, payload []byte) error {
	var act action.Bridge
	if err := json.Unmarshal(payload, &act); err != nil {
		return fmt.Errorf("decode bridge payload: %w", err)
	}

	owner := act.UserID.String()

	switch act.Op {
	case action.BridgeInitiateOutbound:
		chainID, err := state.ChainID(act.DestChainTag)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projections.bridge_requests
				(owner, dest_chain_tag, dest_chain_id, amount_commitment,
				 status, initiated_at, resolved_at, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, 0, $7)
			ON CONFLICT (owner) DO UPDATE SET
				dest_chain_tag = $2, dest_chain_id = $3, amount_commitment = $4,
				status = $5, initiated_at = $6, resolved_at = 0, last_sequence = $7
		`,
			owner, act.DestChainTag, int64(chainID), act.AmountCommitment[:],
			state.BridgeStatusPending.String(), act.Timestamp.Unix(), sequence)
		return err

	case action.BridgeVerifyCompletion:
		return pw.resolveBridge(ctx, tx, owner, state.BridgeStatusCompleted, act.Timestamp.Unix(), sequence)

	case action.BridgeCancelRequest:
		return pw.resolveBridge(ctx, tx, owner, state.BridgeStatusCancelled, act.Timestamp.Unix(), sequence)

	case action.BridgeClaimInbound:
		return nil

	default:
		return fmt.Errorf("unknown bridge op %d", act.Op)
	}
}

func (pw *ProjectionWorker) resolveBridge(ctx context.Context, tx *sql.Tx, owner string, status state.BridgeStatus, resolvedAt int64, sequence int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projections.bridge_requests
		SET status = $2, resolved_at = $3, last_sequence = $4
		WHERE owner = $1
	`, owner, status.String(), resolvedAt, sequence)
	return err
}

func (pw *ProjectionWorker) applyAttestation(ctx context.Context, tx *sql.Tx, sequence int64, payload []byte) error {
	var act action.Compliance
	if err := json.Unmarshal(payload, &act); err != nil {
		return fmt.Errorf("decode compliance payload: %w", err)
	}

	owner := act.UserID.String()
	now := act.Timestamp.Unix()

	switch act.Op {
	case action.ComplianceSubmit:
		score := state.RiskScoreFromHash(act.AttestationHash)
		expires := now + state.ValiditySeconds(act.ValidityDays)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.attestations
				(owner, attestation_hash, risk_score, is_valid,
				 attested_at, expires_at, last_sequence)
			VALUES ($1, $2, $3, TRUE, $4, $5, $6)
			ON CONFLICT (owner) DO UPDATE SET
				attestation_hash = $2, risk_score = $3, is_valid = TRUE,
				attested_at = $4, expires_at = $5, last_sequence = $6
		`, owner, act.AttestationHash[:], int32(score), now, expires, sequence)
		return err

	case action.ComplianceVerify:
		// Read-only check in the core; nothing to project.
		return nil

	case action.ComplianceRevoke:
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.attestations
			SET is_valid = FALSE, last_sequence = $2
			WHERE owner = $1
		`, owner, sequence)
		return err

	case action.ComplianceRenew:
		expires := now + state.ValiditySeconds(act.ValidityDays)
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.attestations
			SET expires_at = $2, last_sequence = $3
			WHERE owner = $1 AND is_valid = TRUE
		`, owner, expires, sequence)
		return err

	default:
		return fmt.Errorf("unknown compliance op %d", act.Op)
	}
}
