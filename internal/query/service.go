package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/observability"
)

// ErrNotFound is returned when the queried row does not exist.
var ErrNotFound = fmt.Errorf("not found")

// QueryService provides read-only access to the projection tables.
// Queries are served over gRPC-Gateway HTTP/JSON; every response carries
// as_of_sequence so callers can reason about freshness against the
// action log.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// GetVaultStats returns the public vault counters.
func (qs *QueryService) GetVaultStats(ctx context.Context) (*VaultStatsResponse, error) {
	done := qs.observe("vault_stats")
	defer done()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail("vault_stats", fmt.Errorf("watermark: %w", err))
	}

	var resp VaultStatsResponse
	var yieldBps int32
	err = qs.db.QueryRowContext(ctx, `
		SELECT total_shielded_tvl, total_positions, current_yield_bps,
		       is_paused, emergency_mode
		FROM projections.vault_stats
		WHERE stat_id = 'vault'
	`).Scan(&resp.TotalShieldedTvl, &resp.TotalPositions, &yieldBps,
		&resp.IsPaused, &resp.EmergencyMode)
	if err == sql.ErrNoRows {
		// Vault not initialized yet — zero counters, not an error
		resp.AsOfSequence = asOfSeq
		return &resp, nil
	}
	if err != nil {
		return nil, qs.fail("vault_stats", err)
	}

	resp.CurrentYieldBps = uint16(yieldBps)
	resp.AsOfSequence = asOfSeq
	return &resp, nil
}

// GetPosition returns a user's confidential position.
func (qs *QueryService) GetPosition(ctx context.Context, owner uuid.UUID) (*PositionResponse, error) {
	done := qs.observe("position")
	defer done()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail("position", err)
	}

	row, err := qs.loadPositionRow(ctx, owner)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, qs.fail("position", err)
	}

	resp := &PositionResponse{
		Owner:               owner,
		BalanceCommitment:   hex.EncodeToString(row.balance),
		PrincipalCommitment: hex.EncodeToString(row.principal),
		YieldCommitment:     hex.EncodeToString(row.yield),
		HasActiveLoan:       row.hasActiveLoan,
		HasPendingBridge:    row.hasPendingBridge,
		ComplianceVerified:  row.complianceVerified,
		DepositCount:        uint32(row.depositCount),
		WithdrawalCount:     uint32(row.withdrawalCount),
		ActionCount:         uint32(row.actionCount),
		Version:             row.version,
		CreatedAt:           row.createdAt,
		LastActionAt:        row.lastActionAt,
		AsOfSequence:        asOfSeq,
	}
	return resp, nil
}

// GetBridgeRequest returns a user's most recent outbound bridge request.
func (qs *QueryService) GetBridgeRequest(ctx context.Context, owner uuid.UUID) (*BridgeResponse, error) {
	done := qs.observe("bridge")
	defer done()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail("bridge", err)
	}

	var resp BridgeResponse
	var amount []byte
	err = qs.db.QueryRowContext(ctx, `
		SELECT dest_chain_tag, dest_chain_id, amount_commitment,
		       status, initiated_at, resolved_at
		FROM projections.bridge_requests
		WHERE owner = $1
	`, owner.String()).Scan(&resp.DestChainTag, &resp.DestChainID, &amount,
		&resp.Status, &resp.InitiatedAt, &resp.ResolvedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, qs.fail("bridge", err)
	}

	resp.Owner = owner
	resp.AmountCommitment = hex.EncodeToString(amount)
	resp.AsOfSequence = asOfSeq
	return &resp, nil
}

// GetAttestation returns a user's compliance attestation.
func (qs *QueryService) GetAttestation(ctx context.Context, owner uuid.UUID) (*AttestationResponse, error) {
	done := qs.observe("attestation")
	defer done()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail("attestation", err)
	}

	var resp AttestationResponse
	var hash []byte
	err = qs.db.QueryRowContext(ctx, `
		SELECT attestation_hash, risk_score, is_valid, attested_at, expires_at
		FROM projections.attestations
		WHERE owner = $1
	`, owner.String()).Scan(&hash, &resp.RiskScore, &resp.IsValid,
		&resp.AttestedAt, &resp.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, qs.fail("attestation", err)
	}

	resp.Owner = owner
	resp.AttestationHash = hex.EncodeToString(hash)
	resp.AsOfSequence = asOfSeq
	return &resp, nil
}

// VerifyIntegrity walks the action log looking for hash-chain breaks and
// sequence gaps. Admin-facing; bounded to the first ten findings of each
// kind.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	done := qs.observe("integrity")
	defer done()

	report := &IntegrityReport{}

	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM action_log.actions
	`).Scan(&report.LatestSequence)
	if err != nil {
		return nil, qs.fail("integrity", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT a.sequence
		FROM action_log.actions a
		JOIN action_log.actions prev ON prev.sequence = a.sequence - 1
		WHERE a.prev_hash != prev.state_hash
		ORDER BY a.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, qs.fail("integrity", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, qs.fail("integrity", err)
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, qs.fail("integrity", err)
	}

	gapRows, err := qs.db.QueryContext(ctx, `
		SELECT a.sequence + 1
		FROM action_log.actions a
		LEFT JOIN action_log.actions next ON next.sequence = a.sequence + 1
		WHERE next.sequence IS NULL AND a.sequence < (SELECT MAX(sequence) FROM action_log.actions)
		ORDER BY a.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, qs.fail("integrity", err)
	}
	defer gapRows.Close()

	for gapRows.Next() {
		var seq int64
		if err := gapRows.Scan(&seq); err != nil {
			return nil, qs.fail("integrity", err)
		}
		report.SequenceGaps = append(report.SequenceGaps, seq)
	}
	if err := gapRows.Err(); err != nil {
		return nil, qs.fail("integrity", err)
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.SequenceGaps) == 0
	return report, nil
}

// --- helpers ---

type positionRow struct {
	balance            []byte
	principal          []byte
	yield              []byte
	hasActiveLoan      bool
	hasPendingBridge   bool
	complianceVerified bool
	depositCount       int64
	withdrawalCount    int64
	actionCount        int64
	version            int64
	createdAt          int64
	lastActionAt       int64
}

func (qs *QueryService) loadPositionRow(ctx context.Context, owner uuid.UUID) (*positionRow, error) {
	var row positionRow
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance_commitment, principal_commitment, yield_commitment,
		       has_active_loan, has_pending_bridge, compliance_verified,
		       deposit_count, withdrawal_count, action_count, version,
		       created_at, last_action_at
		FROM projections.positions
		WHERE owner = $1
	`, owner.String()).Scan(
		&row.balance, &row.principal, &row.yield,
		&row.hasActiveLoan, &row.hasPendingBridge, &row.complianceVerified,
		&row.depositCount, &row.withdrawalCount, &row.actionCount, &row.version,
		&row.createdAt, &row.lastActionAt,
	)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// observe starts a latency observation for one query kind and returns
// the completion func.
func (qs *QueryService) observe(kind string) func() {
	if qs.metrics == nil {
		return func() {}
	}
	qs.metrics.QueryRequests.WithLabelValues(kind).Inc()
	start := time.Now()
	return func() {
		qs.metrics.QueryDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func (qs *QueryService) fail(kind string, err error) error {
	if qs.metrics != nil {
		qs.metrics.QueryErrors.WithLabelValues(kind).Inc()
	}
	return err
}
