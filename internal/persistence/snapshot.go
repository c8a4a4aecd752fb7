package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/core"
)

// SnapshotManager handles creating and loading state snapshots for
// recovery. A snapshot carries the full in-memory vault state: config,
// positions, loans, bridge requests, orders, attestations, the consumed
// nullifier set, sequence partitions and recent idempotency keys.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying actions from the snapshot
// sequence forward before they become a restart base.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *core.SnapshotState) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded core.SnapshotState

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO action_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash[:], formatVersion, sizeBytes, time.Now())

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart, the shell restores it and replays actions from sequence+1.
// Returns (nil, nil) on a cold start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*core.SnapshotState, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM action_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap core.SnapshotState
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE action_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadActionsFrom loads actions from a given sequence for replay. Used
// for warm restart (replay from snapshot) and cold restart (replay all).
func (sm *SnapshotManager) LoadActionsFrom(ctx context.Context, fromSequence int64, limit int) ([]ActionRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, action_type, idempotency_key, user_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM action_log.actions
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []ActionRow
	for rows.Next() {
		var a ActionRow
		if err := rows.Scan(
			&a.Sequence, &a.ActionType, &a.IdempotencyKey, &a.UserID,
			&a.Payload, &a.StateHash, &a.PrevHash, &a.Timestamp, &a.SourceSequence,
		); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}

	return actions, rows.Err()
}

// GetLatestSequence returns the highest sequence in the action log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM action_log.actions
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty action log
	}
	return seq.Int64, nil
}

// LoadNullifierCount returns the number of consumed nullifiers, used as
// a recovery sanity check against the restored in-memory set.
func (sm *SnapshotManager) LoadNullifierCount(ctx context.Context) (int64, error) {
	var n int64
	err := sm.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM action_log.nullifiers
	`).Scan(&n)
	return n, err
}
