package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ActionLogWriter writes applied actions and consumed nullifiers to
// Postgres using multi-row INSERT. The persistence worker could move to
// pgx CopyFrom for higher throughput; multi-row INSERT is the portable
// baseline.
type ActionLogWriter struct {
	db *sql.DB
}

// ActionRow represents a row in action_log.actions.
type ActionRow struct {
	Sequence       int64
	ActionType     string
	IdempotencyKey string
	UserID         *string // nil for vault-global actions
	Payload        []byte  // JSON-encoded action
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// NullifierRow represents a row in action_log.nullifiers. The durable
// nullifier set is what makes withdrawal replay protection survive
// restarts beyond the latest snapshot.
type NullifierRow struct {
	Owner      string // uuid
	Nullifier  []byte
	Sequence   int64
	ConsumedAt time.Time
}

func NewActionLogWriter(db *sql.DB) *ActionLogWriter {
	return &ActionLogWriter{db: db}
}

// DB exposes the handle for transaction control by the worker.
func (w *ActionLogWriter) DB() *sql.DB {
	return w.db
}

// WriteActionBatch writes a batch of actions inside tx.
func (w *ActionLogWriter) WriteActionBatch(ctx context.Context, tx *sql.Tx, actions []ActionRow) error {
	if len(actions) == 0 {
		return nil
	}

	query := `INSERT INTO action_log.actions
		(sequence, action_type, idempotency_key, user_id, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(actions))
	args := make([]interface{}, 0, len(actions)*9)

	for i, a := range actions {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			a.Sequence, a.ActionType, a.IdempotencyKey, a.UserID,
			a.Payload, a.StateHash, a.PrevHash, a.Timestamp, a.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteNullifierBatch writes consumed nullifiers inside tx, in the same
// transaction as their originating withdrawals.
func (w *ActionLogWriter) WriteNullifierBatch(ctx context.Context, tx *sql.Tx, nullifiers []NullifierRow) error {
	if len(nullifiers) == 0 {
		return nil
	}

	query := `INSERT INTO action_log.nullifiers
		(owner, nullifier, sequence, consumed_at)
		VALUES `

	values := make([]string, 0, len(nullifiers))
	args := make([]interface{}, 0, len(nullifiers)*4)

	for i, n := range nullifiers {
		base := i * 4
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4,
		))
		args = append(args, n.Owner, n.Nullifier, n.Sequence, n.ConsumedAt)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (owner, nullifier) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
