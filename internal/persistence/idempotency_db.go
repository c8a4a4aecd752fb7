package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/ledger"
)

// PostgresIdempotencyChecker implements the cold tier of action dedup,
// backed by the durable action log.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate checks whether the action exists in action_log.actions.
func (pic *PostgresIdempotencyChecker) IsDuplicate(actionType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	query := `
        SELECT 1
        FROM action_log.actions
        WHERE action_type = $1 AND idempotency_key = $2
        LIMIT 1
    `

	var exists int
	err := pic.db.QueryRowContext(ctx, query, actionType, idempotencyKey).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// LoadRecentKeys returns the most recent composite idempotency keys for
// warming the in-memory LRU on startup.
func (pic *PostgresIdempotencyChecker) LoadRecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
        SELECT action_type || ':' || idempotency_key
        FROM action_log.actions
        ORDER BY sequence DESC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// PostgresNullifierChecker implements the cold tier of the nullifier
// ledger. The in-memory set covers everything since the last snapshot;
// this covers the full history.
type PostgresNullifierChecker struct {
	db *sql.DB
}

func NewPostgresNullifierChecker(db *sql.DB) *PostgresNullifierChecker {
	return &PostgresNullifierChecker{db: db}
}

// IsConsumed checks whether owner already burned this nullifier.
func (pnc *PostgresNullifierChecker) IsConsumed(owner uuid.UUID, nullifier ledger.Nullifier) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	query := `
        SELECT 1
        FROM action_log.nullifiers
        WHERE owner = $1 AND nullifier = $2
        LIMIT 1
    `

	var exists int
	err := pnc.db.QueryRowContext(ctx, query, owner.String(), nullifier[:]).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
