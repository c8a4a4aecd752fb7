package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// ResetProjections truncates every projection table and clears the
// watermark. The shell then replays the action log through a fresh
// ProjectionWorker to repopulate them.
func ResetProjections(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.vault_stats`,
		`TRUNCATE projections.bridge_requests`,
		`TRUNCATE projections.attestations`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset projections: %w", err)
		}
	}

	log.Println("INFO: projection tables reset; replay required to repopulate")
	return nil
}

// Watermark returns the last sequence the main projection worker applied,
// or 0 when no watermark row exists yet.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return seq, nil
}
