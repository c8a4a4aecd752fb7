package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/ledger"
	"ShieldVault/internal/vaultmath"
)

// AccrueView computes the yield accrual tag for a user's principal at
// query time. It is purely derived: the scaled factor comes from the
// vault's current rate and the elapsed time since the position's last
// applied action, and the tag is the fold of that factor over the
// principal commitment. Nothing is written back; the authoritative
// accrual happens when the encrypted-compute venue settles a withdrawal.
func (qs *QueryService) AccrueView(ctx context.Context, owner uuid.UUID, now time.Time) (*AccrueResponse, error) {
	done := qs.observe("accrue")
	defer done()

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, qs.fail("accrue", err)
	}

	row, err := qs.loadPositionRow(ctx, owner)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, qs.fail("accrue", err)
	}

	var yieldBps int32
	err = qs.db.QueryRowContext(ctx, `
		SELECT current_yield_bps FROM projections.vault_stats WHERE stat_id = 'vault'
	`).Scan(&yieldBps)
	if err == sql.ErrNoRows {
		return nil, qs.fail("accrue", fmt.Errorf("vault stats missing"))
	}
	if err != nil {
		return nil, qs.fail("accrue", err)
	}

	principal, err := ledger.ParseCommitment(row.principal)
	if err != nil {
		return nil, qs.fail("accrue", fmt.Errorf("stored principal: %w", err))
	}

	elapsed := now.Unix() - row.lastActionAt
	if elapsed < 0 {
		elapsed = 0
	}

	factor := vaultmath.YieldFactor(uint16(yieldBps), elapsed)
	accrued := ledger.FoldYield(principal, factor)

	return &AccrueResponse{
		Owner:               owner,
		PrincipalCommitment: hex.EncodeToString(row.principal),
		AccruedCommitment:   accrued.Hex(),
		YieldBps:            uint16(yieldBps),
		ElapsedSeconds:      elapsed,
		YieldFactor:         factor,
		AsOfSequence:        asOfSeq,
	}, nil
}
