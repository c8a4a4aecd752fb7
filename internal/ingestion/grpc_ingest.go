package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/action"
	"ShieldVault/internal/ledger"
)

// GRPCIngestService provides admin/manual action injection via gRPC. It is
// for operator tooling and incident recovery, not for high-throughput
// ingestion (use NATS for that).
//
// Injected actions need valid per-partition source sequences; the shell
// supplies nextSeq so injected and NATS-delivered actions share one
// numbering per partition.
type GRPCIngestService struct {
	actionChan chan<- action.Action
	nextSeq    func(partition string) int64
}

func NewGRPCIngestService(actionChan chan<- action.Action, nextSeq func(partition string) int64) *GRPCIngestService {
	return &GRPCIngestService{actionChan: actionChan, nextSeq: nextSeq}
}

// InjectDeposit manually injects a shielded deposit.
func (s *GRPCIngestService) InjectDeposit(
	ctx context.Context,
	userID uuid.UUID,
	amount int64,
	commitment ledger.Commitment,
) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if err := ledger.ValidateCommitment(commitment); err != nil {
		return err
	}

	act := &action.Deposit{
		ActionID:         uuid.New(),
		UserID:           userID,
		Amount:           amount,
		AmountCommitment: commitment,
		Sequence:         s.nextSeq("user:" + userID.String()),
		Timestamp:        time.Now(),
	}

	select {
	case s.actionChan <- act:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectPause manually injects an emergency pause.
func (s *GRPCIngestService) InjectPause(ctx context.Context, adminID uuid.UUID) error {
	return s.injectAdmin(ctx, &action.AdminControl{
		Admin: adminID,
		Op:    action.AdminPause,
	})
}

// InjectUnpause manually injects an unpause.
func (s *GRPCIngestService) InjectUnpause(ctx context.Context, adminID uuid.UUID) error {
	return s.injectAdmin(ctx, &action.AdminControl{
		Admin: adminID,
		Op:    action.AdminUnpause,
	})
}

// InjectYieldUpdate manually injects a yield rate change.
func (s *GRPCIngestService) InjectYieldUpdate(ctx context.Context, adminID uuid.UUID, yieldBps uint16) error {
	return s.injectAdmin(ctx, &action.AdminControl{
		Admin:    adminID,
		Op:       action.AdminUpdateYieldRate,
		YieldBps: &yieldBps,
	})
}

// InjectRewardDeposit manually injects a treasury reward top-up.
func (s *GRPCIngestService) InjectRewardDeposit(ctx context.Context, adminID uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("reward amount must be positive")
	}
	return s.injectAdmin(ctx, &action.AdminControl{
		Admin:        adminID,
		Op:           action.AdminDepositRewards,
		RewardAmount: amount,
	})
}

func (s *GRPCIngestService) injectAdmin(ctx context.Context, a *action.AdminControl) error {
	a.ActionID = uuid.New()
	a.Sequence = s.nextSeq("global")
	a.Timestamp = time.Now()

	select {
	case s.actionChan <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
