package core_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/action"
	"ShieldVault/internal/core"
	"ShieldVault/internal/ledger"
	"ShieldVault/internal/state"
)

// ============================================================================
// Harness
// ============================================================================

var baseTime = time.Unix(1_700_000_000, 0).UTC()

type harness struct {
	core       *core.VaultCore
	persist    chan core.CoreOutput
	projection chan core.CoreOutput
	seqs       map[string]int64
	admin      uuid.UUID
	treasury   uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	persist := make(chan core.CoreOutput, 4096)
	projection := make(chan core.CoreOutput, 4096)
	return &harness{
		core:       core.NewVaultCore(0, persist, projection, nil, nil, nil, nil),
		persist:    persist,
		projection: projection,
		seqs:       make(map[string]int64),
		admin:      uuid.New(),
		treasury:   uuid.New(),
	}
}

func (h *harness) nextSeq(partition string) int64 {
	seq := h.seqs[partition]
	h.seqs[partition] = seq + 1
	return seq
}

func (h *harness) userSeq(user uuid.UUID) int64 {
	return h.nextSeq("user:" + user.String())
}

func comm(fill byte) ledger.Commitment {
	var c ledger.Commitment
	copy(c[:], bytes.Repeat([]byte{fill}, ledger.BlobLen))
	return c
}

func proof(fill byte) ledger.Proof {
	var p ledger.Proof
	copy(p[:], bytes.Repeat([]byte{fill}, ledger.BlobLen))
	return p
}

func null(fill byte) ledger.Nullifier {
	var n ledger.Nullifier
	copy(n[:], bytes.Repeat([]byte{fill}, ledger.BlobLen))
	return n
}

func u16(v uint16) *uint16 { return &v }
func bp(v bool) *bool      { return &v }

func (h *harness) initialize(t *testing.T, depositFeeBps, withdrawalFeeBps uint16, complianceRequired bool) {
	t.Helper()
	err := h.core.ProcessAction(&action.Initialize{
		ActionID:           uuid.New(),
		Admin:              h.admin,
		Treasury:           h.treasury,
		ShieldedAsset:      "USDC",
		SecondaryAsset:     "WSOL",
		DepositFeeBps:      depositFeeBps,
		WithdrawalFeeBps:   withdrawalFeeBps,
		InitialYieldBps:    500,
		ComplianceRequired: complianceRequired,
		Sequence:           h.nextSeq("global"),
		Timestamp:          baseTime,
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
}

func (h *harness) depositAt(t *testing.T, user uuid.UUID, amount int64, fill byte, ts time.Time) error {
	t.Helper()
	return h.core.ProcessAction(&action.Deposit{
		ActionID:         uuid.New(),
		UserID:           user,
		Amount:           amount,
		AmountCommitment: comm(fill),
		Sequence:         h.userSeq(user),
		Timestamp:        ts,
	})
}

func (h *harness) deposit(t *testing.T, user uuid.UUID, amount int64, fill byte) {
	t.Helper()
	if err := h.depositAt(t, user, amount, fill, baseTime); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (h *harness) withdrawAction(user uuid.UUID, wt action.WithdrawType, amount int64, remainderFill, nullFill byte) *action.Withdraw {
	return &action.Withdraw{
		ActionID:            uuid.New(),
		UserID:              user,
		Type:                wt,
		ExpectedAmount:      amount,
		RemainderCommitment: comm(remainderFill),
		Nullifier:           null(nullFill),
		WithdrawalProof:     proof(0xA1),
		OwnershipProof:      proof(0xA2),
		Sequence:            h.userSeq(user),
		Timestamp:           baseTime,
	}
}

func (h *harness) adminOp(t *testing.T, a *action.AdminControl) error {
	t.Helper()
	a.ActionID = uuid.New()
	a.Sequence = h.nextSeq("global")
	if a.Timestamp.IsZero() {
		a.Timestamp = baseTime
	}
	if a.Admin == uuid.Nil {
		a.Admin = h.admin
	}
	return h.core.ProcessAction(a)
}

func (h *harness) submitCompliance(t *testing.T, user uuid.UUID, days uint16, ts time.Time) error {
	t.Helper()
	hash := [32]byte{1} // deterministic risk score 1
	return h.core.ProcessAction(&action.Compliance{
		ActionID:        uuid.New(),
		UserID:          user,
		Op:              action.ComplianceSubmit,
		AttestationHash: hash,
		ValidityDays:    days,
		DisclosureProof: proof(0xD1),
		Sequence:        h.userSeq(user),
		Timestamp:       ts,
	})
}

// ============================================================================
// Initialize
// ============================================================================

func TestInitialize_Once(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 10, 25, false)

	cfg := h.core.Config()
	if cfg == nil {
		t.Fatal("config should exist after initialize")
	}
	if cfg.DepositFeeBps != 10 || cfg.WithdrawalFeeBps != 25 || cfg.CurrentYieldBps != 500 {
		t.Errorf("config fees: got %d/%d/%d", cfg.DepositFeeBps, cfg.WithdrawalFeeBps, cfg.CurrentYieldBps)
	}

	err := h.core.ProcessAction(&action.Initialize{
		ActionID:      uuid.New(),
		Admin:         h.admin,
		Treasury:      h.treasury,
		ShieldedAsset: "USDC",
		Sequence:      h.nextSeq("global"),
		Timestamp:     baseTime,
	})
	if !errors.Is(err, state.ErrAlreadyInitialized) {
		t.Errorf("second initialize: got %v, want ErrAlreadyInitialized", err)
	}
}

func TestInitialize_RejectsExcessiveYield(t *testing.T) {
	h := newHarness(t)
	err := h.core.ProcessAction(&action.Initialize{
		ActionID:        uuid.New(),
		Admin:           h.admin,
		Treasury:        h.treasury,
		ShieldedAsset:   "USDC",
		InitialYieldBps: 5_001,
		Sequence:        h.nextSeq("global"),
		Timestamp:       baseTime,
	})
	if !errors.Is(err, state.ErrInvalidParameter) {
		t.Errorf("got %v, want ErrInvalidParameter", err)
	}
	if h.core.Config() != nil {
		t.Error("rejected initialize must not create config")
	}
}

// ============================================================================
// Deposit
// ============================================================================

func TestDeposit_CreditsNetOfFeeTvl(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 10, 0, false)
	user := uuid.New()

	h.deposit(t, user, 50_000_000_000, 0x11)

	cfg := h.core.Config()
	if cfg.TotalShieldedTvl != 49_950_000_000 {
		t.Errorf("tvl: got %d, want 49_950_000_000", cfg.TotalShieldedTvl)
	}
	if cfg.TotalPositions != 1 {
		t.Errorf("positions: got %d, want 1", cfg.TotalPositions)
	}

	pos, err := h.core.Store().RequirePosition(user)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.DepositCount != 1 || pos.ActionCount != 1 {
		t.Errorf("counts: deposits=%d actions=%d", pos.DepositCount, pos.ActionCount)
	}
	if pos.EncryptedPrincipal.Commitment != comm(0x11) {
		t.Error("principal commitment not installed")
	}
	if pos.BalanceCommitment != comm(0x11) {
		t.Error("balance commitment not installed")
	}
}

func TestDeposit_SecondDepositDoesNotRecount(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()

	h.deposit(t, user, 2_000_000, 0x11)
	h.deposit(t, user, 3_000_000, 0x12)

	cfg := h.core.Config()
	if cfg.TotalPositions != 1 {
		t.Errorf("positions: got %d, want 1", cfg.TotalPositions)
	}
	if cfg.TotalShieldedTvl != 5_000_000 {
		t.Errorf("tvl: got %d, want 5_000_000", cfg.TotalShieldedTvl)
	}
}

func TestDeposit_BelowMinimum(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()

	err := h.depositAt(t, user, 999_999, 0x11, baseTime)
	if !errors.Is(err, state.ErrInvalidParameter) {
		t.Errorf("got %v, want ErrInvalidParameter", err)
	}
	if h.core.Config().TotalPositions != 0 {
		t.Error("rejected deposit must not create a position")
	}
}

func TestDeposit_BeforeInitialize(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	err := h.depositAt(t, user, 2_000_000, 0x11, baseTime)
	if !errors.Is(err, state.ErrNotInitialized) {
		t.Errorf("got %v, want ErrNotInitialized", err)
	}
}

// ============================================================================
// Withdraw
// ============================================================================

func TestWithdraw_PartialBurnsNullifier(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 25, false)
	user := uuid.New()
	h.deposit(t, user, 50_000_000_000, 0x11)

	if err := h.core.ProcessAction(h.withdrawAction(user, action.WithdrawPartial, 10_000_000_000, 0x22, 0x31)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	cfg := h.core.Config()
	if cfg.TotalShieldedTvl != 40_000_000_000 {
		t.Errorf("tvl: got %d, want 40_000_000_000", cfg.TotalShieldedTvl)
	}
	if cfg.TotalPositions != 1 {
		t.Errorf("positions: got %d, want 1 after partial", cfg.TotalPositions)
	}

	pos, _ := h.core.Store().Position(user)
	if pos.WithdrawalCount != 1 {
		t.Errorf("withdrawal count: got %d, want 1", pos.WithdrawalCount)
	}
	if pos.LastNullifier != null(0x31) {
		t.Error("last nullifier not recorded")
	}
	if pos.EncryptedPrincipal.Commitment != comm(0x22) {
		t.Error("remainder commitment not installed")
	}
}

func TestWithdraw_NullifierReuseRejected(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 50_000_000_000, 0x11)

	if err := h.core.ProcessAction(h.withdrawAction(user, action.WithdrawPartial, 10_000_000_000, 0x22, 0x31)); err != nil {
		t.Fatalf("first withdraw: %v", err)
	}

	err := h.core.ProcessAction(h.withdrawAction(user, action.WithdrawPartial, 5_000_000_000, 0x23, 0x31))
	if !errors.Is(err, ledger.ErrNullifierReused) {
		t.Fatalf("got %v, want ErrNullifierReused", err)
	}

	// Rejection must leave state untouched
	pos, _ := h.core.Store().Position(user)
	if pos.WithdrawalCount != 1 {
		t.Errorf("withdrawal count after reuse: got %d, want 1", pos.WithdrawalCount)
	}
	if h.core.Config().TotalShieldedTvl != 40_000_000_000 {
		t.Errorf("tvl after reuse: got %d, want 40_000_000_000", h.core.Config().TotalShieldedTvl)
	}
}

func TestWithdraw_FullReleasesPositionSlot(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 50_000_000_000, 0x11)

	if err := h.core.ProcessAction(h.withdrawAction(user, action.WithdrawFull, 50_000_000_000, 0, 0x31)); err != nil {
		t.Fatalf("withdraw full: %v", err)
	}

	cfg := h.core.Config()
	if cfg.TotalShieldedTvl != 0 {
		t.Errorf("tvl: got %d, want 0", cfg.TotalShieldedTvl)
	}
	if cfg.TotalPositions != 0 {
		t.Errorf("positions: got %d, want 0", cfg.TotalPositions)
	}

	pos, _ := h.core.Store().Position(user)
	if !pos.IsEmpty() {
		t.Error("position should be empty after full withdrawal")
	}
}

func TestWithdraw_BlockedByActiveLoan(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 50_000_000_000, 0x11)

	if err := h.core.ProcessAction(&action.Lend{
		ActionID:             uuid.New(),
		UserID:               user,
		Op:                   action.LendBorrow,
		CollateralCommitment: comm(0x41),
		BorrowCommitment:     comm(0x42),
		InterestRateBps:      800,
		Sequence:             h.userSeq(user),
		Timestamp:            baseTime,
	}); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	err := h.core.ProcessAction(h.withdrawAction(user, action.WithdrawPartial, 10_000_000_000, 0x22, 0x31))
	if !errors.Is(err, state.ErrLoanAlreadyActive) {
		t.Errorf("got %v, want ErrLoanAlreadyActive", err)
	}
}

func TestWithdraw_BlockedByPendingBridge(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 50_000_000_000, 0x11)

	if err := h.core.ProcessAction(&action.Bridge{
		ActionID:         uuid.New(),
		UserID:           user,
		Op:               action.BridgeInitiateOutbound,
		DestChainTag:     "arbitrum",
		AmountCommitment: comm(0x51),
		BridgeProof:      proof(0x52),
		Sequence:         h.userSeq(user),
		Timestamp:        baseTime,
	}); err != nil {
		t.Fatalf("initiate bridge: %v", err)
	}

	err := h.core.ProcessAction(h.withdrawAction(user, action.WithdrawPartial, 10_000_000_000, 0x22, 0x31))
	if !errors.Is(err, state.ErrBridgePending) {
		t.Errorf("got %v, want ErrBridgePending", err)
	}
}

// ============================================================================
// Pause / emergency / admin authorization
// ============================================================================

func TestPause_BlocksUserActionsButNotAdmin(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 2_000_000, 0x11)

	if err := h.adminOp(t, &action.AdminControl{Op: action.AdminPause}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	// Pause is idempotent
	if err := h.adminOp(t, &action.AdminControl{Op: action.AdminPause}); err != nil {
		t.Fatalf("second pause: %v", err)
	}

	if err := h.depositAt(t, user, 2_000_000, 0x12, baseTime); !errors.Is(err, state.ErrVaultPaused) {
		t.Errorf("deposit while paused: got %v, want ErrVaultPaused", err)
	}

	// Admin ops pass the pause gate
	if err := h.adminOp(t, &action.AdminControl{Op: action.AdminUnpause}); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := h.depositAt(t, user, 2_000_000, 0x12, baseTime); err != nil {
		t.Errorf("deposit after unpause: %v", err)
	}
}

func TestAdmin_Unauthorized(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)

	err := h.adminOp(t, &action.AdminControl{Admin: uuid.New(), Op: action.AdminPause})
	if !errors.Is(err, state.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
	if h.core.Config().IsPaused {
		t.Error("unauthorized pause must not take effect")
	}
}

func TestEmergency_ImpliesPause(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)

	if err := h.adminOp(t, &action.AdminControl{Op: action.AdminSetEmergency}); err != nil {
		t.Fatalf("set emergency: %v", err)
	}
	cfg := h.core.Config()
	if !cfg.EmergencyMode || !cfg.IsPaused {
		t.Errorf("got emergency=%v paused=%v, want both true", cfg.EmergencyMode, cfg.IsPaused)
	}

	// Clearing emergency does NOT unpause
	if err := h.adminOp(t, &action.AdminControl{Op: action.AdminClearEmergency}); err != nil {
		t.Fatalf("clear emergency: %v", err)
	}
	if cfg.EmergencyMode {
		t.Error("emergency should be cleared")
	}
	if !cfg.IsPaused {
		t.Error("clearing emergency must leave the vault paused")
	}
}

func TestAdmin_PartialFeePatch(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 10, 25, false)

	if err := h.adminOp(t, &action.AdminControl{
		Op:   action.AdminUpdateFees,
		Fees: &action.FeePatch{SwapFeeBps: u16(30)},
	}); err != nil {
		t.Fatalf("fee patch: %v", err)
	}

	cfg := h.core.Config()
	if cfg.DepositFeeBps != 10 || cfg.WithdrawalFeeBps != 25 || cfg.SwapFeeBps != 30 {
		t.Errorf("got %d/%d/%d, want 10/25/30", cfg.DepositFeeBps, cfg.WithdrawalFeeBps, cfg.SwapFeeBps)
	}

	err := h.adminOp(t, &action.AdminControl{
		Op:   action.AdminUpdateFees,
		Fees: &action.FeePatch{DepositFeeBps: u16(10_001)},
	})
	if !errors.Is(err, state.ErrInvalidParameter) {
		t.Fatalf("got %v, want ErrInvalidParameter", err)
	}
	if cfg.DepositFeeBps != 10 {
		t.Error("rejected patch must leave fees untouched")
	}
}

func TestAdmin_YieldRateCap(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)

	if err := h.adminOp(t, &action.AdminControl{Op: action.AdminUpdateYieldRate, YieldBps: u16(5_000)}); err != nil {
		t.Fatalf("yield 5000: %v", err)
	}
	err := h.adminOp(t, &action.AdminControl{Op: action.AdminUpdateYieldRate, YieldBps: u16(5_001)})
	if !errors.Is(err, state.ErrInvalidParameter) {
		t.Errorf("got %v, want ErrInvalidParameter", err)
	}
	if h.core.Config().CurrentYieldBps != 5_000 {
		t.Errorf("yield: got %d, want 5_000", h.core.Config().CurrentYieldBps)
	}
}

func TestAdmin_DepositRewards(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)

	if err := h.adminOp(t, &action.AdminControl{Op: action.AdminDepositRewards, RewardAmount: 7_000_000}); err != nil {
		t.Fatalf("rewards: %v", err)
	}
	if h.core.Config().TotalShieldedTvl != 7_000_000 {
		t.Errorf("tvl: got %d, want 7_000_000", h.core.Config().TotalShieldedTvl)
	}

	err := h.adminOp(t, &action.AdminControl{Op: action.AdminDepositRewards, RewardAmount: 0})
	if !errors.Is(err, state.ErrInvalidParameter) {
		t.Errorf("zero rewards: got %v, want ErrInvalidParameter", err)
	}
}

// ============================================================================
// Venue gating
// ============================================================================

func TestVenueDisabled_Lend(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 2_000_000, 0x11)

	if err := h.adminOp(t, &action.AdminControl{
		Op:     action.AdminToggleVenues,
		Venues: &action.VenuePatch{LendingMarket: bp(false)},
	}); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	err := h.core.ProcessAction(&action.Lend{
		ActionID:             uuid.New(),
		UserID:               user,
		Op:                   action.LendBorrow,
		CollateralCommitment: comm(0x41),
		BorrowCommitment:     comm(0x42),
		Sequence:             h.userSeq(user),
		Timestamp:            baseTime,
	})
	if !errors.Is(err, state.ErrVenueDisabled) {
		t.Errorf("got %v, want ErrVenueDisabled", err)
	}
}

func TestVenueDisabled_SwapDeskOnly(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 2_000_000, 0x11)

	if err := h.adminOp(t, &action.AdminControl{
		Op:     action.AdminToggleVenues,
		Venues: &action.VenuePatch{SwapDesk: bp(false)},
	}); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	// Swap desk route is blocked
	err := h.core.ProcessAction(&action.Swap{
		ActionID:               uuid.New(),
		UserID:                 user,
		Op:                     action.SwapExecute,
		Route:                  action.RouteSwapDesk,
		AmountInCommitment:     comm(0x61),
		MinAmountOutCommitment: comm(0x62),
		SwapProof:              proof(0x63),
		Sequence:               h.userSeq(user),
		Timestamp:              baseTime,
	})
	if !errors.Is(err, state.ErrVenueDisabled) {
		t.Fatalf("swap desk route: got %v, want ErrVenueDisabled", err)
	}

	// Dark pool route still works
	if err := h.core.ProcessAction(&action.Swap{
		ActionID:               uuid.New(),
		UserID:                 user,
		Op:                     action.SwapExecute,
		Route:                  action.RouteDarkPool,
		AmountInCommitment:     comm(0x61),
		MinAmountOutCommitment: comm(0x62),
		SwapProof:              proof(0x63),
		Sequence:               h.userSeq(user),
		Timestamp:              baseTime,
	}); err != nil {
		t.Errorf("dark pool route: %v", err)
	}
}

// ============================================================================
// Lending lifecycle
// ============================================================================

func TestLend_Lifecycle(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 10_000_000, 0x11)

	borrow := func() error {
		return h.core.ProcessAction(&action.Lend{
			ActionID:                uuid.New(),
			UserID:                  user,
			Op:                      action.LendBorrow,
			CollateralCommitment:    comm(0x41),
			BorrowCommitment:        comm(0x42),
			InterestRateBps:         800,
			LiquidationThresholdBps: 7_500,
			Sequence:                h.userSeq(user),
			Timestamp:               baseTime,
		})
	}

	if err := borrow(); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	pos, _ := h.core.Store().Position(user)
	if !pos.HasActiveLoan {
		t.Fatal("position should flag the active loan")
	}

	if err := borrow(); !errors.Is(err, state.ErrLoanAlreadyActive) {
		t.Fatalf("second borrow: got %v, want ErrLoanAlreadyActive", err)
	}

	if err := h.core.ProcessAction(&action.Lend{
		ActionID:            uuid.New(),
		UserID:              user,
		Op:                  action.LendRepay,
		RepaymentCommitment: comm(0x43),
		Sequence:            h.userSeq(user),
		Timestamp:           baseTime,
	}); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if pos.HasActiveLoan {
		t.Error("loan flag should clear on repay")
	}

	err := h.core.ProcessAction(&action.Lend{
		ActionID:            uuid.New(),
		UserID:              user,
		Op:                  action.LendRepay,
		RepaymentCommitment: comm(0x43),
		Sequence:            h.userSeq(user),
		Timestamp:           baseTime,
	})
	if !errors.Is(err, state.ErrNoActiveLoan) {
		t.Errorf("repay without loan: got %v, want ErrNoActiveLoan", err)
	}
}

func TestLend_AddCollateralRequiresActiveLoan(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 10_000_000, 0x11)

	err := h.core.ProcessAction(&action.Lend{
		ActionID:             uuid.New(),
		UserID:               user,
		Op:                   action.LendAddCollateral,
		CollateralCommitment: comm(0x44),
		Sequence:             h.userSeq(user),
		Timestamp:            baseTime,
	})
	if !errors.Is(err, state.ErrNoActiveLoan) {
		t.Errorf("got %v, want ErrNoActiveLoan", err)
	}
}

// ============================================================================
// Swap / dark pool
// ============================================================================

func TestSwap_SlippageCap(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 10_000_000, 0x11)

	err := h.core.ProcessAction(&action.Swap{
		ActionID:               uuid.New(),
		UserID:                 user,
		Op:                     action.SwapExecute,
		Route:                  action.RouteSwapDesk,
		AmountInCommitment:     comm(0x61),
		MinAmountOutCommitment: comm(0x62),
		MaxSlippageBps:         1_001,
		SwapProof:              proof(0x63),
		Sequence:               h.userSeq(user),
		Timestamp:              baseTime,
	})
	if !errors.Is(err, state.ErrInvalidParameter) {
		t.Errorf("got %v, want ErrInvalidParameter", err)
	}
}

func TestSwap_DarkPoolOrderLifecycle(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 10_000_000, 0x11)

	place := func() error {
		return h.core.ProcessAction(&action.Swap{
			ActionID:           uuid.New(),
			UserID:             user,
			Op:                 action.SwapPlaceLimitOrder,
			AmountInCommitment: comm(0x61),
			PriceCommitment:    comm(0x64),
			Side:               1,
			SwapProof:          proof(0x63),
			Sequence:           h.userSeq(user),
			Timestamp:          baseTime,
		})
	}

	if err := place(); err != nil {
		t.Fatalf("place: %v", err)
	}
	order, ok := h.core.Store().Order(user)
	if !ok || order.Status != state.OrderStatusOpen {
		t.Fatalf("order: ok=%v status=%v, want Open", ok, order.Status)
	}
	if order.Side != state.OrderSideSell {
		t.Errorf("side: got %v, want Sell", order.Side)
	}

	if err := h.core.ProcessAction(&action.Swap{
		ActionID:  uuid.New(),
		UserID:    user,
		Op:        action.SwapCancelOrder,
		SwapProof: proof(0x63),
		Sequence:  h.userSeq(user),
		Timestamp: baseTime,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if order.Status != state.OrderStatusCancelled {
		t.Errorf("status: got %v, want Cancelled", order.Status)
	}
	cancelled, _ := h.core.Store().Position(user)
	if cancelled.EncryptedPrincipal.Commitment != comm(0x61) {
		t.Error("cancel should return the resting amount to the principal slot")
	}

	err := h.core.ProcessAction(&action.Swap{
		ActionID:  uuid.New(),
		UserID:    user,
		Op:        action.SwapCancelOrder,
		SwapProof: proof(0x63),
		Sequence:  h.userSeq(user),
		Timestamp: baseTime,
	})
	if !errors.Is(err, state.ErrOrderNotCancellable) {
		t.Fatalf("double cancel: got %v, want ErrOrderNotCancellable", err)
	}

	// Re-place overwrites the cancelled slot, then a match fills it
	if err := place(); err != nil {
		t.Fatalf("re-place: %v", err)
	}
	if err := h.core.ProcessAction(&action.Swap{
		ActionID:  uuid.New(),
		UserID:    user,
		Op:        action.SwapMatchDarkPool,
		SwapProof: proof(0x63),
		Sequence:  h.userSeq(user),
		Timestamp: baseTime,
	}); err != nil {
		t.Fatalf("match: %v", err)
	}
	order, _ = h.core.Store().Order(user)
	if order.Status != state.OrderStatusFilled {
		t.Errorf("status: got %v, want Filled", order.Status)
	}

	pos, _ := h.core.Store().Position(user)
	if pos.BalanceCommitment != comm(0x64) {
		t.Error("match should settle the price commitment into the balance slot")
	}
}

// ============================================================================
// Bridge lifecycle
// ============================================================================

func TestBridge_Lifecycle(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 10_000_000, 0x11)

	initiate := func() error {
		return h.core.ProcessAction(&action.Bridge{
			ActionID:         uuid.New(),
			UserID:           user,
			Op:               action.BridgeInitiateOutbound,
			DestChainTag:     "base",
			AmountCommitment: comm(0x51),
			BridgeProof:      proof(0x52),
			Sequence:         h.userSeq(user),
			Timestamp:        baseTime,
		})
	}

	if err := initiate(); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	req, _ := h.core.Store().Bridge(user)
	if req.Status != state.BridgeStatusPending || req.DestChainID != 8453 {
		t.Fatalf("request: status=%v chain=%d", req.Status, req.DestChainID)
	}

	if err := initiate(); !errors.Is(err, state.ErrBridgePending) {
		t.Fatalf("second initiate: got %v, want ErrBridgePending", err)
	}

	if err := h.core.ProcessAction(&action.Bridge{
		ActionID:    uuid.New(),
		UserID:      user,
		Op:          action.BridgeVerifyCompletion,
		BridgeProof: proof(0x53),
		Sequence:    h.userSeq(user),
		Timestamp:   baseTime,
	}); err != nil {
		t.Fatalf("verify completion: %v", err)
	}
	if req.Status != state.BridgeStatusCompleted {
		t.Errorf("status: got %v, want Completed", req.Status)
	}

	pos, _ := h.core.Store().Position(user)
	if pos.HasPendingBridge {
		t.Error("pending flag should clear on completion")
	}

	err := h.core.ProcessAction(&action.Bridge{
		ActionID:    uuid.New(),
		UserID:      user,
		Op:          action.BridgeVerifyCompletion,
		BridgeProof: proof(0x53),
		Sequence:    h.userSeq(user),
		Timestamp:   baseTime,
	})
	if !errors.Is(err, state.ErrInvalidBridgeState) {
		t.Errorf("verify after completion: got %v, want ErrInvalidBridgeState", err)
	}
}

func TestBridge_CancelEndsInCancelled(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 10_000_000, 0x11)

	if err := h.core.ProcessAction(&action.Bridge{
		ActionID:         uuid.New(),
		UserID:           user,
		Op:               action.BridgeInitiateOutbound,
		DestChainTag:     "polygon",
		AmountCommitment: comm(0x51),
		BridgeProof:      proof(0x52),
		Sequence:         h.userSeq(user),
		Timestamp:        baseTime,
	}); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if err := h.core.ProcessAction(&action.Bridge{
		ActionID:  uuid.New(),
		UserID:    user,
		Op:        action.BridgeCancelRequest,
		Sequence:  h.userSeq(user),
		Timestamp: baseTime,
	}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	req, _ := h.core.Store().Bridge(user)
	if req.Status != state.BridgeStatusCancelled {
		t.Errorf("status: got %v, want Cancelled", req.Status)
	}
	pos, _ := h.core.Store().Position(user)
	if pos.HasPendingBridge {
		t.Error("pending flag should clear on cancel")
	}
	if pos.BalanceCommitment != comm(0x51) {
		t.Error("cancelled amount should return to the balance slot")
	}

	// No pending request left to cancel
	err := h.core.ProcessAction(&action.Bridge{
		ActionID:  uuid.New(),
		UserID:    user,
		Op:        action.BridgeCancelRequest,
		Sequence:  h.userSeq(user),
		Timestamp: baseTime,
	})
	if !errors.Is(err, state.ErrInvalidBridgeState) {
		t.Errorf("got %v, want ErrInvalidBridgeState", err)
	}
}

func TestBridge_ClaimInbound(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 10_000_000, 0x11)

	if err := h.core.ProcessAction(&action.Bridge{
		ActionID:         uuid.New(),
		UserID:           user,
		Op:               action.BridgeClaimInbound,
		AmountCommitment: comm(0x55),
		InboundProof:     proof(0x56),
		Sequence:         h.userSeq(user),
		Timestamp:        baseTime,
	}); err != nil {
		t.Fatalf("claim inbound: %v", err)
	}

	pos, _ := h.core.Store().Position(user)
	if pos.EncryptedPrincipal.Commitment != comm(0x55) {
		t.Error("inbound claim should install the amount commitment")
	}
}

func TestBridge_UnknownChain(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 10_000_000, 0x11)

	err := h.core.ProcessAction(&action.Bridge{
		ActionID:         uuid.New(),
		UserID:           user,
		Op:               action.BridgeInitiateOutbound,
		DestChainTag:     "dogechain",
		AmountCommitment: comm(0x51),
		BridgeProof:      proof(0x52),
		Sequence:         h.userSeq(user),
		Timestamp:        baseTime,
	})
	if !errors.Is(err, state.ErrInvalidParameter) {
		t.Errorf("got %v, want ErrInvalidParameter", err)
	}
	if _, ok := h.core.Store().Bridge(user); ok {
		t.Error("rejected initiate must not create a request")
	}
}

// ============================================================================
// Compliance
// ============================================================================

func TestCompliance_GateOnDeposit(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, true) // complianceRequired
	user := uuid.New()

	err := h.depositAt(t, user, 2_000_000, 0x11, baseTime)
	if !errors.Is(err, state.ErrComplianceRequired) {
		t.Fatalf("got %v, want ErrComplianceRequired", err)
	}

	// Attestation needs a position; turn the gate off, create one, re-arm.
	if err := h.adminOp(t, &action.AdminControl{
		Op: action.AdminSetComplianceRequired, ComplianceRequired: bp(false),
	}); err != nil {
		t.Fatalf("disarm gate: %v", err)
	}
	h.deposit(t, user, 2_000_000, 0x11)
	if err := h.submitCompliance(t, user, 30, baseTime); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := h.adminOp(t, &action.AdminControl{
		Op: action.AdminSetComplianceRequired, ComplianceRequired: bp(true),
	}); err != nil {
		t.Fatalf("re-arm gate: %v", err)
	}

	if err := h.depositAt(t, user, 2_000_000, 0x12, baseTime); err != nil {
		t.Errorf("deposit with valid attestation: %v", err)
	}

	// Past the validity window the gate rejects with the expiry error
	late := baseTime.Add(31 * 24 * time.Hour)
	if err := h.depositAt(t, user, 2_000_000, 0x13, late); !errors.Is(err, state.ErrAttestationExpired) {
		t.Errorf("expired attestation: got %v, want ErrAttestationExpired", err)
	}
}

func TestCompliance_RiskScoreTooHigh(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 2_000_000, 0x11)

	var hot [32]byte
	for i := range hot {
		hot[i] = 0xFF // deterministic score 80
	}
	err := h.core.ProcessAction(&action.Compliance{
		ActionID:        uuid.New(),
		UserID:          user,
		Op:              action.ComplianceSubmit,
		AttestationHash: hot,
		ValidityDays:    30,
		DisclosureProof: proof(0xD1),
		Sequence:        h.userSeq(user),
		Timestamp:       baseTime,
	})
	if !errors.Is(err, state.ErrRiskScoreTooHigh) {
		t.Errorf("got %v, want ErrRiskScoreTooHigh", err)
	}
}

func TestCompliance_RevokeAndRenew(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 2_000_000, 0x11)

	if err := h.submitCompliance(t, user, 30, baseTime); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := h.core.ProcessAction(&action.Compliance{
		ActionID:     uuid.New(),
		UserID:       user,
		Op:           action.ComplianceRenew,
		ValidityDays: 60,
		Sequence:     h.userSeq(user),
		Timestamp:    baseTime,
	}); err != nil {
		t.Fatalf("renew: %v", err)
	}
	att, _ := h.core.Store().Attestation(user)
	if att.ExpiresAt != baseTime.Unix()+60*86_400 {
		t.Errorf("expiry: got %d, want %d", att.ExpiresAt, baseTime.Unix()+60*86_400)
	}

	if err := h.core.ProcessAction(&action.Compliance{
		ActionID:  uuid.New(),
		UserID:    user,
		Op:        action.ComplianceRevoke,
		Sequence:  h.userSeq(user),
		Timestamp: baseTime,
	}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if att.IsValid {
		t.Error("attestation should be invalid after revoke")
	}

	err := h.core.ProcessAction(&action.Compliance{
		ActionID:     uuid.New(),
		UserID:       user,
		Op:           action.ComplianceRenew,
		ValidityDays: 30,
		Sequence:     h.userSeq(user),
		Timestamp:    baseTime,
	})
	if !errors.Is(err, state.ErrComplianceRequired) {
		t.Errorf("renew after revoke: got %v, want ErrComplianceRequired", err)
	}
}

// ============================================================================
// Pipeline: dedup, hash chain, conservation, snapshot
// ============================================================================

func TestDuplicate_SkippedSilently(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()

	act := &action.Deposit{
		ActionID:         uuid.New(),
		UserID:           user,
		Amount:           2_000_000,
		AmountCommitment: comm(0x11),
		Sequence:         h.userSeq(user),
		Timestamp:        baseTime,
	}
	if err := h.core.ProcessAction(act); err != nil {
		t.Fatalf("first: %v", err)
	}
	// Redelivery: same action, same source sequence
	if err := h.core.ProcessAction(act); err != nil {
		t.Fatalf("duplicate should be skipped, got %v", err)
	}

	if h.core.Config().TotalShieldedTvl != 2_000_000 {
		t.Errorf("tvl after duplicate: got %d, want 2_000_000", h.core.Config().TotalShieldedTvl)
	}
	pos, _ := h.core.Store().Position(user)
	if pos.DepositCount != 1 {
		t.Errorf("deposit count: got %d, want 1", pos.DepositCount)
	}
}

func TestStateHashChain(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 2_000_000, 0x11)
	h.deposit(t, user, 3_000_000, 0x12)

	var envelopes []*action.Envelope
	for len(h.persist) > 0 {
		out := <-h.persist
		envelopes = append(envelopes, out.Envelope)
	}
	if len(envelopes) != 3 {
		t.Fatalf("got %d envelopes, want 3", len(envelopes))
	}

	for i, env := range envelopes {
		if env.Sequence != int64(i) {
			t.Errorf("envelope %d: sequence %d", i, env.Sequence)
		}
		if env.StateHash == ([32]byte{}) {
			t.Errorf("envelope %d: zero state hash", i)
		}
		if i > 0 && env.PrevHash != envelopes[i-1].StateHash {
			t.Errorf("envelope %d: prev hash does not chain", i)
		}
	}

	if h.core.GetStateHash() != envelopes[2].StateHash {
		t.Error("chain tip should match the last envelope")
	}
}

func TestTvlConservation_MixedFlow(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 10, 0, false)
	alice, bob := uuid.New(), uuid.New()

	h.deposit(t, alice, 50_000_000_000, 0x11) // net 49_950_000_000
	h.deposit(t, bob, 10_000_000_000, 0x21)   // net 9_990_000_000

	if err := h.core.ProcessAction(h.withdrawAction(alice, action.WithdrawPartial, 20_000_000_000, 0x12, 0x31)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	want := int64(49_950_000_000 + 9_990_000_000 - 20_000_000_000)
	if got := h.core.Config().TotalShieldedTvl; got != want {
		t.Errorf("tvl: got %d, want %d", got, want)
	}
	if h.core.Config().TotalPositions != 2 {
		t.Errorf("positions: got %d, want 2", h.core.Config().TotalPositions)
	}
}

func TestSnapshotRestore_PreservesNullifiersAndSequence(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 0, 0, false)
	user := uuid.New()
	h.deposit(t, user, 50_000_000_000, 0x11)
	if err := h.core.ProcessAction(h.withdrawAction(user, action.WithdrawPartial, 10_000_000_000, 0x22, 0x31)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	snap := h.core.CreateSnapshotState()

	persist := make(chan core.CoreOutput, 64)
	projection := make(chan core.CoreOutput, 64)
	restored := core.NewVaultCore(0, persist, projection, nil, nil, nil, nil)
	restored.RestoreFromSnapshot(snap)

	if restored.GetSequence() != h.core.GetSequence() {
		t.Errorf("sequence: got %d, want %d", restored.GetSequence(), h.core.GetSequence())
	}
	if restored.GetStateHash() != h.core.GetStateHash() {
		t.Error("state hash chain tip should survive restore")
	}
	if restored.Config().TotalShieldedTvl != 40_000_000_000 {
		t.Errorf("tvl: got %d, want 40_000_000_000", restored.Config().TotalShieldedTvl)
	}

	// The burned nullifier stays burned across restart
	err := restored.ProcessAction(&action.Withdraw{
		ActionID:            uuid.New(),
		UserID:              user,
		Type:                action.WithdrawPartial,
		ExpectedAmount:      5_000_000_000,
		RemainderCommitment: comm(0x23),
		Nullifier:           null(0x31),
		WithdrawalProof:     proof(0xA1),
		OwnershipProof:      proof(0xA2),
		Sequence:            h.seqs["user:"+user.String()], // next per-user sequence
		Timestamp:           baseTime,
	})
	if !errors.Is(err, ledger.ErrNullifierReused) {
		t.Errorf("got %v, want ErrNullifierReused after restore", err)
	}
}

func TestSnapshot_IsolatedFromLaterMutation(t *testing.T) {
	h := newHarness(t)
	h.initialize(t, 10, 0, false)
	user := uuid.New()
	h.deposit(t, user, 50_000_000_000, 0x11)

	snap := h.core.CreateSnapshotState()
	snapTvl := snap.Config.TotalShieldedTvl
	snapSeq := snap.Sequence
	if len(snap.Positions) != 1 {
		t.Fatalf("positions: got %d, want 1", len(snap.Positions))
	}
	snapBalance := snap.Positions[0].BalanceCommitment

	// Mutate everything the snapshot exported
	if err := h.core.ProcessAction(h.withdrawAction(user, action.WithdrawPartial, 10_000_000_000, 0x22, 0x31)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := h.adminOp(t, &action.AdminControl{Op: action.AdminUpdateYieldRate, YieldBps: u16(900)}); err != nil {
		t.Fatalf("yield update: %v", err)
	}

	// The snapshot is a deep copy; the live state moved on without it
	if snap.Config.TotalShieldedTvl != snapTvl {
		t.Error("snapshot config should not track live TVL")
	}
	if snap.Config.CurrentYieldBps != 500 {
		t.Errorf("snapshot yield: got %d, want 500", snap.Config.CurrentYieldBps)
	}
	if snap.Positions[0].BalanceCommitment != snapBalance {
		t.Error("snapshot position should not track live commitments")
	}
	if snap.Sequence != snapSeq {
		t.Errorf("snapshot sequence moved: got %d, want %d", snap.Sequence, snapSeq)
	}

	// And the other way: scribbling on the snapshot leaves the core alone
	snap.Config.TotalShieldedTvl = -1
	snap.Positions[0].BalanceCommitment = comm(0xEE)
	if h.core.Config().TotalShieldedTvl == -1 {
		t.Error("core config aliased by snapshot")
	}
	pos, _ := h.core.Store().Position(user)
	if pos.BalanceCommitment == comm(0xEE) {
		t.Error("core position aliased by snapshot")
	}
}
