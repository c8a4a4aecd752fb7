package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/action"
	"ShieldVault/internal/ledger"
	"ShieldVault/internal/observability"
	"ShieldVault/internal/state"
	"ShieldVault/internal/vaultmath"
)

// VaultCore is the single-threaded action processor. One goroutine owns
// all vault state; atomicity and per-user serialization fall out of the
// processing model, not out of locks.
type VaultCore struct {
	sequence          int64
	processedSeq      atomic.Int64 // Mirror of sequence, readable off-thread
	hasher            *StateHasher
	config            *state.VaultConfig // nil until Initialize is applied
	store             *state.PositionStore
	nullifiers        *ledger.NullifierLedger
	verifier          Verifier
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// VenueSignal is the outbound notification emitted toward an external
// privacy venue after an action is applied. Commitment-only: no plaintext
// amounts ever leave the core.
type VenueSignal struct {
	Venue       string
	Operation   string
	User        *uuid.UUID
	Commitment  ledger.Commitment
	Nullifier   *ledger.Nullifier
	DestChainID uint64
}

// VaultStats is the public counter snapshot attached to every output.
type VaultStats struct {
	TotalShieldedTvl int64
	TotalPositions   int64
	CurrentYieldBps  uint16
	IsPaused         bool
	EmergencyMode    bool
}

type CoreOutput struct {
	Envelope   *action.Envelope
	Signal     *VenueSignal
	Position   *state.EncryptedPosition // Clone; nil for vault-global actions
	Stats      *VaultStats
	StateDelta []byte
}

func NewVaultCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbIdempotency DBIdempotencyChecker,
	dbNullifiers ledger.DBNullifierChecker,
	verifier Verifier,
	metrics *observability.Metrics,
) *VaultCore {
	if verifier == nil {
		verifier = PermissiveVerifier{}
	}

	c := &VaultCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		store:             state.NewPositionStore(),
		nullifiers:        ledger.NewNullifierLedger(dbNullifiers),
		verifier:          verifier,
		idempotency:       NewIdempotencyChecker(1_000_000, dbIdempotency),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
	c.processedSeq.Store(startSequence)
	return c
}

// ProcessAction is the main processing pipeline
func (c *VaultCore) ProcessAction(act action.Action) error {
	start := time.Now()
	actionType := act.ActionType().String()
	idempotencyKey := act.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(actionType, idempotencyKey)

	// Step 2: Sequence validation
	partition := c.getPartition(act)
	sourceSequence := act.SourceSequence()
	if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, idempotencyKey, isDuplicate); err != nil {
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreActionsRejected.WithLabelValues(actionType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Dispatch. Handlers validate everything before mutating, so a
	// returned error means no state changed.
	signal, err := c.dispatchAction(act)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreActionsRejected.WithLabelValues(actionType, rejectReason(err)).Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 4: Compute state digest and hash
	stateDigest := c.computeStateDigest(act)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	// Step 5: Create envelope
	payload, err := json.Marshal(act)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal applied action seq=%d: %v", c.sequence, err))
	}
	envelope := &action.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		ActionType:     act.ActionType(),
		User:           act.User(),
		Timestamp:      c.getActionTimestamp(act),
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Signal:     signal,
		Stats:      c.statsSnapshot(),
		StateDelta: stateDigest,
	}
	if user := act.User(); user != nil {
		if pos, ok := c.store.Position(*user); ok {
			output.Position = pos.Clone()
		}
	}

	c.sequence++
	c.processedSeq.Store(c.sequence)

	// Step 6: Emit outputs.
	// Persistence: blocking send — the core stalls until the persistence
	// worker drains. This guarantees no applied action is lost.
	c.persistChan <- output

	// Projections: non-blocking send — drop on full. Projection workers
	// can rebuild from the action log if they fall behind.
	select {
	case c.projectionChan <- output:
	default:
		// Silently dropped — projection will catch up via rebuild
		if c.metrics != nil {
			c.metrics.ProjectionDropped.Inc()
		}
	}

	// Step 7: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(actionType, idempotencyKey)

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreActionsApplied.WithLabelValues(actionType).Inc()
		c.metrics.CoreActionDuration.WithLabelValues(actionType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		if c.config != nil {
			c.metrics.VaultTvl.Set(float64(c.config.TotalShieldedTvl))
			c.metrics.VaultPositions.Set(float64(c.config.TotalPositions))
		}
	}

	return nil
}

func (c *VaultCore) dispatchAction(act action.Action) (*VenueSignal, error) {
	switch a := act.(type) {
	case *action.Initialize:
		return c.handleInitialize(a)
	case *action.Deposit:
		return c.handleDeposit(a)
	case *action.Withdraw:
		return c.handleWithdraw(a)
	case *action.Lend:
		return c.handleLend(a)
	case *action.Swap:
		return c.handleSwap(a)
	case *action.Bridge:
		return c.handleBridge(a)
	case *action.Compliance:
		return c.handleCompliance(a)
	case *action.AdminControl:
		return c.handleAdminControl(a)
	default:
		return nil, fmt.Errorf("%w: unknown action type %T", state.ErrInvalidParameter, act)
	}
}

// getPartition determines partition key for sequence validation
func (c *VaultCore) getPartition(act action.Action) string {
	if user := act.User(); user != nil {
		return fmt.Sprintf("user:%s", user)
	}
	return "global"
}

// getActionTimestamp extracts the versioned timestamp. The core MUST NOT
// call time.Now(); every timestamp is an input.
func (c *VaultCore) getActionTimestamp(act action.Action) time.Time {
	switch a := act.(type) {
	case *action.Initialize:
		return a.Timestamp
	case *action.Deposit:
		return a.Timestamp
	case *action.Withdraw:
		return a.Timestamp
	case *action.Lend:
		return a.Timestamp
	case *action.Swap:
		return a.Timestamp
	case *action.Bridge:
		return a.Timestamp
	case *action.Compliance:
		return a.Timestamp
	case *action.AdminControl:
		return a.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getActionTimestamp called with unhandled action type %T — core cannot use wall-clock time", act))
	}
}

// ============================================================================
// Handlers
// ============================================================================

// requireOperational returns the config when user actions may proceed.
func (c *VaultCore) requireOperational() (*state.VaultConfig, error) {
	if c.config == nil {
		return nil, state.ErrNotInitialized
	}
	if !c.config.IsOperational() {
		return nil, fmt.Errorf("%w: paused=%v emergency=%v",
			state.ErrVaultPaused, c.config.IsPaused, c.config.EmergencyMode)
	}
	return c.config, nil
}

// checkComplianceGate enforces the deposit/withdraw attestation gate.
func (c *VaultCore) checkComplianceGate(user uuid.UUID, now int64) error {
	if !c.config.ComplianceRequired {
		return nil
	}
	att, ok := c.store.Attestation(user)
	if !ok || !att.IsValid {
		return fmt.Errorf("%w: user=%s", state.ErrComplianceRequired, user)
	}
	if att.Expired(now) {
		return fmt.Errorf("%w: expired_at=%d now=%d", state.ErrAttestationExpired, att.ExpiresAt, now)
	}
	return nil
}

func (c *VaultCore) handleInitialize(a *action.Initialize) (*VenueSignal, error) {
	if c.config != nil {
		return nil, state.ErrAlreadyInitialized
	}
	if a.Admin == uuid.Nil || a.Treasury == uuid.Nil {
		return nil, fmt.Errorf("%w: admin and treasury are required", state.ErrInvalidParameter)
	}
	if a.ShieldedAsset == "" {
		return nil, fmt.Errorf("%w: shielded asset is required", state.ErrInvalidParameter)
	}

	for _, f := range []struct {
		name string
		bps  uint16
	}{
		{"deposit_fee_bps", a.DepositFeeBps},
		{"withdrawal_fee_bps", a.WithdrawalFeeBps},
		{"lending_fee_bps", a.LendingFeeBps},
		{"swap_fee_bps", a.SwapFeeBps},
		{"bridge_fee_bps", a.BridgeFeeBps},
	} {
		if err := state.ValidateBps(f.name, f.bps); err != nil {
			return nil, err
		}
	}
	if err := state.ValidateYieldBps(a.InitialYieldBps); err != nil {
		return nil, err
	}

	now := a.Timestamp.Unix()
	c.config = &state.VaultConfig{
		Admin:              a.Admin,
		Treasury:           a.Treasury,
		ShieldedAsset:      a.ShieldedAsset,
		SecondaryAsset:     a.SecondaryAsset,
		DepositFeeBps:      a.DepositFeeBps,
		WithdrawalFeeBps:   a.WithdrawalFeeBps,
		LendingFeeBps:      a.LendingFeeBps,
		SwapFeeBps:         a.SwapFeeBps,
		BridgeFeeBps:       a.BridgeFeeBps,
		CurrentYieldBps:    a.InitialYieldBps,
		ComplianceRequired: a.ComplianceRequired,

		// Venues launch enabled; operators trim via AdminToggleVenues.
		EncryptedComputeEnabled: true,
		PrivateTransferEnabled:  true,
		DarkPoolEnabled:         true,
		LendingMarketEnabled:    true,
		BridgeRelayEnabled:      true,
		SwapDeskEnabled:         true,
		ComplianceOracleEnabled: true,

		CreatedAt:       now,
		LastYieldUpdate: now,
	}

	return nil, nil
}

func (c *VaultCore) handleDeposit(a *action.Deposit) (*VenueSignal, error) {
	cfg, err := c.requireOperational()
	if err != nil {
		return nil, err
	}
	if a.Amount < vaultmath.MinActionAmount {
		return nil, fmt.Errorf("%w: amount %d below minimum %d",
			state.ErrInvalidParameter, a.Amount, int64(vaultmath.MinActionAmount))
	}
	if err := ledger.ValidateCommitment(a.AmountCommitment); err != nil {
		return nil, err
	}
	now := a.Timestamp.Unix()
	if err := c.checkComplianceGate(a.UserID, now); err != nil {
		return nil, err
	}

	// All checks passed; mutations below cannot fail.
	pos, created := c.store.GetOrCreatePosition(a.UserID, now)
	if created {
		cfg.TotalPositions++
	}

	net, _ := vaultmath.ApplyFee(a.Amount, cfg.DepositFeeBps)
	cfg.CreditTvl(net)

	pos.EncryptedPrincipal = state.EncryptedAmount{
		Handle:     a.BlindingFactor,
		Commitment: a.AmountCommitment,
	}
	pos.BalanceCommitment = a.AmountCommitment
	pos.DepositCount++
	pos.LastDepositAt = now
	pos.Touch(now)

	return &VenueSignal{
		Venue:      state.VenuePrivateTransfer.String(),
		Operation:  "deposit",
		User:       a.User(),
		Commitment: a.AmountCommitment,
	}, nil
}

func (c *VaultCore) handleWithdraw(a *action.Withdraw) (*VenueSignal, error) {
	cfg, err := c.requireOperational()
	if err != nil {
		return nil, err
	}
	pos, err := c.store.RequirePosition(a.UserID)
	if err != nil {
		return nil, err
	}
	if a.ExpectedAmount < vaultmath.MinActionAmount {
		return nil, fmt.Errorf("%w: expected amount %d below minimum %d",
			state.ErrInvalidParameter, a.ExpectedAmount, int64(vaultmath.MinActionAmount))
	}
	if a.Type == action.WithdrawPartial {
		if err := ledger.ValidateCommitment(a.RemainderCommitment); err != nil {
			return nil, fmt.Errorf("remainder: %w", err)
		}
	}
	if a.Nullifier.IsZero() {
		return nil, fmt.Errorf("%w: all-zero", ledger.ErrMalformedNullifier)
	}
	if err := ledger.ValidateProof(a.WithdrawalProof); err != nil {
		return nil, err
	}
	if err := ledger.ValidateProof(a.OwnershipProof); err != nil {
		return nil, err
	}
	if err := c.verifier.Verify(ProofWithdrawal, a.WithdrawalProof); err != nil {
		return nil, err
	}
	if err := c.verifier.Verify(ProofOwnership, a.OwnershipProof); err != nil {
		return nil, err
	}
	if pos.HasActiveLoan {
		return nil, fmt.Errorf("%w: repay before withdrawing", state.ErrLoanAlreadyActive)
	}
	if err := c.store.EnsureNoPendingBridge(a.UserID); err != nil {
		return nil, err
	}
	now := a.Timestamp.Unix()
	if err := c.checkComplianceGate(a.UserID, now); err != nil {
		return nil, err
	}

	// Last check: burning the nullifier is the first mutation, so nothing
	// fallible may run after it.
	if err := c.nullifiers.Record(a.UserID, a.Nullifier); err != nil {
		return nil, err
	}

	switch a.Type {
	case action.WithdrawPartial:
		pos.EncryptedPrincipal.Commitment = a.RemainderCommitment
		pos.BalanceCommitment = a.RemainderCommitment
	case action.WithdrawFull:
		pos.EncryptedPrincipal = state.EncryptedAmount{}
		pos.EncryptedYield = state.EncryptedAmount{}
		pos.BalanceCommitment = ledger.Commitment{}
	case action.WithdrawYieldOnly:
		pos.EncryptedYield = state.EncryptedAmount{}
	}

	pos.WithdrawalCount++
	pos.LastNullifier = a.Nullifier
	pos.Touch(now)

	cfg.DebitTvl(a.ExpectedAmount)
	if a.Type == action.WithdrawFull && pos.IsEmpty() && cfg.TotalPositions > 0 {
		cfg.TotalPositions--
	}

	if c.metrics != nil {
		c.metrics.NullifiersConsumed.Inc()
	}

	n := a.Nullifier
	return &VenueSignal{
		Venue:      state.VenuePrivateTransfer.String(),
		Operation:  "withdraw_" + a.Type.String(),
		User:       a.User(),
		Commitment: pos.BalanceCommitment,
		Nullifier:  &n,
	}, nil
}

func (c *VaultCore) handleLend(a *action.Lend) (*VenueSignal, error) {
	_, err := c.requireOperational()
	if err != nil {
		return nil, err
	}
	if !c.config.VenueEnabled(state.VenueLendingMarket) {
		return nil, fmt.Errorf("%w: %s", state.ErrVenueDisabled, state.VenueLendingMarket)
	}
	pos, err := c.store.RequirePosition(a.UserID)
	if err != nil {
		return nil, err
	}

	now := a.Timestamp.Unix()
	var signalCommitment ledger.Commitment

	switch a.Op {
	case action.LendBorrow:
		if err := ledger.ValidateCommitment(a.CollateralCommitment); err != nil {
			return nil, fmt.Errorf("collateral: %w", err)
		}
		if err := ledger.ValidateCommitment(a.BorrowCommitment); err != nil {
			return nil, fmt.Errorf("borrow: %w", err)
		}
		if err := state.ValidateBps("interest_rate_bps", a.InterestRateBps); err != nil {
			return nil, err
		}
		if err := state.ValidateBps("liquidation_threshold_bps", a.LiquidationThresholdBps); err != nil {
			return nil, err
		}
		if err := c.store.EnsureNoActiveLoan(a.UserID); err != nil {
			return nil, err
		}

		c.store.PutLoan(&state.LendingPosition{
			Borrower:                a.UserID,
			EncryptedCollateral:     state.EncryptedAmount{Commitment: a.CollateralCommitment},
			EncryptedBorrow:         state.EncryptedAmount{Commitment: a.BorrowCommitment},
			InterestRateBps:         a.InterestRateBps,
			LiquidationThresholdBps: a.LiquidationThresholdBps,
			IsActive:                true,
			OriginatedAt:            now,
			LastAccrualAt:           now,
		})
		pos.HasActiveLoan = true
		signalCommitment = a.BorrowCommitment

	case action.LendRepay:
		if err := ledger.ValidateCommitment(a.RepaymentCommitment); err != nil {
			return nil, fmt.Errorf("repayment: %w", err)
		}
		loan, err := c.store.ActiveLoan(a.UserID)
		if err != nil {
			return nil, err
		}
		loan.Close(now)
		pos.HasActiveLoan = false
		signalCommitment = a.RepaymentCommitment

	case action.LendLiquidate:
		if err := ledger.ValidateProof(a.LiquidationProof); err != nil {
			return nil, err
		}
		if err := c.verifier.Verify(ProofLiquidation, a.LiquidationProof); err != nil {
			return nil, err
		}
		loan, err := c.store.ActiveLoan(a.UserID)
		if err != nil {
			return nil, err
		}
		signalCommitment = loan.EncryptedCollateral.Commitment
		loan.Close(now)
		pos.HasActiveLoan = false

	case action.LendAddCollateral, action.LendWithdrawCollateral:
		if err := ledger.ValidateCommitment(a.CollateralCommitment); err != nil {
			return nil, fmt.Errorf("collateral: %w", err)
		}
		loan, err := c.store.ActiveLoan(a.UserID)
		if err != nil {
			return nil, err
		}
		loan.EncryptedCollateral.Commitment = a.CollateralCommitment
		loan.LastAccrualAt = now
		signalCommitment = a.CollateralCommitment

	default:
		return nil, fmt.Errorf("%w: unknown lend op %d", state.ErrInvalidParameter, a.Op)
	}

	pos.Touch(now)

	return &VenueSignal{
		Venue:      state.VenueLendingMarket.String(),
		Operation:  a.Op.String(),
		User:       a.User(),
		Commitment: signalCommitment,
	}, nil
}

func (c *VaultCore) handleSwap(a *action.Swap) (*VenueSignal, error) {
	_, err := c.requireOperational()
	if err != nil {
		return nil, err
	}
	pos, err := c.store.RequirePosition(a.UserID)
	if err != nil {
		return nil, err
	}
	if err := ledger.ValidateProof(a.SwapProof); err != nil {
		return nil, err
	}
	if err := c.verifier.Verify(ProofSwap, a.SwapProof); err != nil {
		return nil, err
	}

	now := a.Timestamp.Unix()
	venue := state.VenueDarkPool

	switch a.Op {
	case action.SwapExecute:
		switch a.Route {
		case action.RouteSwapDesk:
			if !c.config.VenueEnabled(state.VenueSwapDesk) {
				return nil, fmt.Errorf("%w: %s", state.ErrVenueDisabled, state.VenueSwapDesk)
			}
			venue = state.VenueSwapDesk
		case action.RouteDarkPool:
			if !c.config.VenueEnabled(state.VenueDarkPool) {
				return nil, fmt.Errorf("%w: %s", state.ErrVenueDisabled, state.VenueDarkPool)
			}
		case action.RouteSplit:
			if !c.config.VenueEnabled(state.VenueSwapDesk) {
				return nil, fmt.Errorf("%w: %s", state.ErrVenueDisabled, state.VenueSwapDesk)
			}
			if !c.config.VenueEnabled(state.VenueDarkPool) {
				return nil, fmt.Errorf("%w: %s", state.ErrVenueDisabled, state.VenueDarkPool)
			}
			if a.SplitWeightBps > vaultmath.MaxBasisPoints {
				return nil, fmt.Errorf("%w: split_weight_bps %d exceeds %d",
					state.ErrInvalidParameter, a.SplitWeightBps, vaultmath.MaxBasisPoints)
			}
			venue = state.VenueSwapDesk
		default:
			return nil, fmt.Errorf("%w: unknown swap route %d", state.ErrInvalidParameter, a.Route)
		}
		if a.MaxSlippageBps > action.MaxSlippageBps {
			return nil, fmt.Errorf("%w: max_slippage_bps %d exceeds %d",
				state.ErrInvalidParameter, a.MaxSlippageBps, action.MaxSlippageBps)
		}
		if err := ledger.ValidateCommitment(a.AmountInCommitment); err != nil {
			return nil, fmt.Errorf("amount_in: %w", err)
		}
		if err := ledger.ValidateCommitment(a.MinAmountOutCommitment); err != nil {
			return nil, fmt.Errorf("min_amount_out: %w", err)
		}

		pos.EncryptedPrincipal.Commitment = a.AmountInCommitment
		pos.BalanceCommitment = a.MinAmountOutCommitment

	case action.SwapPlaceLimitOrder:
		if !c.config.VenueEnabled(state.VenueDarkPool) {
			return nil, fmt.Errorf("%w: %s", state.ErrVenueDisabled, state.VenueDarkPool)
		}
		if err := ledger.ValidateCommitment(a.AmountInCommitment); err != nil {
			return nil, fmt.Errorf("amount_in: %w", err)
		}
		if err := ledger.ValidateCommitment(a.PriceCommitment); err != nil {
			return nil, fmt.Errorf("limit_price: %w", err)
		}
		side := state.OrderSideBuy
		if a.Side == 1 {
			side = state.OrderSideSell
		}

		// Placing overwrites any previous order in the slot.
		c.store.PutOrder(&state.DarkPoolOrder{
			Maker:           a.UserID,
			Side:            side,
			EncryptedAmount: state.EncryptedAmount{Commitment: a.AmountInCommitment},
			PriceCommitment: state.EncryptedAmount{Commitment: a.PriceCommitment},
			Status:          state.OrderStatusOpen,
			CreatedAt:       now,
			UpdatedAt:       now,
		})

	case action.SwapCancelOrder:
		if !c.config.VenueEnabled(state.VenueDarkPool) {
			return nil, fmt.Errorf("%w: %s", state.ErrVenueDisabled, state.VenueDarkPool)
		}
		order, ok := c.store.Order(a.UserID)
		if !ok || !order.Status.Cancellable() {
			return nil, fmt.Errorf("%w: user=%s", state.ErrOrderNotCancellable, a.UserID)
		}
		order.Status = state.OrderStatusCancelled
		order.UpdatedAt = now
		// Return the resting amount to the principal slot
		pos.EncryptedPrincipal.Commitment = order.EncryptedAmount.Commitment

	case action.SwapMatchDarkPool:
		if !c.config.VenueEnabled(state.VenueDarkPool) {
			return nil, fmt.Errorf("%w: %s", state.ErrVenueDisabled, state.VenueDarkPool)
		}
		order, ok := c.store.Order(a.UserID)
		if !ok || !order.Status.Matchable() {
			return nil, fmt.Errorf("%w: no matchable order for user=%s", state.ErrInvalidParameter, a.UserID)
		}
		order.Status = state.OrderStatusFilled
		order.UpdatedAt = now
		pos.BalanceCommitment = order.PriceCommitment.Commitment

	default:
		return nil, fmt.Errorf("%w: unknown swap op %d", state.ErrInvalidParameter, a.Op)
	}

	pos.Touch(now)

	return &VenueSignal{
		Venue:      venue.String(),
		Operation:  a.Op.String(),
		User:       a.User(),
		Commitment: pos.BalanceCommitment,
	}, nil
}

func (c *VaultCore) handleBridge(a *action.Bridge) (*VenueSignal, error) {
	_, err := c.requireOperational()
	if err != nil {
		return nil, err
	}
	if !c.config.VenueEnabled(state.VenueBridgeRelay) {
		return nil, fmt.Errorf("%w: %s", state.ErrVenueDisabled, state.VenueBridgeRelay)
	}
	pos, err := c.store.RequirePosition(a.UserID)
	if err != nil {
		return nil, err
	}

	now := a.Timestamp.Unix()
	var destChainID uint64
	var signalCommitment ledger.Commitment

	switch a.Op {
	case action.BridgeInitiateOutbound:
		if err := ledger.ValidateProof(a.BridgeProof); err != nil {
			return nil, err
		}
		if err := c.verifier.Verify(ProofBridge, a.BridgeProof); err != nil {
			return nil, err
		}
		if err := ledger.ValidateCommitment(a.AmountCommitment); err != nil {
			return nil, err
		}
		chainID, err := state.ChainID(a.DestChainTag)
		if err != nil {
			return nil, err
		}
		if err := c.store.EnsureNoPendingBridge(a.UserID); err != nil {
			return nil, err
		}

		c.store.PutBridge(&state.BridgeRequest{
			User:             a.UserID,
			DestChainTag:     a.DestChainTag,
			DestChainID:      chainID,
			AmountCommitment: a.AmountCommitment,
			Status:           state.BridgeStatusPending,
			CreatedAt:        now,
		})
		pos.HasPendingBridge = true
		destChainID = chainID
		signalCommitment = a.AmountCommitment

	case action.BridgeVerifyCompletion:
		if err := ledger.ValidateProof(a.BridgeProof); err != nil {
			return nil, err
		}
		if err := c.verifier.Verify(ProofBridge, a.BridgeProof); err != nil {
			return nil, err
		}
		req, err := c.store.PendingBridge(a.UserID)
		if err != nil {
			return nil, err
		}
		if err := req.Resolve(state.BridgeStatusCompleted, now); err != nil {
			return nil, err
		}
		pos.HasPendingBridge = false
		destChainID = req.DestChainID
		signalCommitment = req.AmountCommitment

	case action.BridgeCancelRequest:
		req, err := c.store.PendingBridge(a.UserID)
		if err != nil {
			return nil, err
		}
		if err := req.Resolve(state.BridgeStatusCancelled, now); err != nil {
			return nil, err
		}
		pos.HasPendingBridge = false
		// Cancelled funds return to the balance slot
		pos.BalanceCommitment = req.AmountCommitment
		destChainID = req.DestChainID
		signalCommitment = req.AmountCommitment

	case action.BridgeClaimInbound:
		if err := ledger.ValidateProof(a.InboundProof); err != nil {
			return nil, err
		}
		if err := c.verifier.Verify(ProofInbound, a.InboundProof); err != nil {
			return nil, err
		}
		if err := ledger.ValidateCommitment(a.AmountCommitment); err != nil {
			return nil, err
		}

		pos.EncryptedPrincipal.Commitment = a.AmountCommitment
		pos.BalanceCommitment = a.AmountCommitment
		// An inbound claim settles the user's outbound request if one is
		// still in flight.
		if req, ok := c.store.Bridge(a.UserID); ok && req.Status == state.BridgeStatusPending {
			_ = req.Resolve(state.BridgeStatusCompleted, now)
			pos.HasPendingBridge = false
			destChainID = req.DestChainID
		}
		signalCommitment = a.AmountCommitment

	default:
		return nil, fmt.Errorf("%w: unknown bridge op %d", state.ErrInvalidParameter, a.Op)
	}

	pos.Touch(now)

	return &VenueSignal{
		Venue:       state.VenueBridgeRelay.String(),
		Operation:   a.Op.String(),
		User:        a.User(),
		Commitment:  signalCommitment,
		DestChainID: destChainID,
	}, nil
}

func (c *VaultCore) handleCompliance(a *action.Compliance) (*VenueSignal, error) {
	_, err := c.requireOperational()
	if err != nil {
		return nil, err
	}
	if !c.config.VenueEnabled(state.VenueComplianceOracle) {
		return nil, fmt.Errorf("%w: %s", state.ErrVenueDisabled, state.VenueComplianceOracle)
	}
	pos, err := c.store.RequirePosition(a.UserID)
	if err != nil {
		return nil, err
	}

	now := a.Timestamp.Unix()

	switch a.Op {
	case action.ComplianceSubmit:
		if err := ledger.ValidateProof(a.DisclosureProof); err != nil {
			return nil, err
		}
		if err := c.verifier.Verify(ProofDisclosure, a.DisclosureProof); err != nil {
			return nil, err
		}
		if a.AttestationHash == ([32]byte{}) {
			return nil, fmt.Errorf("%w: attestation hash is all-zero", state.ErrInvalidParameter)
		}
		if err := state.ValidateValidityDays(a.ValidityDays); err != nil {
			return nil, err
		}
		score := state.RiskScoreFromHash(a.AttestationHash)
		if score > state.MaxAcceptedRiskScore {
			return nil, fmt.Errorf("%w: score=%d max=%d",
				state.ErrRiskScoreTooHigh, score, state.MaxAcceptedRiskScore)
		}

		// Submit creates or refreshes; resubmission restarts the window.
		c.store.PutAttestation(&state.ComplianceAttestation{
			User:            a.UserID,
			AttestationHash: a.AttestationHash,
			RiskScore:       score,
			IsValid:         true,
			AttestedAt:      now,
			ExpiresAt:       now + state.ValiditySeconds(a.ValidityDays),
		})
		pos.ComplianceVerified = true

	case action.ComplianceVerify:
		att, ok := c.store.Attestation(a.UserID)
		if !ok || !att.IsValid {
			return nil, fmt.Errorf("%w: user=%s", state.ErrComplianceRequired, a.UserID)
		}
		if att.Expired(now) {
			return nil, fmt.Errorf("%w: expired_at=%d now=%d", state.ErrAttestationExpired, att.ExpiresAt, now)
		}
		pos.ComplianceVerified = true

	case action.ComplianceRevoke:
		att, ok := c.store.Attestation(a.UserID)
		if !ok {
			return nil, fmt.Errorf("%w: user=%s", state.ErrComplianceRequired, a.UserID)
		}
		att.IsValid = false
		pos.ComplianceVerified = false

	case action.ComplianceRenew:
		if err := state.ValidateValidityDays(a.ValidityDays); err != nil {
			return nil, err
		}
		att, ok := c.store.Attestation(a.UserID)
		if !ok || !att.IsValid {
			return nil, fmt.Errorf("%w: user=%s", state.ErrComplianceRequired, a.UserID)
		}
		if att.Expired(now) {
			// A lapsed attestation needs a fresh Submit, not a renewal
			return nil, fmt.Errorf("%w: expired_at=%d now=%d", state.ErrAttestationExpired, att.ExpiresAt, now)
		}
		att.ExpiresAt = now + state.ValiditySeconds(a.ValidityDays)

	default:
		return nil, fmt.Errorf("%w: unknown compliance op %d", state.ErrInvalidParameter, a.Op)
	}

	pos.Touch(now)

	return &VenueSignal{
		Venue:     state.VenueComplianceOracle.String(),
		Operation: a.Op.String(),
		User:      a.User(),
	}, nil
}

func (c *VaultCore) handleAdminControl(a *action.AdminControl) (*VenueSignal, error) {
	if c.config == nil {
		return nil, state.ErrNotInitialized
	}
	// Admin actions bypass the pause gate: pausing must not lock out the
	// unpause.
	if a.Admin != c.config.Admin {
		return nil, fmt.Errorf("%w: actor=%s", state.ErrUnauthorized, a.Admin)
	}

	cfg := c.config
	now := a.Timestamp.Unix()

	switch a.Op {
	case action.AdminUpdateFees:
		if a.Fees == nil {
			return nil, fmt.Errorf("%w: fee patch is required", state.ErrInvalidParameter)
		}
		if err := cfg.Apply(state.FeeUpdate{
			DepositFeeBps:    a.Fees.DepositFeeBps,
			WithdrawalFeeBps: a.Fees.WithdrawalFeeBps,
			LendingFeeBps:    a.Fees.LendingFeeBps,
			SwapFeeBps:       a.Fees.SwapFeeBps,
			BridgeFeeBps:     a.Fees.BridgeFeeBps,
		}); err != nil {
			return nil, err
		}

	case action.AdminUpdateYieldRate:
		if a.YieldBps == nil {
			return nil, fmt.Errorf("%w: yield_bps is required", state.ErrInvalidParameter)
		}
		if err := state.ValidateYieldBps(*a.YieldBps); err != nil {
			return nil, err
		}
		cfg.CurrentYieldBps = *a.YieldBps
		cfg.LastYieldUpdate = now

	case action.AdminPause:
		cfg.IsPaused = true // Idempotent

	case action.AdminUnpause:
		cfg.IsPaused = false

	case action.AdminSetEmergency:
		// Emergency implies paused; clearing it does NOT unpause.
		cfg.EmergencyMode = true
		cfg.IsPaused = true

	case action.AdminClearEmergency:
		cfg.EmergencyMode = false

	case action.AdminToggleVenues:
		if a.Venues == nil {
			return nil, fmt.Errorf("%w: venue patch is required", state.ErrInvalidParameter)
		}
		cfg.ApplyVenues(state.VenueToggle{
			EncryptedCompute: a.Venues.EncryptedCompute,
			PrivateTransfer:  a.Venues.PrivateTransfer,
			DarkPool:         a.Venues.DarkPool,
			LendingMarket:    a.Venues.LendingMarket,
			BridgeRelay:      a.Venues.BridgeRelay,
			SwapDesk:         a.Venues.SwapDesk,
			ComplianceOracle: a.Venues.ComplianceOracle,
		})

	case action.AdminDepositRewards:
		if a.RewardAmount <= 0 {
			return nil, fmt.Errorf("%w: reward amount %d", state.ErrInvalidParameter, a.RewardAmount)
		}
		cfg.CreditTvl(a.RewardAmount)

	case action.AdminSetComplianceRequired:
		if a.ComplianceRequired == nil {
			return nil, fmt.Errorf("%w: compliance_required is required", state.ErrInvalidParameter)
		}
		cfg.ComplianceRequired = *a.ComplianceRequired

	default:
		return nil, fmt.Errorf("%w: unknown admin op %d", state.ErrInvalidParameter, a.Op)
	}

	return nil, nil
}

// ============================================================================
// State digest
// ============================================================================

// computeStateDigest creates canonical bytes for the state hash: the vault
// counters plus the acted-on position, serialized deterministically.
func (c *VaultCore) computeStateDigest(act action.Action) []byte {
	digest := make([]byte, 0, 256)

	if c.config != nil {
		cfg := c.config
		digest = appendInt64LE(digest, cfg.TotalShieldedTvl)
		digest = appendInt64LE(digest, cfg.TotalPositions)
		digest = append(digest,
			byte(cfg.DepositFeeBps), byte(cfg.DepositFeeBps>>8),
			byte(cfg.WithdrawalFeeBps), byte(cfg.WithdrawalFeeBps>>8),
			byte(cfg.LendingFeeBps), byte(cfg.LendingFeeBps>>8),
			byte(cfg.SwapFeeBps), byte(cfg.SwapFeeBps>>8),
			byte(cfg.BridgeFeeBps), byte(cfg.BridgeFeeBps>>8),
			byte(cfg.CurrentYieldBps), byte(cfg.CurrentYieldBps>>8),
			boolByte(cfg.IsPaused),
			boolByte(cfg.EmergencyMode),
			boolByte(cfg.ComplianceRequired),
		)
		for _, v := range []state.Venue{
			state.VenueEncryptedCompute, state.VenuePrivateTransfer,
			state.VenueDarkPool, state.VenueLendingMarket,
			state.VenueBridgeRelay, state.VenueSwapDesk,
			state.VenueComplianceOracle,
		} {
			digest = append(digest, boolByte(cfg.VenueEnabled(v)))
		}
	}

	if user := act.User(); user != nil {
		if pos, ok := c.store.Position(*user); ok {
			digest = append(digest, pos.Owner[:]...)
			digest = appendInt64LE(digest, pos.Version)
			digest = appendInt64LE(digest, int64(pos.DepositCount))
			digest = appendInt64LE(digest, int64(pos.WithdrawalCount))
			digest = appendInt64LE(digest, int64(pos.ActionCount))
			digest = append(digest,
				boolByte(pos.HasActiveLoan),
				boolByte(pos.HasPendingBridge),
				boolByte(pos.ComplianceVerified),
			)
			digest = append(digest, pos.EncryptedPrincipal.Commitment[:]...)
			digest = append(digest, pos.EncryptedYield.Commitment[:]...)
			digest = append(digest, pos.BalanceCommitment[:]...)
			digest = append(digest, pos.LastNullifier[:]...)
		}
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (c *VaultCore) statsSnapshot() *VaultStats {
	if c.config == nil {
		return &VaultStats{}
	}
	return &VaultStats{
		TotalShieldedTvl: c.config.TotalShieldedTvl,
		TotalPositions:   c.config.TotalPositions,
		CurrentYieldBps:  c.config.CurrentYieldBps,
		IsPaused:         c.config.IsPaused,
		EmergencyMode:    c.config.EmergencyMode,
	}
}

// rejectReason maps dispatch errors to a bounded metrics label set.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, state.ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, state.ErrVaultPaused):
		return "paused"
	case errors.Is(err, state.ErrVenueDisabled):
		return "venue_disabled"
	case errors.Is(err, state.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ledger.ErrNullifierReused):
		return "nullifier_reused"
	case errors.Is(err, ErrProofRejected):
		return "proof_rejected"
	case errors.Is(err, state.ErrComplianceRequired):
		return "compliance_required"
	case errors.Is(err, state.ErrAttestationExpired):
		return "attestation_expired"
	case errors.Is(err, state.ErrRiskScoreTooHigh):
		return "risk_score"
	case errors.Is(err, state.ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, state.ErrLoanAlreadyActive), errors.Is(err, state.ErrNoActiveLoan):
		return "loan_state"
	case errors.Is(err, state.ErrBridgePending), errors.Is(err, state.ErrNoBridgePending),
		errors.Is(err, state.ErrInvalidBridgeState):
		return "bridge_state"
	case errors.Is(err, state.ErrOrderNotCancellable):
		return "order_state"
	default:
		return "invalid_parameter"
	}
}

// ============================================================================
// Accessors and recovery
// ============================================================================

// GetSequence returns the current global sequence number. Core-goroutine
// only; other goroutines read ProcessedSequence.
func (c *VaultCore) GetSequence() int64 {
	return c.sequence
}

// ProcessedSequence returns the sequence the core has advanced to. Safe
// to read from any goroutine.
func (c *VaultCore) ProcessedSequence() int64 {
	return c.processedSeq.Load()
}

// GetStateHash returns the current state hash (chain tip).
func (c *VaultCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Config returns the live vault aggregate (nil before Initialize). Callers
// outside the core goroutine must not retain it.
func (c *VaultCore) Config() *state.VaultConfig {
	return c.config
}

// Store exposes the entity store for same-goroutine readers.
func (c *VaultCore) Store() *state.PositionStore {
	return c.store
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *VaultCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// AttachColdTiers wires the Postgres-backed duplicate and nullifier
// checks. Must be called AFTER replay: during replay the action log
// itself is the input, so the cold tiers would report every replayed
// action as already processed.
func (c *VaultCore) AttachColdTiers(dbIdempotency DBIdempotencyChecker, dbNullifiers ledger.DBNullifierChecker) {
	c.idempotency.dbChecker = dbIdempotency
	c.nullifiers.AttachDB(dbNullifiers)
}

// SequencePartitions exports the per-partition next source sequences.
// Called once at startup, after replay and before the core loop starts,
// to seed the shell's allocator for injected actions.
func (c *VaultCore) SequencePartitions() map[string]int64 {
	return c.sequenceValidator.GetAllPartitions()
}
