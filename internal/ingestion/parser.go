package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ShieldVault/internal/action"
	"ShieldVault/internal/ledger"
)

// ParseRawAction converts a RawAction (JSON bytes + action type string) into
// a typed action.Action. The ingestion shell validates, parses and converts
// raw messages before anything reaches the deterministic core.
func ParseRawAction(raw RawAction, actionType string) (action.Action, error) {
	switch actionType {
	case "Initialize":
		return parseInitialize(raw.Data)
	case "Deposit":
		return parseDeposit(raw.Data)
	case "Withdraw":
		return parseWithdraw(raw.Data)
	case "Lend":
		return parseLend(raw.Data)
	case "Swap":
		return parseSwap(raw.Data)
	case "Bridge":
		return parseBridge(raw.Data)
	case "Compliance":
		return parseCompliance(raw.Data)
	case "AdminControl":
		return parseAdminControl(raw.Data)
	default:
		return nil, fmt.Errorf("unknown action type: %s", actionType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers; commitment, proof
// and nullifier blobs travel as lowercase hex.

func decodeBlob32(field, s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("decode %s: %w", field, err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("decode %s: length %d, want 32", field, len(b))
	}
	copy(out[:], b)
	return out, nil
}

func hexCommitment(field, s string) (ledger.Commitment, error) {
	b, err := decodeBlob32(field, s)
	if err != nil {
		return ledger.Commitment{}, err
	}
	c, err := ledger.ParseCommitment(b[:])
	if err != nil {
		return ledger.Commitment{}, fmt.Errorf("%s: %w", field, err)
	}
	return c, nil
}

// optionalCommitment maps the empty string to the zero commitment; per-op
// requirement checks stay in the core.
func optionalCommitment(field, s string) (ledger.Commitment, error) {
	if s == "" {
		return ledger.Commitment{}, nil
	}
	return hexCommitment(field, s)
}

func hexProof(field, s string) (ledger.Proof, error) {
	b, err := decodeBlob32(field, s)
	if err != nil {
		return ledger.Proof{}, err
	}
	p, err := ledger.ParseProof(b[:])
	if err != nil {
		return ledger.Proof{}, fmt.Errorf("%s: %w", field, err)
	}
	return p, nil
}

func optionalProof(field, s string) (ledger.Proof, error) {
	if s == "" {
		return ledger.Proof{}, nil
	}
	return hexProof(field, s)
}

func hexNullifier(field, s string) (ledger.Nullifier, error) {
	b, err := decodeBlob32(field, s)
	if err != nil {
		return ledger.Nullifier{}, err
	}
	n, err := ledger.ParseNullifier(b[:])
	if err != nil {
		return ledger.Nullifier{}, fmt.Errorf("%s: %w", field, err)
	}
	return n, nil
}

type initializeJSON struct {
	ActionID       string `json:"action_id"`
	AdminID        string `json:"admin_id"`
	TreasuryID     string `json:"treasury_id"`
	ShieldedAsset  string `json:"shielded_asset"`
	SecondaryAsset string `json:"secondary_asset"`

	DepositFeeBps    uint16 `json:"deposit_fee_bps"`
	WithdrawalFeeBps uint16 `json:"withdrawal_fee_bps"`
	LendingFeeBps    uint16 `json:"lending_fee_bps"`
	SwapFeeBps       uint16 `json:"swap_fee_bps"`
	BridgeFeeBps     uint16 `json:"bridge_fee_bps"`
	InitialYieldBps  uint16 `json:"initial_yield_bps"`

	ComplianceRequired bool `json:"compliance_required"`

	Sequence    int64 `json:"sequence"`
	TimestampUs int64 `json:"timestamp_us"`
}

func parseInitialize(data []byte) (*action.Initialize, error) {
	var j initializeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Initialize: %w", err)
	}
	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	adminID, err := uuid.Parse(j.AdminID)
	if err != nil {
		return nil, fmt.Errorf("parse admin_id: %w", err)
	}
	treasuryID, err := uuid.Parse(j.TreasuryID)
	if err != nil {
		return nil, fmt.Errorf("parse treasury_id: %w", err)
	}
	return &action.Initialize{
		ActionID:           actionID,
		Admin:              adminID,
		Treasury:           treasuryID,
		ShieldedAsset:      j.ShieldedAsset,
		SecondaryAsset:     j.SecondaryAsset,
		DepositFeeBps:      j.DepositFeeBps,
		WithdrawalFeeBps:   j.WithdrawalFeeBps,
		LendingFeeBps:      j.LendingFeeBps,
		SwapFeeBps:         j.SwapFeeBps,
		BridgeFeeBps:       j.BridgeFeeBps,
		InitialYieldBps:    j.InitialYieldBps,
		ComplianceRequired: j.ComplianceRequired,
		Sequence:           j.Sequence,
		Timestamp:          time.UnixMicro(j.TimestampUs),
	}, nil
}

type depositJSON struct {
	ActionID         string `json:"action_id"`
	UserID           string `json:"user_id"`
	Amount           int64  `json:"amount"`
	AmountCommitment string `json:"amount_commitment"`
	BlindingFactor   string `json:"blinding_factor,omitempty"`
	Sequence         int64  `json:"sequence"`
	TimestampUs      int64  `json:"timestamp_us"`
}

func parseDeposit(data []byte) (*action.Deposit, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Deposit: %w", err)
	}
	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	commitment, err := hexCommitment("amount_commitment", j.AmountCommitment)
	if err != nil {
		return nil, err
	}

	var blinding [32]byte
	if j.BlindingFactor != "" {
		blinding, err = decodeBlob32("blinding_factor", j.BlindingFactor)
		if err != nil {
			return nil, err
		}
	}

	return &action.Deposit{
		ActionID:         actionID,
		UserID:           userID,
		Amount:           j.Amount,
		AmountCommitment: commitment,
		BlindingFactor:   blinding,
		Sequence:         j.Sequence,
		Timestamp:        time.UnixMicro(j.TimestampUs),
	}, nil
}

type withdrawJSON struct {
	ActionID            string `json:"action_id"`
	UserID              string `json:"user_id"`
	WithdrawType        string `json:"withdraw_type"` // "partial", "full", "yield_only"
	ExpectedAmount      int64  `json:"expected_amount"`
	RemainderCommitment string `json:"remainder_commitment,omitempty"`
	Nullifier           string `json:"nullifier"`
	WithdrawalProof     string `json:"withdrawal_proof"`
	OwnershipProof      string `json:"ownership_proof"`
	Sequence            int64  `json:"sequence"`
	TimestampUs         int64  `json:"timestamp_us"`
}

func parseWithdraw(data []byte) (*action.Withdraw, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Withdraw: %w", err)
	}
	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}

	var wt action.WithdrawType
	switch j.WithdrawType {
	case "partial":
		wt = action.WithdrawPartial
	case "full":
		wt = action.WithdrawFull
	case "yield_only":
		wt = action.WithdrawYieldOnly
	default:
		return nil, fmt.Errorf("unknown withdraw_type: %q", j.WithdrawType)
	}

	remainder, err := optionalCommitment("remainder_commitment", j.RemainderCommitment)
	if err != nil {
		return nil, err
	}
	nullifier, err := hexNullifier("nullifier", j.Nullifier)
	if err != nil {
		return nil, err
	}
	withdrawalProof, err := hexProof("withdrawal_proof", j.WithdrawalProof)
	if err != nil {
		return nil, err
	}
	ownershipProof, err := hexProof("ownership_proof", j.OwnershipProof)
	if err != nil {
		return nil, err
	}

	return &action.Withdraw{
		ActionID:            actionID,
		UserID:              userID,
		Type:                wt,
		ExpectedAmount:      j.ExpectedAmount,
		RemainderCommitment: remainder,
		Nullifier:           nullifier,
		WithdrawalProof:     withdrawalProof,
		OwnershipProof:      ownershipProof,
		Sequence:            j.Sequence,
		Timestamp:           time.UnixMicro(j.TimestampUs),
	}, nil
}

type lendJSON struct {
	ActionID                string `json:"action_id"`
	UserID                  string `json:"user_id"`
	Op                      string `json:"op"` // "borrow", "repay", "liquidate", "add_collateral", "withdraw_collateral"
	CollateralCommitment    string `json:"collateral_commitment,omitempty"`
	BorrowCommitment        string `json:"borrow_commitment,omitempty"`
	RepaymentCommitment     string `json:"repayment_commitment,omitempty"`
	InterestRateBps         uint16 `json:"interest_rate_bps"`
	LiquidationThresholdBps uint16 `json:"liquidation_threshold_bps"`
	LiquidationProof        string `json:"liquidation_proof,omitempty"`
	Sequence                int64  `json:"sequence"`
	TimestampUs             int64  `json:"timestamp_us"`
}

func parseLend(data []byte) (*action.Lend, error) {
	var j lendJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Lend: %w", err)
	}
	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}

	var op action.LendOp
	switch j.Op {
	case "borrow":
		op = action.LendBorrow
	case "repay":
		op = action.LendRepay
	case "liquidate":
		op = action.LendLiquidate
	case "add_collateral":
		op = action.LendAddCollateral
	case "withdraw_collateral":
		op = action.LendWithdrawCollateral
	default:
		return nil, fmt.Errorf("unknown lend op: %q", j.Op)
	}

	collateral, err := optionalCommitment("collateral_commitment", j.CollateralCommitment)
	if err != nil {
		return nil, err
	}
	borrow, err := optionalCommitment("borrow_commitment", j.BorrowCommitment)
	if err != nil {
		return nil, err
	}
	repayment, err := optionalCommitment("repayment_commitment", j.RepaymentCommitment)
	if err != nil {
		return nil, err
	}
	liquidationProof, err := optionalProof("liquidation_proof", j.LiquidationProof)
	if err != nil {
		return nil, err
	}

	return &action.Lend{
		ActionID:                actionID,
		UserID:                  userID,
		Op:                      op,
		CollateralCommitment:    collateral,
		BorrowCommitment:        borrow,
		RepaymentCommitment:     repayment,
		InterestRateBps:         j.InterestRateBps,
		LiquidationThresholdBps: j.LiquidationThresholdBps,
		LiquidationProof:        liquidationProof,
		Sequence:                j.Sequence,
		Timestamp:               time.UnixMicro(j.TimestampUs),
	}, nil
}

type swapJSON struct {
	ActionID               string `json:"action_id"`
	UserID                 string `json:"user_id"`
	Op                     string `json:"op"`    // "execute", "place_limit_order", "cancel_order", "match_dark_pool"
	Route                  string `json:"route"` // "swap_desk", "dark_pool", "split"
	AmountInCommitment     string `json:"amount_in_commitment,omitempty"`
	MinAmountOutCommitment string `json:"min_amount_out_commitment,omitempty"`
	PriceCommitment        string `json:"price_commitment,omitempty"`
	Side                   string `json:"side,omitempty"` // "buy" or "sell"
	MaxSlippageBps         uint16 `json:"max_slippage_bps"`
	SplitWeightBps         uint16 `json:"split_weight_bps"`
	SwapProof              string `json:"swap_proof"`
	Sequence               int64  `json:"sequence"`
	TimestampUs            int64  `json:"timestamp_us"`
}

func parseSwap(data []byte) (*action.Swap, error) {
	var j swapJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Swap: %w", err)
	}
	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}

	var op action.SwapOp
	switch j.Op {
	case "execute":
		op = action.SwapExecute
	case "place_limit_order":
		op = action.SwapPlaceLimitOrder
	case "cancel_order":
		op = action.SwapCancelOrder
	case "match_dark_pool":
		op = action.SwapMatchDarkPool
	default:
		return nil, fmt.Errorf("unknown swap op: %q", j.Op)
	}

	var route action.SwapRoute
	switch j.Route {
	case "swap_desk", "":
		route = action.RouteSwapDesk
	case "dark_pool":
		route = action.RouteDarkPool
	case "split":
		route = action.RouteSplit
	default:
		return nil, fmt.Errorf("unknown swap route: %q", j.Route)
	}

	var side int32
	if j.Side == "sell" {
		side = 1
	}

	amountIn, err := optionalCommitment("amount_in_commitment", j.AmountInCommitment)
	if err != nil {
		return nil, err
	}
	minOut, err := optionalCommitment("min_amount_out_commitment", j.MinAmountOutCommitment)
	if err != nil {
		return nil, err
	}
	price, err := optionalCommitment("price_commitment", j.PriceCommitment)
	if err != nil {
		return nil, err
	}
	swapProof, err := hexProof("swap_proof", j.SwapProof)
	if err != nil {
		return nil, err
	}

	return &action.Swap{
		ActionID:               actionID,
		UserID:                 userID,
		Op:                     op,
		Route:                  route,
		AmountInCommitment:     amountIn,
		MinAmountOutCommitment: minOut,
		PriceCommitment:        price,
		Side:                   side,
		MaxSlippageBps:         j.MaxSlippageBps,
		SplitWeightBps:         j.SplitWeightBps,
		SwapProof:              swapProof,
		Sequence:               j.Sequence,
		Timestamp:              time.UnixMicro(j.TimestampUs),
	}, nil
}

type bridgeJSON struct {
	ActionID         string `json:"action_id"`
	UserID           string `json:"user_id"`
	Op               string `json:"op"` // "initiate_outbound", "verify_completion", "cancel_request", "claim_inbound"
	DestChain        string `json:"dest_chain,omitempty"`
	AmountCommitment string `json:"amount_commitment,omitempty"`
	BridgeProof      string `json:"bridge_proof,omitempty"`
	InboundProof     string `json:"inbound_proof,omitempty"`
	Sequence         int64  `json:"sequence"`
	TimestampUs      int64  `json:"timestamp_us"`
}

func parseBridge(data []byte) (*action.Bridge, error) {
	var j bridgeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Bridge: %w", err)
	}
	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}

	var op action.BridgeOp
	switch j.Op {
	case "initiate_outbound":
		op = action.BridgeInitiateOutbound
	case "verify_completion":
		op = action.BridgeVerifyCompletion
	case "cancel_request":
		op = action.BridgeCancelRequest
	case "claim_inbound":
		op = action.BridgeClaimInbound
	default:
		return nil, fmt.Errorf("unknown bridge op: %q", j.Op)
	}

	commitment, err := optionalCommitment("amount_commitment", j.AmountCommitment)
	if err != nil {
		return nil, err
	}
	bridgeProof, err := optionalProof("bridge_proof", j.BridgeProof)
	if err != nil {
		return nil, err
	}
	inboundProof, err := optionalProof("inbound_proof", j.InboundProof)
	if err != nil {
		return nil, err
	}

	return &action.Bridge{
		ActionID:         actionID,
		UserID:           userID,
		Op:               op,
		DestChainTag:     j.DestChain,
		AmountCommitment: commitment,
		BridgeProof:      bridgeProof,
		InboundProof:     inboundProof,
		Sequence:         j.Sequence,
		Timestamp:        time.UnixMicro(j.TimestampUs),
	}, nil
}

type complianceJSON struct {
	ActionID        string `json:"action_id"`
	UserID          string `json:"user_id"`
	Op              string `json:"op"` // "submit", "verify", "revoke", "renew"
	AttestationHash string `json:"attestation_hash,omitempty"`
	ValidityDays    uint16 `json:"validity_days"`
	DisclosureProof string `json:"disclosure_proof,omitempty"`
	Sequence        int64  `json:"sequence"`
	TimestampUs     int64  `json:"timestamp_us"`
}

func parseCompliance(data []byte) (*action.Compliance, error) {
	var j complianceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Compliance: %w", err)
	}
	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}

	var op action.ComplianceOp
	switch j.Op {
	case "submit":
		op = action.ComplianceSubmit
	case "verify":
		op = action.ComplianceVerify
	case "revoke":
		op = action.ComplianceRevoke
	case "renew":
		op = action.ComplianceRenew
	default:
		return nil, fmt.Errorf("unknown compliance op: %q", j.Op)
	}

	var hash [32]byte
	if j.AttestationHash != "" {
		hash, err = decodeBlob32("attestation_hash", j.AttestationHash)
		if err != nil {
			return nil, err
		}
	}
	disclosureProof, err := optionalProof("disclosure_proof", j.DisclosureProof)
	if err != nil {
		return nil, err
	}

	return &action.Compliance{
		ActionID:        actionID,
		UserID:          userID,
		Op:              op,
		AttestationHash: hash,
		ValidityDays:    j.ValidityDays,
		DisclosureProof: disclosureProof,
		Sequence:        j.Sequence,
		Timestamp:       time.UnixMicro(j.TimestampUs),
	}, nil
}

type feePatchJSON struct {
	DepositFeeBps    *uint16 `json:"deposit_fee_bps,omitempty"`
	WithdrawalFeeBps *uint16 `json:"withdrawal_fee_bps,omitempty"`
	LendingFeeBps    *uint16 `json:"lending_fee_bps,omitempty"`
	SwapFeeBps       *uint16 `json:"swap_fee_bps,omitempty"`
	BridgeFeeBps     *uint16 `json:"bridge_fee_bps,omitempty"`
}

type venuePatchJSON struct {
	EncryptedCompute *bool `json:"encrypted_compute,omitempty"`
	PrivateTransfer  *bool `json:"private_transfer,omitempty"`
	DarkPool         *bool `json:"dark_pool,omitempty"`
	LendingMarket    *bool `json:"lending_market,omitempty"`
	BridgeRelay      *bool `json:"bridge_relay,omitempty"`
	SwapDesk         *bool `json:"swap_desk,omitempty"`
	ComplianceOracle *bool `json:"compliance_oracle,omitempty"`
}

type adminControlJSON struct {
	ActionID string `json:"action_id"`
	AdminID  string `json:"admin_id"`
	Op       string `json:"op"`

	Fees               *feePatchJSON   `json:"fees,omitempty"`
	Venues             *venuePatchJSON `json:"venues,omitempty"`
	YieldBps           *uint16         `json:"yield_bps,omitempty"`
	ComplianceRequired *bool           `json:"compliance_required,omitempty"`
	RewardAmount       int64           `json:"reward_amount,omitempty"`

	Sequence    int64 `json:"sequence"`
	TimestampUs int64 `json:"timestamp_us"`
}

func parseAdminControl(data []byte) (*action.AdminControl, error) {
	var j adminControlJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse AdminControl: %w", err)
	}
	actionID, err := uuid.Parse(j.ActionID)
	if err != nil {
		return nil, fmt.Errorf("parse action_id: %w", err)
	}
	adminID, err := uuid.Parse(j.AdminID)
	if err != nil {
		return nil, fmt.Errorf("parse admin_id: %w", err)
	}

	var op action.AdminOp
	switch j.Op {
	case "update_fees":
		op = action.AdminUpdateFees
	case "update_yield_rate":
		op = action.AdminUpdateYieldRate
	case "pause":
		op = action.AdminPause
	case "unpause":
		op = action.AdminUnpause
	case "set_emergency":
		op = action.AdminSetEmergency
	case "clear_emergency":
		op = action.AdminClearEmergency
	case "toggle_venues":
		op = action.AdminToggleVenues
	case "deposit_rewards":
		op = action.AdminDepositRewards
	case "set_compliance_required":
		op = action.AdminSetComplianceRequired
	default:
		return nil, fmt.Errorf("unknown admin op: %q", j.Op)
	}

	a := &action.AdminControl{
		ActionID:           actionID,
		Admin:              adminID,
		Op:                 op,
		YieldBps:           j.YieldBps,
		ComplianceRequired: j.ComplianceRequired,
		RewardAmount:       j.RewardAmount,
		Sequence:           j.Sequence,
		Timestamp:          time.UnixMicro(j.TimestampUs),
	}
	if j.Fees != nil {
		a.Fees = &action.FeePatch{
			DepositFeeBps:    j.Fees.DepositFeeBps,
			WithdrawalFeeBps: j.Fees.WithdrawalFeeBps,
			LendingFeeBps:    j.Fees.LendingFeeBps,
			SwapFeeBps:       j.Fees.SwapFeeBps,
			BridgeFeeBps:     j.Fees.BridgeFeeBps,
		}
	}
	if j.Venues != nil {
		a.Venues = &action.VenuePatch{
			EncryptedCompute: j.Venues.EncryptedCompute,
			PrivateTransfer:  j.Venues.PrivateTransfer,
			DarkPool:         j.Venues.DarkPool,
			LendingMarket:    j.Venues.LendingMarket,
			BridgeRelay:      j.Venues.BridgeRelay,
			SwapDesk:         j.Venues.SwapDesk,
			ComplianceOracle: j.Venues.ComplianceOracle,
		}
	}
	return a, nil
}
