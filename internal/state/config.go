package state

import (
	"fmt"

	"github.com/google/uuid"

	"ShieldVault/internal/vaultmath"
)

// Venue identifies an external privacy venue the vault signals to.
type Venue int32

const (
	VenueEncryptedCompute Venue = iota
	VenuePrivateTransfer
	VenueDarkPool
	VenueLendingMarket
	VenueBridgeRelay
	VenueSwapDesk
	VenueComplianceOracle
)

func (v Venue) String() string {
	switch v {
	case VenueEncryptedCompute:
		return "encrypted_compute"
	case VenuePrivateTransfer:
		return "private_transfer"
	case VenueDarkPool:
		return "dark_pool"
	case VenueLendingMarket:
		return "lending_market"
	case VenueBridgeRelay:
		return "bridge_relay"
	case VenueSwapDesk:
		return "swap_desk"
	case VenueComplianceOracle:
		return "compliance_oracle"
	default:
		return "unknown"
	}
}

// VaultConfig is the single vault aggregate: fee schedule, yield rate,
// venue switches, operational flags, and the public TVL/position counters.
// Only the core goroutine touches it.
type VaultConfig struct {
	Admin    uuid.UUID
	Treasury uuid.UUID

	ShieldedAsset  string
	SecondaryAsset string

	DepositFeeBps    uint16
	WithdrawalFeeBps uint16
	LendingFeeBps    uint16
	SwapFeeBps       uint16
	BridgeFeeBps     uint16
	CurrentYieldBps  uint16

	TotalShieldedTvl int64
	TotalPositions   int64

	IsPaused           bool
	EmergencyMode      bool
	ComplianceRequired bool

	EncryptedComputeEnabled bool
	PrivateTransferEnabled  bool
	DarkPoolEnabled         bool
	LendingMarketEnabled    bool
	BridgeRelayEnabled      bool
	SwapDeskEnabled         bool
	ComplianceOracleEnabled bool

	CreatedAt       int64 // Unix seconds, from the action timestamp
	LastYieldUpdate int64
}

// Clone returns a copy safe to hand across goroutine boundaries.
func (c *VaultConfig) Clone() *VaultConfig {
	cp := *c
	return &cp
}

// IsOperational reports whether user actions may proceed.
func (c *VaultConfig) IsOperational() bool {
	return !c.IsPaused && !c.EmergencyMode
}

// VenueEnabled reports the switch for a venue.
func (c *VaultConfig) VenueEnabled(v Venue) bool {
	switch v {
	case VenueEncryptedCompute:
		return c.EncryptedComputeEnabled
	case VenuePrivateTransfer:
		return c.PrivateTransferEnabled
	case VenueDarkPool:
		return c.DarkPoolEnabled
	case VenueLendingMarket:
		return c.LendingMarketEnabled
	case VenueBridgeRelay:
		return c.BridgeRelayEnabled
	case VenueSwapDesk:
		return c.SwapDeskEnabled
	case VenueComplianceOracle:
		return c.ComplianceOracleEnabled
	default:
		return false
	}
}

// ValidateBps rejects any fee or rate above 100%.
func ValidateBps(name string, bps uint16) error {
	if bps > vaultmath.MaxBasisPoints {
		return fmt.Errorf("%w: %s %d exceeds %d bps", ErrInvalidParameter, name, bps, vaultmath.MaxBasisPoints)
	}
	return nil
}

// ValidateYieldBps enforces the 50% yield cap.
func ValidateYieldBps(bps uint16) error {
	if bps > vaultmath.MaxYieldBasisPoints {
		return fmt.Errorf("%w: yield %d exceeds %d bps", ErrInvalidParameter, bps, vaultmath.MaxYieldBasisPoints)
	}
	return nil
}

// FeeUpdate is a partial fee-schedule patch: nil fields are left untouched,
// each non-nil field is validated and applied independently.
type FeeUpdate struct {
	DepositFeeBps    *uint16
	WithdrawalFeeBps *uint16
	LendingFeeBps    *uint16
	SwapFeeBps       *uint16
	BridgeFeeBps     *uint16
}

// Apply validates every provided field before mutating any of them, so a
// rejected patch leaves the schedule unchanged.
func (c *VaultConfig) Apply(update FeeUpdate) error {
	fields := []struct {
		name  string
		value *uint16
	}{
		{"deposit_fee_bps", update.DepositFeeBps},
		{"withdrawal_fee_bps", update.WithdrawalFeeBps},
		{"lending_fee_bps", update.LendingFeeBps},
		{"swap_fee_bps", update.SwapFeeBps},
		{"bridge_fee_bps", update.BridgeFeeBps},
	}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		if err := ValidateBps(f.name, *f.value); err != nil {
			return err
		}
	}

	if update.DepositFeeBps != nil {
		c.DepositFeeBps = *update.DepositFeeBps
	}
	if update.WithdrawalFeeBps != nil {
		c.WithdrawalFeeBps = *update.WithdrawalFeeBps
	}
	if update.LendingFeeBps != nil {
		c.LendingFeeBps = *update.LendingFeeBps
	}
	if update.SwapFeeBps != nil {
		c.SwapFeeBps = *update.SwapFeeBps
	}
	if update.BridgeFeeBps != nil {
		c.BridgeFeeBps = *update.BridgeFeeBps
	}
	return nil
}

// VenueToggle is a partial venue-switch patch: nil fields keep their value.
type VenueToggle struct {
	EncryptedCompute *bool
	PrivateTransfer  *bool
	DarkPool         *bool
	LendingMarket    *bool
	BridgeRelay      *bool
	SwapDesk         *bool
	ComplianceOracle *bool
}

// ApplyVenues flips only the provided switches.
func (c *VaultConfig) ApplyVenues(toggle VenueToggle) {
	if toggle.EncryptedCompute != nil {
		c.EncryptedComputeEnabled = *toggle.EncryptedCompute
	}
	if toggle.PrivateTransfer != nil {
		c.PrivateTransferEnabled = *toggle.PrivateTransfer
	}
	if toggle.DarkPool != nil {
		c.DarkPoolEnabled = *toggle.DarkPool
	}
	if toggle.LendingMarket != nil {
		c.LendingMarketEnabled = *toggle.LendingMarket
	}
	if toggle.BridgeRelay != nil {
		c.BridgeRelayEnabled = *toggle.BridgeRelay
	}
	if toggle.SwapDesk != nil {
		c.SwapDeskEnabled = *toggle.SwapDesk
	}
	if toggle.ComplianceOracle != nil {
		c.ComplianceOracleEnabled = *toggle.ComplianceOracle
	}
}

// CreditTvl adds net deposit flow to the public TVL counter.
func (c *VaultConfig) CreditTvl(amount int64) {
	c.TotalShieldedTvl += amount
}

// DebitTvl subtracts outflow, saturating at zero. TVL is advisory (fees
// make it drift from the commitment sum), so saturation beats underflow.
func (c *VaultConfig) DebitTvl(amount int64) {
	if amount >= c.TotalShieldedTvl {
		c.TotalShieldedTvl = 0
		return
	}
	c.TotalShieldedTvl -= amount
}
