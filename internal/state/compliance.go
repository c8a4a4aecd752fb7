package state

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	// MaxValidityDays bounds attestation lifetimes.
	MaxValidityDays = 365

	// MaxAcceptedRiskScore is the highest risk score an attestation may
	// carry and still be accepted.
	MaxAcceptedRiskScore = 75

	secondsPerDay = 86_400
)

// ComplianceAttestation is a user's regulatory attestation. The vault
// stores only the attestation hash and a bounded risk score; the
// underlying disclosure stays with the compliance oracle.
type ComplianceAttestation struct {
	User            uuid.UUID
	AttestationHash [32]byte
	RiskScore       uint8 // 0..100
	IsValid         bool
	AttestedAt      int64
	ExpiresAt       int64
}

// Clone returns a copy safe to hand across goroutine boundaries.
func (ca *ComplianceAttestation) Clone() *ComplianceAttestation {
	cp := *ca
	return &cp
}

// Expired reports whether the attestation lapsed. Expiry is evaluated
// lazily against action timestamps; nothing flips IsValid in the
// background.
func (ca *ComplianceAttestation) Expired(now int64) bool {
	return now > ca.ExpiresAt
}

// Usable reports whether the attestation satisfies a compliance gate at
// the given time.
func (ca *ComplianceAttestation) Usable(now int64) bool {
	return ca.IsValid && !ca.Expired(now)
}

// RiskScoreFromHash derives the deterministic bounded risk score from an
// attestation hash. Result is always in 0..100.
func RiskScoreFromHash(hash [32]byte) uint8 {
	var sum uint32
	for _, b := range hash {
		sum += uint32(b)
	}
	return uint8(sum % 101)
}

// ValidateValidityDays bounds attestation lifetimes to (0, 365] days.
func ValidateValidityDays(days uint16) error {
	if days == 0 || days > MaxValidityDays {
		return fmt.Errorf("%w: validity_days %d outside (0, %d]", ErrInvalidParameter, days, MaxValidityDays)
	}
	return nil
}

// ValiditySeconds converts a validated day count to seconds.
func ValiditySeconds(days uint16) int64 {
	return int64(days) * secondsPerDay
}
