package core

import (
	"errors"
	"fmt"

	"ShieldVault/internal/ledger"
)

// ErrProofRejected is returned when the external verifier refuses a proof.
var ErrProofRejected = errors.New("proof rejected")

// ProofKind tells the verifier which statement a proof claims.
type ProofKind int32

const (
	ProofWithdrawal ProofKind = iota
	ProofOwnership
	ProofSwap
	ProofBridge
	ProofInbound
	ProofDisclosure
	ProofLiquidation
)

func (pk ProofKind) String() string {
	switch pk {
	case ProofWithdrawal:
		return "withdrawal"
	case ProofOwnership:
		return "ownership"
	case ProofSwap:
		return "swap"
	case ProofBridge:
		return "bridge"
	case ProofInbound:
		return "inbound"
	case ProofDisclosure:
		return "disclosure"
	case ProofLiquidation:
		return "liquidation"
	default:
		return "unknown"
	}
}

// Verifier asserts proof validity. The vault treats proofs as opaque and
// delegates the cryptographic check; implementations wrap whatever proving
// system the deployment runs.
type Verifier interface {
	Verify(kind ProofKind, proof ledger.Proof) error
}

// PermissiveVerifier accepts every well-formed (non-zero) proof. Used in
// tests and deployments where verification happens upstream of ingestion.
type PermissiveVerifier struct{}

func (PermissiveVerifier) Verify(kind ProofKind, proof ledger.Proof) error {
	if proof.IsZero() {
		return fmt.Errorf("%w: %s proof is all-zero", ErrProofRejected, kind)
	}
	return nil
}
