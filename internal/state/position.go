package state

import (
	"github.com/google/uuid"

	"ShieldVault/internal/ledger"
)

// EncryptedAmount pairs a decryption handle with the amount commitment.
// Both are opaque to the vault.
type EncryptedAmount struct {
	Handle     [ledger.BlobLen]byte
	Commitment ledger.Commitment
}

func (ea EncryptedAmount) IsZero() bool {
	return ea.Handle == [ledger.BlobLen]byte{} && ea.Commitment.IsZero()
}

// EncryptedPosition is a user's confidential holding in the vault. Amounts
// exist only as commitments; the plaintext never enters this process.
type EncryptedPosition struct {
	Owner uuid.UUID

	EncryptedPrincipal EncryptedAmount
	EncryptedYield     EncryptedAmount
	BalanceCommitment  ledger.Commitment

	// LastNullifier is the most recently consumed withdrawal tag, kept for
	// observability. The full consumed set lives in the NullifierLedger.
	LastNullifier ledger.Nullifier

	HasActiveLoan      bool
	HasPendingBridge   bool
	ComplianceVerified bool

	CreatedAt     int64
	LastDepositAt int64
	LastActionAt  int64

	DepositCount    uint32
	WithdrawalCount uint32
	ActionCount     uint32

	Version int64 // Bumped on every applied action
}

// IsEmpty reports whether both balance slots have been zeroed out.
func (p *EncryptedPosition) IsEmpty() bool {
	return p.EncryptedPrincipal.IsZero() && p.EncryptedYield.IsZero()
}

// Touch records an applied action on the position.
func (p *EncryptedPosition) Touch(now int64) {
	p.ActionCount++
	p.LastActionAt = now
	p.Version++
}

// Clone returns a copy safe to hand across goroutine boundaries.
func (p *EncryptedPosition) Clone() *EncryptedPosition {
	cp := *p
	return &cp
}
