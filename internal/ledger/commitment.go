package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// BlobLen is the wire length of commitments, proofs and nullifiers.
const BlobLen = 32

var (
	ErrMalformedCommitment = errors.New("malformed commitment")
	ErrMalformedProof      = errors.New("malformed proof")
	ErrMalformedNullifier  = errors.New("malformed nullifier")
)

// Commitment is an opaque 32-byte cryptographic commitment to a hidden
// amount. The vault never interprets its contents; it only checks
// well-formedness and moves it between slots.
type Commitment [BlobLen]byte

// Proof is an opaque 32-byte proof blob, verified out-of-band.
type Proof [BlobLen]byte

// Nullifier is a single-use 32-byte withdrawal tag.
type Nullifier [BlobLen]byte

func (c Commitment) IsZero() bool { return c == Commitment{} }
func (p Proof) IsZero() bool      { return p == Proof{} }
func (n Nullifier) IsZero() bool  { return n == Nullifier{} }

// Hex returns the full lowercase hex encoding.
func (c Commitment) Hex() string { return hex.EncodeToString(c[:]) }
func (p Proof) Hex() string      { return hex.EncodeToString(p[:]) }
func (n Nullifier) Hex() string  { return hex.EncodeToString(n[:]) }

// Short returns an 8-byte hex prefix for log lines.
func (c Commitment) Short() string { return hex.EncodeToString(c[:8]) }
func (n Nullifier) Short() string  { return hex.EncodeToString(n[:8]) }

// ParseCommitment validates length and rejects the all-zero blob.
func ParseCommitment(b []byte) (Commitment, error) {
	var c Commitment
	if len(b) != BlobLen {
		return c, fmt.Errorf("%w: length %d, want %d", ErrMalformedCommitment, len(b), BlobLen)
	}
	copy(c[:], b)
	if c.IsZero() {
		return c, fmt.Errorf("%w: all-zero", ErrMalformedCommitment)
	}
	return c, nil
}

// ParseProof validates length and rejects the all-zero blob.
func ParseProof(b []byte) (Proof, error) {
	var p Proof
	if len(b) != BlobLen {
		return p, fmt.Errorf("%w: length %d, want %d", ErrMalformedProof, len(b), BlobLen)
	}
	copy(p[:], b)
	if p.IsZero() {
		return p, fmt.Errorf("%w: all-zero", ErrMalformedProof)
	}
	return p, nil
}

// ParseNullifier validates length and rejects the all-zero blob.
func ParseNullifier(b []byte) (Nullifier, error) {
	var n Nullifier
	if len(b) != BlobLen {
		return n, fmt.Errorf("%w: length %d, want %d", ErrMalformedNullifier, len(b), BlobLen)
	}
	copy(n[:], b)
	if n.IsZero() {
		return n, fmt.Errorf("%w: all-zero", ErrMalformedNullifier)
	}
	return n, nil
}

// ValidateCommitment rejects degenerate commitments already held as the
// fixed-width type.
func ValidateCommitment(c Commitment) error {
	if c.IsZero() {
		return fmt.Errorf("%w: all-zero", ErrMalformedCommitment)
	}
	return nil
}

// ValidateProof rejects degenerate proofs.
func ValidateProof(p Proof) error {
	if p.IsZero() {
		return fmt.Errorf("%w: all-zero", ErrMalformedProof)
	}
	return nil
}
