package ledger

import (
	"crypto/sha256"
	"encoding/binary"
)

// foldDomain separates yield-fold derivations from other hash uses.
const foldDomain = "ShieldVault:accrue:v1"

// FoldYield derives the accrued-balance commitment tag from a principal
// commitment and a scaled yield factor (bps). The real homomorphic update
// happens at the encrypted-compute venue; this tag lets read paths and
// venues agree on which accrual they are talking about without decrypting
// anything. Deterministic: same inputs, same tag.
func FoldYield(principal Commitment, factorBps uint64) Commitment {
	h := sha256.New()
	h.Write([]byte(foldDomain))
	h.Write(principal[:])

	var factor [8]byte
	binary.BigEndian.PutUint64(factor[:], factorBps)
	h.Write(factor[:])

	var out Commitment
	copy(out[:], h.Sum(nil))
	return out
}
