package vaultmath

import (
	"math/big"
	"sync"
)

const (
	// MaxBasisPoints is the denominator for all bps rates (100% = 10_000).
	MaxBasisPoints = 10_000

	// MaxYieldBasisPoints caps the vault yield rate at 50%.
	MaxYieldBasisPoints = 5_000

	// SecondsPerYear is the accrual denominator (365 days).
	SecondsPerYear = 31_536_000

	// MinActionAmount is the smallest accepted deposit/withdrawal in base units.
	MinActionAmount = 1_000_000
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator, truncating toward zero.
// All fee and yield math rounds down so the vault never over-credits.
func DivideInt128(numerator *big.Int, denominator int64) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	quotient.Quo(numerator, denom)

	result := quotient.Int64()

	putInt128(quotient)

	return result
}

// ApplyFee splits amount into (net, fee) for the given bps rate.
// fee = floor(amount * feeBps / 10_000); net = amount - fee.
// net + fee == amount always holds.
func ApplyFee(amount int64, feeBps uint16) (net int64, fee int64) {
	if amount <= 0 || feeBps == 0 {
		return amount, 0
	}

	raw := MultiplyInt128(amount, int64(feeBps))
	fee = DivideInt128(raw, MaxBasisPoints)
	putInt128(raw)

	return amount - fee, fee
}

// AccrueYield computes the yield accrued on principal over elapsedSeconds
// at yieldBps per year, truncated toward zero. Elapsed time is clamped to
// one year per accrual window.
func AccrueYield(principal int64, yieldBps uint16, elapsedSeconds int64) int64 {
	if principal <= 0 || yieldBps == 0 || elapsedSeconds <= 0 {
		return 0
	}
	if elapsedSeconds > SecondsPerYear {
		elapsedSeconds = SecondsPerYear
	}

	// principal * yieldBps * elapsed / (10_000 * secondsPerYear)
	raw := MultiplyInt128(principal, int64(yieldBps))
	raw.Mul(raw, big.NewInt(elapsedSeconds))

	denominator := MultiplyInt128(MaxBasisPoints, SecondsPerYear)
	quotient := getInt128()
	quotient.Quo(raw, denominator)

	result := quotient.Int64()

	putInt128(raw)
	putInt128(denominator)
	putInt128(quotient)

	return result
}

// YieldFactor returns the scaled accrual multiplier used for commitment
// folding in read-only accrue views: floor(yieldBps * elapsed / secondsPerYear),
// expressed in bps.
func YieldFactor(yieldBps uint16, elapsedSeconds int64) uint64 {
	if yieldBps == 0 || elapsedSeconds <= 0 {
		return 0
	}
	if elapsedSeconds > SecondsPerYear {
		elapsedSeconds = SecondsPerYear
	}

	raw := MultiplyInt128(int64(yieldBps), elapsedSeconds)
	factor := DivideInt128(raw, SecondsPerYear)
	putInt128(raw)

	return uint64(factor)
}
