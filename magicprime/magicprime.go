// Package magicprime derives the corpus-dependent prime that training
// samplers use to stride through the dataset without short-cycling.
package magicprime

import "errors"

var (
	// ErrInsufficientData means the corpus is smaller than three context
	// lengths, so no prime is derived. Callers treat it as a documented
	// non-result, not a failure.
	ErrInsufficientData = errors.New("insufficient data for magic prime")
	// ErrNoPrime means the downward scan exhausted every candidate. The
	// scan always passes through 2, so this guards a degenerate case
	// rather than anything reachable in practice.
	ErrNoPrime = errors.New("no prime found in scan range")
)

// IsPrime is a deterministic trial-division test, skipping multiples of 2
// and 3 and checking divisors of the form 6k±1 up to sqrt(n).
func IsPrime(n int64) bool {
	if n <= 1 {
		return false
	}
	if n <= 3 {
		return true
	}
	if n%2 == 0 || n%3 == 0 {
		return false
	}
	for i := int64(5); i*i <= n; i += 6 {
		if n%i == 0 || n%(i+2) == 0 {
			return false
		}
	}
	return true
}

// Search returns the largest prime congruent to 2 mod 3 that does not
// exceed totalTokens/ctxLen - 1. The congruence is part of the sampler's
// stride arithmetic, not an optimization, so candidates are scanned
// downward in steps of 3 from a start adjusted to 2 mod 3. The result is
// bit-for-bit reproducible from its two inputs.
func Search(totalTokens uint64, ctxLen int) (int64, error) {
	if ctxLen <= 0 || totalTokens < uint64(ctxLen)*3 {
		return 0, ErrInsufficientData
	}
	chunks := int64(totalTokens/uint64(ctxLen)) - 1
	start := chunks - ((chunks - 2) % 3)
	for candidate := start; candidate > 0; candidate -= 3 {
		if IsPrime(candidate) {
			return candidate, nil
		}
	}
	return 0, ErrNoPrime
}
