package histogram

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/okian/ratorade/internal/adapters/repository"
)

// Default sampling key fields.
const (
	DefaultSampleKey0 = "rk0"
	DefaultSampleKey1 = "rk1"
)

// SamplingMode decides whether bound discovery and bucketing see the same
// random subset.
type SamplingMode string

const (
	// SamplingIndependent draws a fresh window for each scan.
	SamplingIndependent SamplingMode = "independent"
	// SamplingShared reuses one window for both scans.
	SamplingShared SamplingMode = "shared"
)

// ParseSamplingMode validates a mode name; empty means independent.
func ParseSamplingMode(s string) (SamplingMode, error) {
	switch SamplingMode(s) {
	case "", SamplingIndependent:
		return SamplingIndependent, nil
	case SamplingShared:
		return SamplingShared, nil
	}
	return "", fmt.Errorf("unknown sampling mode %q", s)
}

// SamplingWidth is the window width matching fraction p with two keys:
// a record misses both windows with probability (1-d)², so d = 1-√(1-p),
// inflated by pad and clamped to [0, 1].
func SamplingWidth(p, pad float64) float64 {
	p = math.Max(0, math.Min(1, p))
	d := (1 - math.Sqrt(1-p)) * (1 + pad)
	return math.Max(0, math.Min(1, d))
}

// SamplingPredicate matches a record when rk0 or rk1 falls into a randomly
// placed window, approximating inclusion with probability p. Both fields
// are expected to hold uniform values in [0, 1).
func SamplingPredicate(p float64, rk0, rk1 string, pad float64, rng *rand.Rand) repository.Predicate {
	d := SamplingWidth(p, pad)
	s0 := rng.Float64() * (1 - d)
	s1 := rng.Float64() * (1 - d)
	return repository.Or(
		repository.Range(rk0, s0, s0+d),
		repository.Range(rk1, s1, s1+d),
	)
}

// StampSampleKeys sets uniform random rk0 and rk1 fields on a record so
// it can take part in sampled builds.
func StampSampleKeys(rec map[string]any, rk0, rk1 string, rng *rand.Rand) {
	rec[rk0] = rng.Float64()
	rec[rk1] = rng.Float64()
}
