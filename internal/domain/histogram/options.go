package histogram

import (
	"math/rand"
	"time"

	"github.com/okian/ratorade/pkg/logger"
)

// Default aggregator configuration constants.
const (
	DefaultSortKey    = "freq"
	DefaultCProbField = "cprob"
)

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithSampleKeys names the two uniform random fields used for sampling.
func WithSampleKeys(rk0, rk1 string) Option {
	return func(a *Aggregator) {
		if rk0 != "" {
			a.rk0 = rk0
		}
		if rk1 != "" {
			a.rk1 = rk1
		}
	}
}

// WithSamplePad inflates the sampling windows to offset their overlap.
func WithSamplePad(pad float64) Option {
	return func(a *Aggregator) {
		if pad >= 0 {
			a.pad = pad
		}
	}
}

// WithSamplingMode selects independent or shared windows for the bound
// discovery and bucketing scans.
func WithSamplingMode(mode SamplingMode) Option {
	return func(a *Aggregator) {
		if mode != "" {
			a.mode = mode
		}
	}
}

// WithSeed seeds window placement. Zero seeds from the clock.
func WithSeed(seed int64) Option {
	return func(a *Aggregator) {
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		a.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // sampling, not security
	}
}

// WithLogger sets a custom logger for the aggregator.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}
