package pairstats

import (
	"time"

	"github.com/okian/ratorade/internal/domain/model"
	"github.com/okian/ratorade/pkg/logger"
)

// Default engine configuration constants.
const (
	DefaultStatsCollection  = "pair_stats"
	DefaultModelsCollection = "pair_models"
	defaultDeriveWorkers    = 8
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithCollections sets the statistics and model collection names.
func WithCollections(stats, models string) Option {
	return func(e *Engine) {
		if stats != "" {
			e.statsColl = stats
		}
		if models != "" {
			e.modelsColl = models
		}
	}
}

// WithDefaultAttrs sets the rating space used when a call leaves attrs empty.
func WithDefaultAttrs(attrs model.Attrs) Option {
	return func(e *Engine) {
		if attrs.ID != "" {
			e.defaults.ID = attrs.ID
		}
		if attrs.Rating != "" {
			e.defaults.Rating = attrs.Rating
		}
	}
}

// WithDeriveConcurrency bounds how many pairs DeriveAll derives at once.
func WithDeriveConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.deriveWorkers = n
		}
	}
}

// WithClock overrides the time source for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// thresholds gate which derived models get written.
type thresholds struct {
	minCount        float64
	minRSquared     float64
	maxAbsSlope     float64
	maxAbsIntercept float64
	hasSlopeCap     bool
	hasInterceptCap bool
}

// DeriveOption applies a threshold to a derivation.
type DeriveOption func(*thresholds)

// WithMinCount skips pairs observed fewer than n times.
func WithMinCount(n int) DeriveOption {
	return func(t *thresholds) { t.minCount = float64(n) }
}

// WithMinRSquared skips pairs whose r² is below r2.
func WithMinRSquared(r2 float64) DeriveOption {
	return func(t *thresholds) { t.minRSquared = r2 }
}

// WithMaxAbsSlope skips pairs where either slope exceeds v in magnitude.
func WithMaxAbsSlope(v float64) DeriveOption {
	return func(t *thresholds) {
		t.maxAbsSlope = v
		t.hasSlopeCap = true
	}
}

// WithMaxAbsIntercept skips pairs where either intercept exceeds v in magnitude.
func WithMaxAbsIntercept(v float64) DeriveOption {
	return func(t *thresholds) {
		t.maxAbsIntercept = v
		t.hasInterceptCap = true
	}
}

func newThresholds(opts []DeriveOption) thresholds {
	var t thresholds
	for _, opt := range opts {
		opt(&t)
	}
	return t
}
