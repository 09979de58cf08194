package pairstats

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/ratorade/internal/adapters/repository"
	"github.com/okian/ratorade/internal/domain/model"
	"github.com/okian/ratorade/pkg/logger"
	"github.com/okian/ratorade/pkg/metrics"
)

// SkipReason tags a derivation that wrote no model rows.
type SkipReason string

// Skip reasons. A skipped pair has neither directional model written.
const (
	SkipNone              SkipReason = ""
	SkipInsufficientCount SkipReason = "insufficient_count"
	SkipLowRSquared       SkipReason = "low_r_squared"
	SkipSlopeBound        SkipReason = "slope_bound"
	SkipInterceptBound    SkipReason = "intercept_bound"
)

// Derivation is the outcome of deriving one pair.
type Derivation struct {
	Key    PairKey
	N      float64
	Fit    Fit
	Reason SkipReason
}

// Skipped reports whether the thresholds suppressed the models.
func (d Derivation) Skipped() bool { return d.Reason != SkipNone }

// Summary aggregates a DeriveAll pass.
type Summary struct {
	Pairs   int                `json:"pairs"`
	Written int                `json:"written"`
	Skipped map[SkipReason]int `json:"skipped"`
}

// check applies the thresholds in order: count, r², slopes, intercepts.
func (t thresholds) check(n float64, f Fit) SkipReason {
	switch {
	case n < t.minCount:
		return SkipInsufficientCount
	case f.RSquared < t.minRSquared:
		return SkipLowRSquared
	case t.hasSlopeCap && (math.Abs(f.A0) > t.maxAbsSlope || math.Abs(f.A1) > t.maxAbsSlope):
		return SkipSlopeBound
	case t.hasInterceptCap && (math.Abs(f.B0) > t.maxAbsIntercept || math.Abs(f.B1) > t.maxAbsIntercept):
		return SkipInterceptBound
	}
	return SkipNone
}

// DeriveModel fits stats and writes both directional models, unless a
// threshold rejects the pair. Rejections are returned as a tagged
// Derivation, never as an error. stats should be read fresh just before
// the call; it is not re-read here.
func (e *Engine) DeriveModel(ctx context.Context, stats Stats, opts ...DeriveOption) (Derivation, error) {
	t := newThresholds(opts)
	d := Derivation{Key: stats.Key, N: stats.N}

	if stats.N < t.minCount {
		d.Reason = SkipInsufficientCount
		metrics.RecordDerivation(string(d.Reason))
		return d, nil
	}
	d.Fit = FitStats(stats)
	if d.Reason = t.check(stats.N, d.Fit); d.Skipped() {
		metrics.RecordDerivation(string(d.Reason))
		e.logger.Debug(ctx, "pair model skipped",
			logger.String("pair", stats.Key.String()),
			logger.String("reason", string(d.Reason)),
		)
		return d, nil
	}

	attrs := e.resolve(stats.Attrs)
	stamp := e.stamp()
	forward := map[string]any{
		fieldN: stats.N, fieldRR: d.Fit.RSquared, fieldA: d.Fit.A0, fieldB: d.Fit.B0, fieldUpdatedAt: stamp,
	}
	backward := map[string]any{
		fieldN: stats.N, fieldRR: d.Fit.RSquared, fieldA: d.Fit.A1, fieldB: d.Fit.B1, fieldUpdatedAt: stamp,
	}
	if err := e.store.Set(ctx, e.modelsColl, modelKey(attrs, stats.Key.Lo, stats.Key.Hi), forward); err != nil {
		return d, fmt.Errorf("write model %s: %w", stats.Key, err)
	}
	if err := e.store.Set(ctx, e.modelsColl, modelKey(attrs, stats.Key.Hi, stats.Key.Lo), backward); err != nil {
		return d, fmt.Errorf("write model %s: %w", stats.Key, err)
	}
	metrics.RecordDerivation("written")
	return d, nil
}

// DerivePair reads the current statistics of a pair and derives it.
func (e *Engine) DerivePair(ctx context.Context, attrs model.Attrs, a, b any, opts ...DeriveOption) (Derivation, error) {
	stats, err := e.ReadStats(ctx, attrs, a, b)
	if err != nil {
		return Derivation{}, err
	}
	return e.DeriveModel(ctx, stats, opts...)
}

// DeriveAll derives every pair in the statistics collection. Pairs are
// derived concurrently; each sees the statistics as of its scan.
func (e *Engine) DeriveAll(ctx context.Context, opts ...DeriveOption) (Summary, error) {
	start := time.Now()
	defer func() {
		metrics.RecordDeriveDuration(float64(time.Since(start).Milliseconds()))
	}()

	var (
		mu  sync.Mutex
		sum = Summary{Skipped: make(map[SkipReason]int)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.deriveWorkers)

	scanErr := e.store.Scan(gctx, e.statsColl, nil, nil, func(doc repository.Document) error {
		stats, err := StatsFromDocument(doc)
		if err != nil {
			e.logger.Warn(gctx, "skipping malformed stats row", logger.Error(err))
			return nil
		}
		g.Go(func() error {
			d, err := e.DeriveModel(gctx, stats, opts...)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			sum.Pairs++
			if d.Skipped() {
				sum.Skipped[d.Reason]++
			} else {
				sum.Written++
			}
			return nil
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return sum, err
	}
	if scanErr != nil {
		return sum, fmt.Errorf("scan %s: %w", e.statsColl, scanErr)
	}

	e.logger.Info(ctx, "pair models derived",
		logger.Int("pairs", sum.Pairs),
		logger.Int("written", sum.Written),
		logger.Int64("durationMs", time.Since(start).Milliseconds()),
	)
	return sum, nil
}
