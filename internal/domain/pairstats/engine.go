package pairstats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/ratorade/internal/adapters/repository"
	"github.com/okian/ratorade/internal/domain/model"
	"github.com/okian/ratorade/pkg/logger"
	"github.com/okian/ratorade/pkg/metrics"
)

// Engine records pair observations and derives pair models. It keeps no
// state between calls: every operation reads and writes the store.
type Engine struct {
	store         repository.Store
	statsColl     string
	modelsColl    string
	defaults      model.Attrs
	deriveWorkers int
	now           func() time.Time
	logger        logger.Logger
}

// New creates an Engine backed by store.
func New(store repository.Store, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		statsColl:     DefaultStatsCollection,
		modelsColl:    DefaultModelsCollection,
		defaults:      model.Attrs{ID: "item", Rating: "rating"},
		deriveWorkers: defaultDeriveWorkers,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("pairstats")
	}
	return e
}

// StatsCollection returns the collection holding pair statistics.
func (e *Engine) StatsCollection() string { return e.statsColl }

// ModelsCollection returns the collection holding pair models.
func (e *Engine) ModelsCollection() string { return e.modelsColl }

func (e *Engine) resolve(attrs model.Attrs) model.Attrs {
	if attrs.ID == "" {
		attrs.ID = e.defaults.ID
	}
	if attrs.Rating == "" {
		attrs.Rating = e.defaults.Rating
	}
	return attrs
}

func (e *Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

func requireID(r model.Record, attr, role string) (any, error) {
	v, ok := r.Value(attr)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s record", ErrMissingAttribute, attr, role)
	}
	if !model.Orderable(v) {
		return nil, fmt.Errorf("%w: %s on %s record is not an orderable id (%T)", ErrMissingAttribute, attr, role, v)
	}
	return v, nil
}

func requireRating(r model.Record, attr, role string) (float64, error) {
	if _, ok := r.Value(attr); !ok {
		return 0, fmt.Errorf("%w: %s on %s record", ErrMissingAttribute, attr, role)
	}
	v, ok := r.Number(attr)
	if !ok {
		return 0, fmt.Errorf("%w: %s on %s record is not numeric", ErrMissingAttribute, attr, role)
	}
	return v, nil
}

// RecordRating folds one joint rating of tnew and tref into the pair's
// statistics. With previous == nil the observation is new and n grows by
// one; otherwise it revises tnew's rating from previous and n is unchanged.
// A revision of tref's own rating is a separate call with roles swapped.
//
// Exactly one atomic upsert-increment is issued, so concurrent callers on
// the same pair never lose updates.
func (e *Engine) RecordRating(ctx context.Context, tnew, tref model.Record, attrs model.Attrs, previous model.Record) error {
	attrs = e.resolve(attrs)
	kind := "new"
	if previous != nil {
		kind = "revision"
	}

	deltas, key, err := e.observationDeltas(tnew, tref, attrs, previous)
	if err != nil {
		metrics.RecordObservationError("missing_attribute")
		return err
	}

	set := map[string]any{fieldUpdatedAt: e.stamp()}
	if err := e.store.UpsertIncrement(ctx, e.statsColl, statsKey(attrs, key), deltas, set); err != nil {
		metrics.RecordObservationError("store")
		return fmt.Errorf("record %s observation for %s: %w", kind, key, err)
	}
	metrics.RecordObservation(kind)
	return nil
}

// Record is RecordRating for a queued observation.
func (e *Engine) Record(ctx context.Context, obs *model.Observation) error {
	return e.RecordRating(ctx, obs.New, obs.Ref, obs.Attrs, obs.Previous)
}

// Validate reports the ErrMissingAttribute that recording obs would hit,
// without touching the store.
func (e *Engine) Validate(obs *model.Observation) error {
	_, _, err := e.observationDeltas(obs.New, obs.Ref, e.resolve(obs.Attrs), obs.Previous)
	return err
}

// observationDeltas validates the records and computes the field deltas.
func (e *Engine) observationDeltas(tnew, tref model.Record, attrs model.Attrs, previous model.Record) (map[string]float64, PairKey, error) {
	newID, err := requireID(tnew, attrs.ID, "new")
	if err != nil {
		return nil, PairKey{}, err
	}
	refID, err := requireID(tref, attrs.ID, "ref")
	if err != nil {
		return nil, PairKey{}, err
	}
	rNew, err := requireRating(tnew, attrs.Rating, "new")
	if err != nil {
		return nil, PairKey{}, err
	}
	rRef, err := requireRating(tref, attrs.Rating, "ref")
	if err != nil {
		return nil, PairKey{}, err
	}

	key, newIsLo := Canonical(newID, refID)
	sNew, sNewNew, sRef, sRefRef := fieldS0, fieldS00, fieldS1, fieldS11
	if !newIsLo {
		sNew, sNewNew, sRef, sRefRef = fieldS1, fieldS11, fieldS0, fieldS00
	}

	if previous != nil {
		rPrev, err := requireRating(previous, attrs.Rating, "previous")
		if err != nil {
			return nil, PairKey{}, err
		}
		diff := rNew - rPrev
		return map[string]float64{
			sNew:     diff,
			sNewNew:  rNew*rNew - rPrev*rPrev,
			fieldS01: diff * rRef,
		}, key, nil
	}

	return map[string]float64{
		fieldN:   1,
		sNew:     rNew,
		sRef:     rRef,
		sNewNew:  rNew * rNew,
		sRefRef:  rRef * rRef,
		fieldS01: rNew * rRef,
	}, key, nil
}

// ReadStats loads the current statistics for a pair.
func (e *Engine) ReadStats(ctx context.Context, attrs model.Attrs, a, b any) (Stats, error) {
	attrs = e.resolve(attrs)
	key, _ := Canonical(a, b)
	doc, err := e.store.FindOne(ctx, e.statsColl, statsKey(attrs, key))
	if errors.Is(err, repository.ErrNotFound) {
		return Stats{}, fmt.Errorf("stats %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Stats{}, fmt.Errorf("read stats %s: %w", key, err)
	}
	return StatsFromDocument(doc)
}

// LookupModel loads the model predicting y's rating from x's rating.
func (e *Engine) LookupModel(ctx context.Context, attrs model.Attrs, x, y any) (Model, error) {
	attrs = e.resolve(attrs)
	doc, err := e.store.FindOne(ctx, e.modelsColl, modelKey(attrs, x, y))
	if errors.Is(err, repository.ErrNotFound) {
		return Model{}, fmt.Errorf("model %v -> %v: %w", x, y, ErrNotFound)
	}
	if err != nil {
		return Model{}, fmt.Errorf("read model %v -> %v: %w", x, y, err)
	}
	return ModelFromDocument(doc)
}

// Predict estimates y's rating from a rating of x using the stored model.
func (e *Engine) Predict(ctx context.Context, attrs model.Attrs, x, y any, xRating float64) (float64, Model, error) {
	m, err := e.LookupModel(ctx, attrs, x, y)
	if err != nil {
		return 0, Model{}, err
	}
	return m.Predict(xRating), m, nil
}
