// Package service wires the store, the pair statistics engine, the histogram
// aggregator and the ingestion pipeline into the operations the HTTP API and
// the CLI expose.
package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	eventqueue "github.com/okian/ratorade/internal/adapters/mq/queue"
	workerpool "github.com/okian/ratorade/internal/adapters/mq/worker"
	"github.com/okian/ratorade/internal/adapters/repository"
	"github.com/okian/ratorade/internal/config"
	"github.com/okian/ratorade/internal/domain/dedupe"
	"github.com/okian/ratorade/internal/domain/histogram"
	"github.com/okian/ratorade/internal/domain/model"
	"github.com/okian/ratorade/internal/domain/pairstats"
	"github.com/okian/ratorade/pkg/logger"
	"github.com/okian/ratorade/pkg/metrics"
)

const maxImportLine = 1 << 20

// Service owns the long-lived components of the process.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	store      repository.Store
	ownsStore  bool
	engine     *pairstats.Engine
	histograms *histogram.Aggregator
	deduper    dedupe.Deduper
	queue      *eventqueue.InMemoryQueue
	pool       *workerpool.Pool
	builds     *keyedMutex

	rngMu sync.Mutex
	rng   *rand.Rand

	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the configuration. Defaults come from config.New.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithStore injects an already open store instead of opening the configured
// backend. The caller keeps ownership and closes it.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. Nothing is opened until Start.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:    config.New(),
		builds: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	return s
}

// Config returns the configuration in use.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Start opens the store and starts the ingestion workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	cfg := s.cfg
	mode, err := histogram.ParseSamplingMode(cfg.SampleMode)
	if err != nil {
		return err
	}

	if s.store == nil {
		store, err := repository.Open(ctx, repository.Settings{
			Backend:        cfg.StoreBackend,
			RedisAddr:      cfg.RedisAddr,
			RedisPassword:  cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			RedisPrefix:    cfg.RedisPrefix,
			BadgerDir:      cfg.BadgerDir,
			BadgerInMemory: cfg.BadgerInMemory,
		})
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
		}
		s.store = store
		s.ownsStore = true
	}

	seed := cfg.SampleSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // sampling keys, not secrets

	s.engine = pairstats.New(s.store,
		pairstats.WithCollections(cfg.PairStatsCollection, cfg.PairModelsCollection),
		pairstats.WithDefaultAttrs(model.Attrs{ID: cfg.IDAttr, Rating: cfg.RatingAttr}),
		pairstats.WithDeriveConcurrency(cfg.DeriveConcurrency),
	)
	s.histograms = histogram.New(s.store,
		histogram.WithSampleKeys(cfg.SampleRK0, cfg.SampleRK1),
		histogram.WithSamplePad(cfg.SamplePad),
		histogram.WithSamplingMode(mode),
		histogram.WithSeed(cfg.SampleSeed),
	)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(cfg.QueueSize))

	// Workers outlive the caller's ctx so Stop can drain the queue.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool = workerpool.NewPool(cfg.WorkerCount, s.queue, &releasingRecorder{engine: s.engine, deduper: s.deduper})
	s.pool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "service started",
		logger.String("store", s.store.Name()),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", cfg.QueueSize),
		logger.Int("dedupeSize", cfg.DedupeSize),
	)
	return nil
}

// Stop drains queued observations, stops the workers and closes the store
// if the service opened it.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping service")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	if s.ownsStore {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		s.store = nil
		s.ownsStore = false
	}

	s.started = false
	s.logger.Info(ctx, "service stopped")
	return errors.Join(errs...)
}

// releasingRecorder frees the id of an observation whose recording failed
// in the store, so a client retry is recorded instead of answered as a
// duplicate. Observations with missing attributes keep their id.
type releasingRecorder struct {
	engine  *pairstats.Engine
	deduper dedupe.Deduper
}

func (r *releasingRecorder) Record(ctx context.Context, obs *model.Observation) error {
	err := r.engine.Record(ctx, obs)
	if err != nil && obs.ID != "" && !errors.Is(err, pairstats.ErrMissingAttribute) {
		r.deduper.Unrecord(ctx, obs.ID)
	}
	return err
}

func (s *Service) running() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// IngestResult reports what happened to a submitted observation.
type IngestResult struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

// Ingest validates an observation and queues it for recording. An
// observation whose id was already accepted is acknowledged as a duplicate
// and not queued again. A full queue returns queue.ErrFull and forgets the
// id so the caller can retry.
func (s *Service) Ingest(ctx context.Context, obs *model.Observation) (IngestResult, error) {
	if err := s.running(); err != nil {
		return IngestResult{}, err
	}
	if err := s.engine.Validate(obs); err != nil {
		metrics.RecordObservationError("missing_attribute")
		return IngestResult{}, err
	}
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	if obs.TS.IsZero() {
		obs.TS = time.Now()
	}

	res := IngestResult{ID: obs.ID}
	if s.deduper.SeenAndRecord(ctx, obs.ID) {
		metrics.RecordObservationDuplicate()
		s.logger.Debug(ctx, "duplicate observation", logger.String("id", obs.ID))
		res.Duplicate = true
		return res, nil
	}
	if err := s.queue.Enqueue(ctx, obs); err != nil {
		s.deduper.Unrecord(ctx, obs.ID)
		return IngestResult{}, fmt.Errorf("enqueue observation %s: %w", obs.ID, err)
	}
	return res, nil
}

// RecordNow records an observation synchronously, bypassing the queue and
// dedupe cache.
func (s *Service) RecordNow(ctx context.Context, obs *model.Observation) error {
	if err := s.running(); err != nil {
		return err
	}
	return s.engine.Record(ctx, obs)
}

// Stats returns the statistics row of a pair.
func (s *Service) Stats(ctx context.Context, attrs model.Attrs, a, b any) (pairstats.Stats, error) {
	if err := s.running(); err != nil {
		return pairstats.Stats{}, err
	}
	return s.engine.ReadStats(ctx, attrs, a, b)
}

// DeriveRequest selects pairs and overrides the configured thresholds. Nil
// thresholds keep the configured value.
type DeriveRequest struct {
	Attrs model.Attrs
	// Pair limits the derivation to one pair when both ids are set.
	A, B any

	MinCount        *int
	MinRSquared     *float64
	MaxAbsSlope     *float64
	MaxAbsIntercept *float64
}

func (r DeriveRequest) options(cfg *config.Config) []pairstats.DeriveOption {
	minCount := cfg.DeriveMinCount
	if r.MinCount != nil {
		minCount = *r.MinCount
	}
	minR2 := cfg.DeriveMinRSquared
	if r.MinRSquared != nil {
		minR2 = *r.MinRSquared
	}
	opts := []pairstats.DeriveOption{
		pairstats.WithMinCount(minCount),
		pairstats.WithMinRSquared(minR2),
	}
	slope := cfg.DeriveMaxAbsSlope
	if r.MaxAbsSlope != nil {
		slope = *r.MaxAbsSlope
	}
	if slope > 0 {
		opts = append(opts, pairstats.WithMaxAbsSlope(slope))
	}
	intercept := cfg.DeriveMaxAbsIntercept
	if r.MaxAbsIntercept != nil {
		intercept = *r.MaxAbsIntercept
	}
	if intercept > 0 {
		opts = append(opts, pairstats.WithMaxAbsIntercept(intercept))
	}
	return opts
}

// Derive fits pair models from the current statistics.
func (s *Service) Derive(ctx context.Context, req DeriveRequest) (pairstats.Summary, error) {
	if err := s.running(); err != nil {
		return pairstats.Summary{}, err
	}
	opts := req.options(s.cfg)

	if req.A == nil || req.B == nil {
		return s.engine.DeriveAll(ctx, opts...)
	}
	d, err := s.engine.DerivePair(ctx, req.Attrs, req.A, req.B, opts...)
	if err != nil {
		return pairstats.Summary{}, err
	}
	sum := pairstats.Summary{Pairs: 1, Skipped: map[pairstats.SkipReason]int{}}
	if d.Skipped() {
		sum.Skipped[d.Reason]++
	} else {
		sum.Written = 1
	}
	return sum, nil
}

// Model returns the stored model predicting y from x.
func (s *Service) Model(ctx context.Context, attrs model.Attrs, x, y any) (pairstats.Model, error) {
	if err := s.running(); err != nil {
		return pairstats.Model{}, err
	}
	return s.engine.LookupModel(ctx, attrs, x, y)
}

// Predict estimates y's rating from a rating of x.
func (s *Service) Predict(ctx context.Context, attrs model.Attrs, x, y any, rating float64) (float64, pairstats.Model, error) {
	if err := s.running(); err != nil {
		return 0, pairstats.Model{}, err
	}
	return s.engine.Predict(ctx, attrs, x, y, rating)
}

// BuildHistogram (re)builds a histogram. Builds targeting the same result
// collection are serialized. The pair statistics and model collections
// are never valid results since the build drops its result first.
func (s *Service) BuildHistogram(ctx context.Context, req histogram.Request) (histogram.Result, error) {
	if err := s.running(); err != nil {
		return histogram.Result{}, err
	}
	if req.Result == s.engine.StatsCollection() || req.Result == s.engine.ModelsCollection() {
		return histogram.Result{}, fmt.Errorf("%w: result collection %q is reserved", histogram.ErrInvalidBinSpec, req.Result)
	}
	unlock := s.builds.Lock(req.Result)
	defer unlock()
	return s.histograms.Build(ctx, req)
}

// Buckets lists the rows of a built histogram.
func (s *Service) Buckets(ctx context.Context, name, sortPath string, descending bool, limit int) ([]histogram.Bucket, error) {
	if err := s.running(); err != nil {
		return nil, err
	}
	return s.histograms.Buckets(ctx, name, sortPath, descending, limit)
}

// Quantile returns the first bucket whose cumulative field reaches q.
func (s *Service) Quantile(ctx context.Context, name string, q float64, field string) (histogram.Bucket, error) {
	if err := s.running(); err != nil {
		return histogram.Bucket{}, err
	}
	return s.histograms.InverseQuantile(ctx, name, q, field)
}

// Import inserts JSON-lines records into coll, stamping each with fresh
// sampling keys. Blank lines are skipped. It returns the number inserted.
func (s *Service) Import(ctx context.Context, coll string, r io.Reader) (int, error) {
	if err := s.running(); err != nil {
		return 0, err
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxImportLine)

	n, line := 0, 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(raw, &rec); err != nil || rec == nil {
			return n, fmt.Errorf("%w: line %d", ErrInvalidRecord, line)
		}
		s.rngMu.Lock()
		histogram.StampSampleKeys(rec, s.cfg.SampleRK0, s.cfg.SampleRK1, s.rng)
		s.rngMu.Unlock()
		if _, err := s.store.Insert(ctx, coll, repository.Document(rec)); err != nil {
			return n, fmt.Errorf("insert line %d: %w", line, err)
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read records: %w", err)
	}
	s.logger.Info(ctx, "imported records", logger.String("collection", coll), logger.Int("records", n))
	return n, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.QueueSize,
		"dedupeSize":  s.cfg.DedupeSize,
	}
	if !s.started {
		return stats
	}

	queueLen := s.queue.Len(ctx)
	stats["store"] = s.store.Name()
	stats["workerCount"] = s.pool.Size()
	stats["queueLength"] = queueLen
	stats["processed"] = s.pool.Processed()
	stats["dedupeEntries"] = s.deduper.Size()
	if n, err := s.store.Count(ctx, s.engine.StatsCollection(), nil); err == nil {
		stats["pairs"] = n
	}
	if n, err := s.store.Count(ctx, s.engine.ModelsCollection(), nil); err == nil {
		stats["models"] = n
	}

	metrics.UpdateQueueSize(queueLen)
	return stats
}
