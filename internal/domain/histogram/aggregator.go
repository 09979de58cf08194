// Package histogram groups the records of a collection into buckets, with
// optional uniform numeric binning, random sampling, cumulative fields and
// quantile lookup.
package histogram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/ratorade/internal/adapters/repository"
	"github.com/okian/ratorade/pkg/logger"
	"github.com/okian/ratorade/pkg/metrics"
)

// Bucket field names.
const (
	FieldFreq  = "freq"
	FieldProb  = "prob"
	FieldCFreq = "cfreq"
	FieldCProb = "cprob"
	FieldCount = "count"
	FieldCFrac = "cfrac"
)

// Request describes one histogram build.
type Request struct {
	Source    string
	Result    string
	GroupKeys []string
	Bins      map[string]BinSpec
	// Filter restricts the source records; nil keeps all of them.
	Filter repository.Predicate
	// SortKey orders the cumulative walk: a group key sorts by that
	// tuple component, anything else by the top-level bucket field.
	SortKey    string
	Prob       bool
	Cumulative bool
	Ranks      bool
	Ascending  bool
	// SampleSize >= 1 asks for about that many records; a value in (0, 1)
	// is a fraction; zero disables sampling.
	SampleSize float64
}

// Result summarizes a finished build.
type Result struct {
	Collection   string `json:"collection"`
	TotalRecords int    `json:"totalRecords"`
	Buckets      int    `json:"buckets"`
}

// Bucket is one histogram row.
type Bucket struct {
	Key   map[string]any `json:"key"`
	Freq  float64        `json:"freq"`
	Prob  *float64       `json:"prob,omitempty"`
	CFreq *float64       `json:"cfreq,omitempty"`
	CProb *float64       `json:"cprob,omitempty"`
	Count *float64       `json:"count,omitempty"`
	CFrac *float64       `json:"cfrac,omitempty"`
}

// BucketFromDocument decodes a stored bucket.
func BucketFromDocument(doc repository.Document) Bucket {
	b := Bucket{Key: map[string]any(doc.ID())}
	b.Freq, _ = doc.Number(FieldFreq)
	opt := func(field string) *float64 {
		if v, ok := doc.Number(field); ok {
			return &v
		}
		return nil
	}
	b.Prob = opt(FieldProb)
	b.CFreq = opt(FieldCFreq)
	b.CProb = opt(FieldCProb)
	b.Count = opt(FieldCount)
	b.CFrac = opt(FieldCFrac)
	return b
}

// Aggregator builds histograms against a store. Builds sharing a result
// name must not run concurrently.
type Aggregator struct {
	store  repository.Store
	rk0    string
	rk1    string
	pad    float64
	mode   SamplingMode
	logger logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an Aggregator backed by store.
func New(store repository.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store: store,
		rk0:   DefaultSampleKey0,
		rk1:   DefaultSampleKey1,
		mode:  SamplingIndependent,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rng == nil {
		WithSeed(0)(a)
	}
	if a.logger == nil {
		a.logger = logger.Get().Named("histogram")
	}
	return a
}

func (a *Aggregator) samplingPredicate(p float64) repository.Predicate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return SamplingPredicate(p, a.rk0, a.rk1, a.pad, a.rng)
}

// Validate checks a request without touching the store.
func (r Request) Validate() error {
	if r.Source == "" || r.Result == "" {
		return fmt.Errorf("%w: source and result collections are required", ErrInvalidBinSpec)
	}
	if r.Source == r.Result {
		return fmt.Errorf("%w: result collection %q would drop the source", ErrInvalidBinSpec, r.Result)
	}
	if len(r.GroupKeys) == 0 {
		return fmt.Errorf("%w: at least one group key is required", ErrInvalidBinSpec)
	}
	seen := make(map[string]bool, len(r.GroupKeys))
	for _, k := range r.GroupKeys {
		if k == "" || strings.Contains(k, ".") {
			return fmt.Errorf("%w: group key %q must name a top-level field", ErrInvalidBinSpec, k)
		}
		if seen[k] {
			return fmt.Errorf("%w: group key %q repeated", ErrInvalidBinSpec, k)
		}
		seen[k] = true
	}
	for k, spec := range r.Bins {
		if !seen[k] {
			return fmt.Errorf("%w: bin key %q is not a group key", ErrInvalidBinSpec, k)
		}
		if spec.Bins <= 0 {
			return fmt.Errorf("%w: %s bin count %d is not a positive integer", ErrInvalidBinSpec, k, spec.Bins)
		}
	}
	if r.SampleSize < 0 || math.IsNaN(r.SampleSize) {
		return fmt.Errorf("%w: sample size %v", ErrInvalidBinSpec, r.SampleSize)
	}
	return nil
}

// SortPath is the bucket field the sort key names: a group key maps into
// the bucket id, an empty key to DefaultSortKey.
func (r Request) SortPath() string {
	switch {
	case r.SortKey == "":
		return DefaultSortKey
	case slices.Contains(r.GroupKeys, r.SortKey):
		return repository.IDField + "." + r.SortKey
	}
	return r.SortKey
}

func (r Request) derive() bool { return r.Prob || r.Cumulative || r.Ranks }

// Build runs a full histogram build and returns the result handle. The
// result collection is dropped first, so re-running a failed build is safe.
func (a *Aggregator) Build(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RecordHistogramBuild(status, float64(time.Since(start).Milliseconds()), res.Buckets)
	}()

	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.SortKey == "" {
		req.SortKey = DefaultSortKey
	}
	res.Collection = req.Result

	if err := a.store.Drop(ctx, req.Result); err != nil {
		return res, fmt.Errorf("drop %s: %w", req.Result, err)
	}

	discoverPred, bucketPred, err := a.predicates(ctx, req)
	if err != nil {
		return res, err
	}

	bins, err := a.resolveBins(ctx, req, discoverPred)
	if err != nil {
		return res, err
	}

	counts, total, err := a.count(ctx, req, bins, bucketPred)
	if err != nil {
		return res, err
	}
	res.TotalRecords = total
	res.Buckets = len(counts)

	for _, c := range counts {
		if err := a.store.UpsertIncrement(ctx, req.Result, c.key, map[string]float64{FieldFreq: c.freq}, nil); err != nil {
			return res, fmt.Errorf("write bucket: %w", err)
		}
	}

	if req.derive() {
		if err := a.annotate(ctx, req, total); err != nil {
			return res, err
		}
	}

	a.logger.Info(ctx, "histogram built",
		logger.String("source", req.Source),
		logger.String("result", req.Result),
		logger.Int("records", total),
		logger.Int("buckets", res.Buckets),
		logger.Int64("durationMs", time.Since(start).Milliseconds()),
	)
	return res, nil
}

// predicates returns the filters for the discovery and bucketing scans.
func (a *Aggregator) predicates(ctx context.Context, req Request) (repository.Predicate, repository.Predicate, error) {
	if req.SampleSize == 0 {
		return req.Filter, req.Filter, nil
	}
	p := req.SampleSize
	if p >= 1 {
		n, err := a.store.Count(ctx, req.Source, req.Filter)
		if err != nil {
			return nil, nil, fmt.Errorf("count %s: %w", req.Source, err)
		}
		p = 1
		if n > 0 {
			p = math.Min(1, req.SampleSize/float64(n))
		}
	}
	first := repository.And(req.Filter, a.samplingPredicate(p))
	if a.mode == SamplingShared {
		return first, first, nil
	}
	return first, repository.And(req.Filter, a.samplingPredicate(p)), nil
}

// resolveBins fills missing bounds with one combined scan and computes
// bin widths.
func (a *Aggregator) resolveBins(ctx context.Context, req Request, pred repository.Predicate) (map[string]binning, error) {
	if len(req.Bins) == 0 {
		return nil, nil
	}
	lo := make(map[string]float64, len(req.Bins))
	hi := make(map[string]float64, len(req.Bins))
	var missing []string
	for k, spec := range req.Bins {
		lo[k], hi[k] = math.Inf(1), math.Inf(-1)
		if spec.Min != nil {
			lo[k] = *spec.Min
		}
		if spec.Max != nil {
			hi[k] = *spec.Max
		}
		if spec.Min == nil || spec.Max == nil {
			missing = append(missing, k)
		}
	}

	if len(missing) > 0 {
		slices.Sort(missing)
		err := a.store.Scan(ctx, req.Source, pred, missing, func(doc repository.Document) error {
			for _, k := range missing {
				v, ok := doc.Number(k)
				if !ok {
					continue
				}
				if req.Bins[k].Min == nil && v < lo[k] {
					lo[k] = v
				}
				if req.Bins[k].Max == nil && v > hi[k] {
					hi[k] = v
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s for bounds: %w", req.Source, err)
		}
	}

	out := make(map[string]binning, len(req.Bins))
	for k, spec := range req.Bins {
		if !(hi[k] > lo[k]) || math.IsInf(lo[k], 0) || math.IsInf(hi[k], 0) {
			return nil, fmt.Errorf("%w: %s has min %v and max %v", ErrDegenerateRange, k, lo[k], hi[k])
		}
		out[k] = binning{min: lo[k], width: (hi[k] - lo[k]) / float64(spec.Bins)}
	}
	return out, nil
}

type bucketCount struct {
	key  repository.Key
	freq float64
}

// count scans the source and reduces records to per-bucket frequencies.
func (a *Aggregator) count(ctx context.Context, req Request, bins map[string]binning, pred repository.Predicate) ([]*bucketCount, int, error) {
	buckets := make(map[string]*bucketCount)
	var order []string
	total := 0
	err := a.store.Scan(ctx, req.Source, pred, req.GroupKeys, func(doc repository.Document) error {
		key := make(repository.Key, len(req.GroupKeys))
		for _, k := range req.GroupKeys {
			v, ok := repository.Lookup(doc, k)
			if !ok {
				key[k] = nil
				continue
			}
			if b, binned := bins[k]; binned {
				f, numeric := doc.Number(k)
				if !numeric {
					key[k] = nil
					continue
				}
				v = b.bucket(f)
			}
			key[k] = v
		}
		ks, err := json.Marshal(key)
		if err != nil {
			return fmt.Errorf("encode bucket key: %w", err)
		}
		c, ok := buckets[string(ks)]
		if !ok {
			c = &bucketCount{key: key}
			buckets[string(ks)] = c
			order = append(order, string(ks))
		}
		c.freq++
		total++
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", req.Source, err)
	}
	out := make([]*bucketCount, len(order))
	for i, ks := range order {
		out[i] = buckets[ks]
	}
	return out, total, nil
}

// annotate walks the buckets in sort order and writes the derived fields.
func (a *Aggregator) annotate(ctx context.Context, req Request, total int) error {
	sortPath := req.SortPath()

	var docs []repository.Document
	err := a.store.SortedScan(ctx, req.Result, sortPath, !req.Ascending, 0, func(doc repository.Document) error {
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read back %s: %w", req.Result, err)
	}

	n := float64(total)
	nb := float64(len(docs))
	var cfreq float64
	for i, doc := range docs {
		freq, _ := doc.Number(FieldFreq)
		cfreq += freq
		fields := make(map[string]any, 5)
		if req.Prob {
			fields[FieldProb] = freq / n
		}
		if req.Cumulative {
			fields[FieldCFreq] = cfreq
			fields[FieldCProb] = cfreq / n
		}
		if req.Ranks {
			rank := float64(i + 1)
			fields[FieldCount] = rank
			fields[FieldCFrac] = rank / nb
		}
		if err := a.store.Set(ctx, req.Result, doc.ID(), fields); err != nil {
			return fmt.Errorf("annotate bucket: %w", err)
		}
	}
	return nil
}

var errStop = errors.New("stop")

// InverseQuantile returns the bucket with the smallest field value >= q,
// scanning field in ascending order. field defaults to cprob.
func (a *Aggregator) InverseQuantile(ctx context.Context, coll string, q float64, field string) (Bucket, error) {
	if field == "" {
		field = DefaultCProbField
	}
	var (
		found Bucket
		ok    bool
	)
	err := a.store.SortedScan(ctx, coll, field, false, 0, func(doc repository.Document) error {
		v, numeric := doc.Number(field)
		if !numeric || v < q {
			return nil
		}
		found, ok = BucketFromDocument(doc), true
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return Bucket{}, fmt.Errorf("scan %s: %w", coll, err)
	}
	if !ok {
		return Bucket{}, fmt.Errorf("%w: no %s >= %v in %s", ErrNotFound, field, q, coll)
	}
	return found, nil
}

// Buckets reads a built histogram ordered by sortPath.
func (a *Aggregator) Buckets(ctx context.Context, coll, sortPath string, descending bool, limit int) ([]Bucket, error) {
	if sortPath == "" {
		sortPath = DefaultSortKey
	}
	var out []Bucket
	err := a.store.SortedScan(ctx, coll, sortPath, descending, limit, func(doc repository.Document) error {
		out = append(out, BucketFromDocument(doc))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", coll, err)
	}
	return out, nil
}
