package repository

import (
	"context"
	"errors"
	"time"

	"github.com/okian/ratorade/pkg/metrics"
)

// instrumentedStore records latency and error metrics around every call.
type instrumentedStore struct {
	next Store
}

// Instrument wraps s so every operation reports Prometheus metrics.
func Instrument(s Store) Store {
	if _, ok := s.(*instrumentedStore); ok {
		return s
	}
	return &instrumentedStore{next: s}
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	backend := s.next.Name()
	metrics.RecordStoreLatency(backend, op, float64(time.Since(start).Microseconds())/1000)
	if err != nil && !errors.Is(err, ErrNotFound) {
		metrics.RecordStoreError(backend, op)
	}
}

func (s *instrumentedStore) Name() string { return s.next.Name() }

func (s *instrumentedStore) FindOne(ctx context.Context, coll string, key Key) (doc Document, err error) {
	defer func(start time.Time) { s.observe("find_one", start, err) }(time.Now())
	return s.next.FindOne(ctx, coll, key)
}

func (s *instrumentedStore) Insert(ctx context.Context, coll string, doc Document) (key Key, err error) {
	defer func(start time.Time) { s.observe("insert", start, err) }(time.Now())
	return s.next.Insert(ctx, coll, doc)
}

func (s *instrumentedStore) UpsertIncrement(ctx context.Context, coll string, key Key, deltas map[string]float64, set map[string]any) (err error) {
	defer func(start time.Time) { s.observe("upsert_increment", start, err) }(time.Now())
	return s.next.UpsertIncrement(ctx, coll, key, deltas, set)
}

func (s *instrumentedStore) Set(ctx context.Context, coll string, key Key, fields map[string]any) (err error) {
	defer func(start time.Time) { s.observe("set", start, err) }(time.Now())
	return s.next.Set(ctx, coll, key, fields)
}

func (s *instrumentedStore) Scan(ctx context.Context, coll string, pred Predicate, fields []string, fn func(Document) error) (err error) {
	defer func(start time.Time) { s.observe("scan", start, err) }(time.Now())
	return s.next.Scan(ctx, coll, pred, fields, fn)
}

func (s *instrumentedStore) SortedScan(ctx context.Context, coll string, sortPath string, descending bool, limit int, fn func(Document) error) (err error) {
	defer func(start time.Time) { s.observe("sorted_scan", start, err) }(time.Now())
	return s.next.SortedScan(ctx, coll, sortPath, descending, limit, fn)
}

func (s *instrumentedStore) Count(ctx context.Context, coll string, pred Predicate) (n int, err error) {
	defer func(start time.Time) { s.observe("count", start, err) }(time.Now())
	return s.next.Count(ctx, coll, pred)
}

func (s *instrumentedStore) Drop(ctx context.Context, coll string) (err error) {
	defer func(start time.Time) { s.observe("drop", start, err) }(time.Now())
	return s.next.Drop(ctx, coll)
}

func (s *instrumentedStore) Close() error { return s.next.Close() }
