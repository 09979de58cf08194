// Package repository defines the document store contract used by the
// pair statistics engine and the histogram aggregator, and its backends.
package repository

import (
	"context"

	"github.com/okian/ratorade/internal/domain/model"
)

// IDField is the document field holding the document key.
const IDField = "_id"

// Key identifies a document within a collection. Keys are compared by
// their canonical encoding, so {"a": 1} and {"a": 1.0} are the same key.
type Key map[string]any

// Document is a schema-less stored record. Document[IDField] holds the key
// as a map[string]any.
type Document map[string]any

// ID returns the document key.
func (d Document) ID() Key {
	switch k := d[IDField].(type) {
	case map[string]any:
		return Key(k)
	case Key:
		return k
	}
	return nil
}

// Number returns a numeric field, following dotted paths.
func (d Document) Number(path string) (float64, bool) {
	v, ok := Lookup(d, path)
	if !ok {
		return 0, false
	}
	return model.ToFloat(v)
}

// Store provides the document operations the core relies on. Every method
// is a blocking round trip; implementations must make UpsertIncrement
// atomic per key under concurrent callers.
type Store interface {
	// Name returns the backend name (for logs and metrics).
	Name() string

	// FindOne returns the document stored under key.
	// Returns ErrNotFound if there is none.
	FindOne(ctx context.Context, coll string, key Key) (Document, error)

	// Insert stores a new document. A document without IDField gets a
	// generated key. Returns ErrDuplicateKey if the key already exists.
	Insert(ctx context.Context, coll string, doc Document) (Key, error)

	// UpsertIncrement atomically adds deltas to numeric fields and
	// overwrites the fields in set, creating the document if it is absent.
	// Missing numeric fields start at zero.
	UpsertIncrement(ctx context.Context, coll string, key Key, deltas map[string]float64, set map[string]any) error

	// Set overwrites fields, creating the document if it is absent.
	Set(ctx context.Context, coll string, key Key, fields map[string]any) error

	// Scan calls fn for every document matching pred (nil matches all).
	// If fields is non-empty only those fields (and IDField) are returned.
	Scan(ctx context.Context, coll string, pred Predicate, fields []string, fn func(Document) error) error

	// SortedScan calls fn for documents ordered by the value at sortPath.
	// A limit <= 0 means no limit.
	SortedScan(ctx context.Context, coll string, sortPath string, descending bool, limit int, fn func(Document) error) error

	// Count returns the number of documents matching pred (nil matches all).
	Count(ctx context.Context, coll string, pred Predicate) (int, error)

	// Drop removes a collection and all its documents.
	Drop(ctx context.Context, coll string) error

	// Close releases backend resources.
	Close() error
}
