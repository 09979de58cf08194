package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/okian/ratorade/internal/domain/model"
)

// MemoryStore is a process-local Store. Each collection has its own lock,
// so increments on one collection never wait on scans of another.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

// Name implements Store.
func (s *MemoryStore) Name() string { return "memory" }

// collection returns the named collection, creating it when create is set.
func (s *MemoryStore) collection(name string, create bool) *memCollection {
	s.mu.RLock()
	c := s.collections[name]
	s.mu.RUnlock()
	if c != nil || !create {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c = s.collections[name]; c == nil {
		c = &memCollection{docs: make(map[string]Document)}
		s.collections[name] = c
	}
	return c
}

// FindOne implements Store.
func (s *MemoryStore) FindOne(ctx context.Context, coll string, key Key) (Document, error) {
	ks, err := encodeKey(key)
	if err != nil {
		return nil, err
	}
	c := s.collection(coll, false)
	if c == nil {
		return nil, ErrNotFound
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[ks]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(doc), nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, coll string, doc Document) (Key, error) {
	stored, ok := normalize(map[string]any(doc)).(map[string]any)
	if !ok {
		return nil, ErrInvalidKey
	}
	key := Document(stored).ID()
	if key == nil {
		key = Key{"oid": uuid.NewString()}
		stored[IDField] = map[string]any(key)
	}
	ks, err := encodeKey(key)
	if err != nil {
		return nil, err
	}

	c := s.collection(coll, true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.docs[ks]; exists {
		return nil, fmt.Errorf("insert %s: %w", ks, ErrDuplicateKey)
	}
	c.docs[ks] = stored
	return key, nil
}

// UpsertIncrement implements Store. The collection lock makes the
// read-add-write of each field atomic with respect to other callers.
func (s *MemoryStore) UpsertIncrement(ctx context.Context, coll string, key Key, deltas map[string]float64, set map[string]any) error {
	ks, err := encodeKey(key)
	if err != nil {
		return err
	}
	c := s.collection(coll, true)
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.docs[ks]
	if doc == nil {
		doc = Document{IDField: normalize(map[string]any(key))}
	} else {
		doc = copyDocument(doc)
	}
	for field, delta := range deltas {
		cur := 0.0
		if v, exists := doc[field]; exists && v != nil {
			f, ok := model.ToFloat(v)
			if !ok {
				return fmt.Errorf("increment %s.%s: %w", ks, field, ErrNotNumeric)
			}
			cur = f
		}
		doc[field] = cur + delta
	}
	for field, v := range set {
		if field == IDField {
			continue
		}
		doc[field] = normalize(v)
	}
	c.docs[ks] = doc
	return nil
}

// Set implements Store.
func (s *MemoryStore) Set(ctx context.Context, coll string, key Key, fields map[string]any) error {
	return s.UpsertIncrement(ctx, coll, key, nil, fields)
}

// snapshot copies the matching documents under the read lock so callbacks
// run without holding it and may write back into the store.
func (s *MemoryStore) snapshot(ctx context.Context, coll string, pred Predicate, fields []string) ([]keyedDocument, error) {
	c := s.collection(coll, false)
	if c == nil {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]keyedDocument, 0, len(c.docs))
	for ks, doc := range c.docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !matches(pred, doc) {
			continue
		}
		out = append(out, keyedDocument{key: ks, doc: project(copyDocument(doc), fields)})
	}
	return out, nil
}

// Scan implements Store.
func (s *MemoryStore) Scan(ctx context.Context, coll string, pred Predicate, fields []string, fn func(Document) error) error {
	docs, err := s.snapshot(ctx, coll, pred, fields)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if err := fn(d.doc); err != nil {
			return err
		}
	}
	return nil
}

// SortedScan implements Store.
func (s *MemoryStore) SortedScan(ctx context.Context, coll string, sortPath string, descending bool, limit int, fn func(Document) error) error {
	docs, err := s.snapshot(ctx, coll, nil, nil)
	if err != nil {
		return err
	}
	return emitSorted(docs, sortPath, descending, limit, fn)
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context, coll string, pred Predicate) (int, error) {
	c := s.collection(coll, false)
	if c == nil {
		return 0, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, doc := range c.docs {
		if matches(pred, doc) {
			n++
		}
	}
	return n, nil
}

// Drop implements Store.
func (s *MemoryStore) Drop(ctx context.Context, coll string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, coll)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
