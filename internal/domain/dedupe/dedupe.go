// Package dedupe tracks observation ids so a retried submission is recorded
// at most once.
package dedupe

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

const defaultMaxSize = 50000

// Deduper records seen observation IDs to ensure at-most-once processing.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID from the seen list, allowing it to be retried.
	// Use it when an observation was marked as seen but could not be queued.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// lruDeduper keeps the most recently recorded ids in a bounded LRU cache.
// A repeated id does not refresh its entry, so the oldest recorded id is
// evicted first.
type lruDeduper struct {
	cache *lru.Cache
}

// mapDeduper keeps every id it has ever seen.
type mapDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

type settings struct {
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper. With a positive max
// size the oldest ids are evicted; otherwise it is unbounded.
func NewInMemoryDeduper(opts ...Option) Deduper {
	s := settings{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(&s)
	}

	if s.maxSize > 0 {
		// lru.New only fails for a non-positive size.
		cache, err := lru.New(s.maxSize)
		if err == nil {
			return &lruDeduper{cache: cache}
		}
	}
	return &mapDeduper{seen: make(map[string]struct{})}
}

func (d *lruDeduper) SeenAndRecord(ctx context.Context, id string) bool {
	seen, _ := d.cache.ContainsOrAdd(id, struct{}{})
	return seen
}

func (d *lruDeduper) Unrecord(ctx context.Context, id string) {
	d.cache.Remove(id)
}

func (d *lruDeduper) Size() int64 {
	return int64(d.cache.Len())
}

func (d *mapDeduper) SeenAndRecord(ctx context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.seen[id] = struct{}{}
	return false
}

func (d *mapDeduper) Unrecord(ctx context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

func (d *mapDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}
