package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/okian/ratorade/internal/domain/model"
)

// maxConflictRetries bounds optimistic transaction retries per write.
const maxConflictRetries = 1024

// BadgerStore keeps one JSON value per document under a collection prefix.
// Writes are read-modify-write transactions; Badger aborts a transaction
// whose read set changed underneath it with ErrConflict, and the write is
// retried, which gives per-key atomic increments.
type BadgerStore struct {
	db    *badger.DB
	owned bool
}

// NewBadgerStore wraps an open database. The caller keeps ownership of db.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadgerStore opens a database at dir, or an in-memory one.
func OpenBadgerStore(dir string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", dir, err)
	}
	return &BadgerStore{db: db, owned: true}, nil
}

// Name implements Store.
func (b *BadgerStore) Name() string { return "badger" }

func collectionPrefix(coll string) []byte {
	return []byte(coll + "\x00")
}

func badgerKey(coll, ks string) []byte {
	return append(collectionPrefix(coll), ks...)
}

func getDocument(txn *badger.Txn, k []byte) (Document, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc Document
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	})
	return doc, err
}

func putDocument(txn *badger.Txn, k []byte, doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return txn.Set(k, data)
}

// update runs fn in a write transaction, retrying on conflicts.
func (b *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

// FindOne implements Store.
func (b *BadgerStore) FindOne(ctx context.Context, coll string, key Key) (Document, error) {
	ks, err := encodeKey(key)
	if err != nil {
		return nil, err
	}
	var doc Document
	err = b.db.View(func(txn *badger.Txn) error {
		var gerr error
		doc, gerr = getDocument(txn, badgerKey(coll, ks))
		return gerr
	})
	return doc, err
}

// Insert implements Store.
func (b *BadgerStore) Insert(ctx context.Context, coll string, doc Document) (Key, error) {
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
	k := badgerKey(coll, ks)
	err = b.update(ctx, func(txn *badger.Txn) error {
		if _, gerr := txn.Get(k); gerr == nil {
			return fmt.Errorf("insert %s: %w", ks, ErrDuplicateKey)
		} else if !errors.Is(gerr, badger.ErrKeyNotFound) {
			return gerr
		}
		return putDocument(txn, k, stored)
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

// UpsertIncrement implements Store.
func (b *BadgerStore) UpsertIncrement(ctx context.Context, coll string, key Key, deltas map[string]float64, set map[string]any) error {
	ks, err := encodeKey(key)
	if err != nil {
		return err
	}
	k := badgerKey(coll, ks)
	return b.update(ctx, func(txn *badger.Txn) error {
		doc, gerr := getDocument(txn, k)
		if errors.Is(gerr, ErrNotFound) {
			doc = Document{IDField: normalize(map[string]any(key))}
		} else if gerr != nil {
			return gerr
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
		return putDocument(txn, k, doc)
	})
}

// Set implements Store.
func (b *BadgerStore) Set(ctx context.Context, coll string, key Key, fields map[string]any) error {
	return b.UpsertIncrement(ctx, coll, key, nil, fields)
}

// each iterates a collection in key order inside a read transaction.
func (b *BadgerStore) each(ctx context.Context, coll string, fn func(ks string, doc Document) error) error {
	prefix := collectionPrefix(coll)
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var doc Document
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				return err
			}
			ks := string(item.Key()[len(prefix):])
			if err := fn(ks, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scan implements Store.
func (b *BadgerStore) Scan(ctx context.Context, coll string, pred Predicate, fields []string, fn func(Document) error) error {
	return b.each(ctx, coll, func(_ string, doc Document) error {
		if !matches(pred, doc) {
			return nil
		}
		return fn(project(doc, fields))
	})
}

// SortedScan implements Store.
func (b *BadgerStore) SortedScan(ctx context.Context, coll string, sortPath string, descending bool, limit int, fn func(Document) error) error {
	var docs []keyedDocument
	err := b.each(ctx, coll, func(ks string, doc Document) error {
		docs = append(docs, keyedDocument{key: ks, doc: doc})
		return nil
	})
	if err != nil {
		return err
	}
	return emitSorted(docs, sortPath, descending, limit, fn)
}

// Count implements Store.
func (b *BadgerStore) Count(ctx context.Context, coll string, pred Predicate) (int, error) {
	n := 0
	err := b.each(ctx, coll, func(_ string, doc Document) error {
		if matches(pred, doc) {
			n++
		}
		return nil
	})
	return n, err
}

// Drop implements Store.
func (b *BadgerStore) Drop(ctx context.Context, coll string) error {
	return b.db.DropPrefix(collectionPrefix(coll))
}

// Close implements Store. Databases passed to NewBadgerStore stay open.
func (b *BadgerStore) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}

var _ Store = (*BadgerStore)(nil)
