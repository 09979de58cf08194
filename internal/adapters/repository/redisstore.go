package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis layout constants.
const (
	defaultRedisPrefix = "ratorade"
	redisScanBatch     = 256
)

// RedisStore keeps each document in a hash whose fields hold JSON-encoded
// values, plus one set per collection indexing the document keys.
// Increments run inside MULTI/EXEC with HINCRBYFLOAT, which makes them
// atomic per document.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisPrefix sets the key prefix for all collections.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisStore) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, opts ...RedisOption) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(client, opts...), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	r := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements Store.
func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) indexKey(coll string) string {
	return r.prefix + ":" + coll + ":idx"
}

func (r *RedisStore) docKey(coll, ks string) string {
	return r.prefix + ":" + coll + ":d:" + ks
}

func encodeField(v any) (string, error) {
	b, err := json.Marshal(normalize(v))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeHash(h map[string]string) (Document, error) {
	doc := make(Document, len(h))
	for field, raw := range h {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode field %s: %w", field, err)
		}
		doc[field] = v
	}
	return doc, nil
}

// FindOne implements Store.
func (r *RedisStore) FindOne(ctx context.Context, coll string, key Key) (Document, error) {
	ks, err := encodeKey(key)
	if err != nil {
		return nil, err
	}
	h, err := r.client.HGetAll(ctx, r.docKey(coll, ks)).Result()
	if err != nil {
		return nil, err
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return decodeHash(h)
}

// Insert implements Store. SADD on the index gates creation, so two
// concurrent inserts of the same key cannot both succeed.
func (r *RedisStore) Insert(ctx context.Context, coll string, doc Document) (Key, error) {
	key := doc.ID()
	if key == nil {
		key = Key{"oid": uuid.NewString()}
	}
	ks, err := encodeKey(key)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(doc)+1)
	for f, v := range doc {
		if f == IDField {
			continue
		}
		enc, err := encodeField(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", f, err)
		}
		fields[f] = enc
	}
	fields[IDField] = ks

	added, err := r.client.SAdd(ctx, r.indexKey(coll), ks).Result()
	if err != nil {
		return nil, err
	}
	if added == 0 {
		return nil, fmt.Errorf("insert %s: %w", ks, ErrDuplicateKey)
	}
	if err := r.client.HSet(ctx, r.docKey(coll, ks), fields).Err(); err != nil {
		return nil, err
	}
	return key, nil
}

// UpsertIncrement implements Store.
func (r *RedisStore) UpsertIncrement(ctx context.Context, coll string, key Key, deltas map[string]float64, set map[string]any) error {
	ks, err := encodeKey(key)
	if err != nil {
		return err
	}
	fields := make(map[string]any, len(set)+1)
	for f, v := range set {
		if f == IDField {
			continue
		}
		enc, err := encodeField(v)
		if err != nil {
			return fmt.Errorf("encode field %s: %w", f, err)
		}
		fields[f] = enc
	}
	fields[IDField] = ks

	dk := r.docKey(coll, ks)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, dk, fields)
		for f, d := range deltas {
			pipe.HIncrByFloat(ctx, dk, f, d)
		}
		pipe.SAdd(ctx, r.indexKey(coll), ks)
		return nil
	})
	if err != nil {
		if isRedisNotNumeric(err) {
			return fmt.Errorf("increment %s: %w", ks, ErrNotNumeric)
		}
		return err
	}
	return nil
}

func isRedisNotNumeric(err error) bool {
	var re redis.Error
	return errors.As(err, &re) && re.Error() == "ERR hash value is not a float"
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, coll string, key Key, fields map[string]any) error {
	return r.UpsertIncrement(ctx, coll, key, nil, fields)
}

// each walks the collection index in batches and loads documents with one
// pipelined HGETALL per batch.
func (r *RedisStore) each(ctx context.Context, coll string, fn func(ks string, doc Document) error) error {
	idx := r.indexKey(coll)
	var cursor uint64
	for {
		members, next, err := r.client.SScan(ctx, idx, cursor, "", redisScanBatch).Result()
		if err != nil {
			return err
		}
		if len(members) > 0 {
			pipe := r.client.Pipeline()
			cmds := make([]*redis.MapStringStringCmd, len(members))
			for i, ks := range members {
				cmds[i] = pipe.HGetAll(ctx, r.docKey(coll, ks))
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			for i, cmd := range cmds {
				h := cmd.Val()
				if len(h) == 0 {
					continue
				}
				doc, err := decodeHash(h)
				if err != nil {
					return err
				}
				if err := fn(members[i], doc); err != nil {
					return err
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Scan implements Store.
func (r *RedisStore) Scan(ctx context.Context, coll string, pred Predicate, fields []string, fn func(Document) error) error {
	return r.each(ctx, coll, func(_ string, doc Document) error {
		if !matches(pred, doc) {
			return nil
		}
		return fn(project(doc, fields))
	})
}

// SortedScan implements Store.
func (r *RedisStore) SortedScan(ctx context.Context, coll string, sortPath string, descending bool, limit int, fn func(Document) error) error {
	var docs []keyedDocument
	err := r.each(ctx, coll, func(ks string, doc Document) error {
		docs = append(docs, keyedDocument{key: ks, doc: doc})
		return nil
	})
	if err != nil {
		return err
	}
	return emitSorted(docs, sortPath, descending, limit, fn)
}

// Count implements Store.
func (r *RedisStore) Count(ctx context.Context, coll string, pred Predicate) (int, error) {
	if pred == nil {
		n, err := r.client.SCard(ctx, r.indexKey(coll)).Result()
		return int(n), err
	}
	n := 0
	err := r.each(ctx, coll, func(_ string, doc Document) error {
		if pred.Match(doc) {
			n++
		}
		return nil
	})
	return n, err
}

// Drop implements Store.
func (r *RedisStore) Drop(ctx context.Context, coll string) error {
	idx := r.indexKey(coll)
	var cursor uint64
	for {
		members, next, err := r.client.SScan(ctx, idx, cursor, "", redisScanBatch).Result()
		if err != nil {
			return err
		}
		if len(members) > 0 {
			keys := make([]string, len(members))
			for i, ks := range members {
				keys[i] = r.docKey(coll, ks)
			}
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return r.client.Del(ctx, idx).Err()
}

// Close implements Store.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
