package repository

import (
	"context"
	"fmt"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendBadger = "badger"
)

// Settings selects and configures a store backend.
type Settings struct {
	Backend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	BadgerDir      string
	BadgerInMemory bool
}

// Open connects to the configured backend and returns an instrumented
// store. Connection problems surface here, before any work starts.
func Open(ctx context.Context, s Settings) (Store, error) {
	var (
		store Store
		err   error
	)
	switch s.Backend {
	case BackendMemory, "":
		store = NewMemoryStore()
	case BackendRedis:
		store, err = NewRedisStore(ctx, s.RedisAddr, s.RedisPassword, s.RedisDB, WithRedisPrefix(s.RedisPrefix))
	case BackendBadger:
		store, err = OpenBadgerStore(s.BadgerDir, s.BadgerInMemory)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, s.Backend)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(store), nil
}
