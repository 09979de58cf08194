// Package config defines service configuration structures and loading hooks.
package config

import (
	"runtime"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// MaxRequestBytes caps HTTP request bodies.
	MaxRequestBytes int64 `koanf:"max_request_bytes" validate:"gt=0"`

	// StoreBackend selects the document store: memory, redis or badger.
	StoreBackend  string `koanf:"store_backend" validate:"oneof=memory redis badger"`
	RedisAddr     string `koanf:"redis_addr" validate:"required_if=StoreBackend redis"`
	RedisDB       int    `koanf:"redis_db" validate:"gte=0"`
	RedisPassword string `koanf:"redis_password"`
	RedisPrefix   string `koanf:"redis_prefix"`
	BadgerDir     string `koanf:"badger_dir"`
	// BadgerInMemory runs Badger without a directory, mostly for tests.
	BadgerInMemory bool `koanf:"badger_in_memory"`

	// QueueSize bounds the in-memory observation queue.
	QueueSize int `koanf:"queue_size" validate:"gt=0"`

	// WorkerCount sets the number of recording workers. Zero sizes the
	// pool from the CPU count.
	WorkerCount int `koanf:"worker_count" validate:"gte=0"`

	// DedupeSize bounds the observation id cache. Zero or less is unbounded.
	DedupeSize int `koanf:"dedupe_size"`

	PairStatsCollection  string `koanf:"pair_stats_collection" validate:"required"`
	PairModelsCollection string `koanf:"pair_models_collection" validate:"required,nefield=PairStatsCollection"`

	// IDAttr and RatingAttr name the default rating space.
	IDAttr     string `koanf:"id_attr" validate:"required"`
	RatingAttr string `koanf:"rating_attr" validate:"required,nefield=IDAttr"`

	// Derivation thresholds. A zero cap disables it.
	DeriveMinCount        int     `koanf:"derive_min_count" validate:"gte=0"`
	DeriveMinRSquared     float64 `koanf:"derive_min_r_squared" validate:"gte=0,lte=1"`
	DeriveMaxAbsSlope     float64 `koanf:"derive_max_abs_slope" validate:"gte=0"`
	DeriveMaxAbsIntercept float64 `koanf:"derive_max_abs_intercept" validate:"gte=0"`
	DeriveConcurrency     int     `koanf:"derive_concurrency" validate:"gt=0"`

	// Sampling keys stamped on records and used for sampled histograms.
	SampleRK0  string  `koanf:"sample_rk0" validate:"required"`
	SampleRK1  string  `koanf:"sample_rk1" validate:"required,nefield=SampleRK0"`
	SamplePad  float64 `koanf:"sample_pad" validate:"gte=0"`
	SampleMode string  `koanf:"sample_mode" validate:"oneof=independent shared"`
	// SampleSeed fixes the sampling RNG; zero seeds from the clock.
	SampleSeed int64 `koanf:"sample_seed"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		MaxRequestBytes:      1 << 20,
		StoreBackend:         "memory",
		RedisAddr:            "localhost:6379",
		RedisPrefix:          "ratorade",
		BadgerDir:            "./data",
		QueueSize:            100_000,
		WorkerCount:          runtime.NumCPU() * 4,
		DedupeSize:           500_000,
		PairStatsCollection:  "pair_stats",
		PairModelsCollection: "pair_models",
		IDAttr:               "item",
		RatingAttr:           "rating",
		DeriveMinCount:       1,
		DeriveConcurrency:    8,
		SampleRK0:            "rk0",
		SampleRK1:            "rk1",
		SamplePad:            0.1,
		SampleMode:           "independent",
	}
}
