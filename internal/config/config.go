// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import "time"

// Config holds all daemon configuration loaded from environment variables
// and an optional config file.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for every field
//  2. Config File: optional YAML config file (config.yaml)
//  3. Environment Variables: override any setting, highest priority
type Config struct {
	Device    DeviceConfig    `koanf:"device"`
	Database  DatabaseConfig  `koanf:"database"`
	Library   LibraryConfig   `koanf:"library"`
	Indexing  IndexingConfig  `koanf:"indexing"`
	Watcher   WatcherConfig   `koanf:"watcher"`
	Jobs      JobsConfig      `koanf:"jobs"`
	Leader    LeaderConfig    `koanf:"leader"`
	Transport TransportConfig `koanf:"transport"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DeviceConfig identifies this process's device row, stable across
// restarts (internal/storage.GetOrCreateDevice keys on Slug).
type DeviceConfig struct {
	// Slug uniquely identifies this device across every library it
	// participates in. Empty means "derive from hostname at startup".
	Slug string `koanf:"slug"`
	Name string `koanf:"name"`
}

// DatabaseConfig configures the DuckDB-backed relational store.
type DatabaseConfig struct {
	// Path is the DuckDB database file. Empty means in-memory, for tests.
	Path string `koanf:"path"`
	// DataDir holds the job system's checkpoint store and synclog's
	// pre-sequence staging directory.
	DataDir string `koanf:"data_dir"`
}

// LibraryConfig names the library this process opens at startup when none
// exists yet (a fresh install starts with exactly one).
type LibraryConfig struct {
	DefaultName string `koanf:"default_name"`
}

// IndexingConfig holds indexing settings (spec.md §4.G).
type IndexingConfig struct {
	// BatchSize is the number of pending entries accumulated before a
	// Processing batch is cut. It is validated but not passed to indexer
	// runs, which are created with indexer.DefaultBatchSize.
	BatchSize int `koanf:"batch_size"`
	// DiscoveryConcurrency bounds Discovery's directory-walking workers.
	// It is validated but not passed to indexer runs, which use
	// indexer.NewState's default (half the CPU count, at least 1).
	DiscoveryConcurrency int `koanf:"discovery_concurrency"`
	// StaleRescanInterval is how often the stale-detector toggle
	// re-dispatches a full indexer run for a location.
	StaleRescanInterval time.Duration `koanf:"stale_rescan_interval"`
	// EphemeralCacheIdleTimeout bounds how long an unreferenced browse
	// root (internal/ephemeral.Root) survives before PruneIdle reclaims it.
	EphemeralCacheIdleTimeout time.Duration `koanf:"ephemeral_cache_idle_timeout"`
}

// WatcherConfig tunes the filesystem watcher's debounce behavior.
type WatcherConfig struct {
	// TickInterval is how often the watcher flushes debounced buckets.
	// Clamped up to watcher.MinTickInterval.
	TickInterval time.Duration `koanf:"tick_interval"`
}

// JobsConfig tunes the job system's dispatch concurrency.
type JobsConfig struct {
	// MaxWorkersPerName bounds concurrent runs of one job name. Zero uses
	// jobs.DefaultMaxWorkersPerName.
	MaxWorkersPerName int `koanf:"max_workers_per_name"`
}

// LeaderConfig holds lease timing settings. Nothing reads it:
// internal/leader always uses its fixed HeartbeatInterval, LeaseTimeout
// and LeaseExtension constants (30/60/90s).
type LeaderConfig struct {
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	LeaseTimeout      time.Duration `koanf:"lease_timeout"`
	LeaseExtension    time.Duration `koanf:"lease_extension"`
}

// TransportConfig selects and configures the sync transport
// (internal/transport).
type TransportConfig struct {
	// Kind is "local" (in-process, single device), "relay" (NATS
	// JetStream) or "quic" (named, not implemented).
	Kind string `koanf:"kind"`
	// NATSURL is the JetStream server this device connects to when Kind
	// is "relay" and EmbeddedServer is false.
	NATSURL string `koanf:"nats_url"`
	// EmbeddedServer starts an in-process NATS server instead of dialing
	// NATSURL, for single-process tests and standalone installs.
	EmbeddedServer bool `koanf:"embedded_server"`
	// StoreDir is the embedded server's JetStream storage directory.
	StoreDir string `koanf:"store_dir"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is the output format: json or console.
	Format string `koanf:"format"`
	// Caller includes caller file and line number in logs.
	Caller bool `koanf:"caller"`
	// Timestamp enables timestamps in log output.
	Timestamp bool `koanf:"timestamp"`
}
