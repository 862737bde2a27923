// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where a config file is searched for,
// in priority order. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/coreindexd/config.yaml",
	"/etc/coreindexd/config.yml",
}

// ConfigPathEnvVar overrides the config file search with an explicit path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix namespaces every environment variable this package reads, so
// CORE_DATABASE_PATH maps to database.path and so on.
const EnvPrefix = "CORE_"

func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name: "coreindexd",
		},
		Database: DatabaseConfig{
			Path:    "coreindexd.db",
			DataDir: "./data",
		},
		Library: LibraryConfig{
			DefaultName: "default",
		},
		Indexing: IndexingConfig{
			BatchSize:                 1000,
			DiscoveryConcurrency:      2,
			StaleRescanInterval:       6 * time.Hour,
			EphemeralCacheIdleTimeout: 5 * time.Minute,
		},
		Watcher: WatcherConfig{
			TickInterval: 250 * time.Millisecond,
		},
		Jobs: JobsConfig{
			MaxWorkersPerName: 4,
		},
		Leader: LeaderConfig{
			HeartbeatInterval: 30 * time.Second,
			LeaseTimeout:      60 * time.Second,
			LeaseExtension:    90 * time.Second,
		},
		Transport: TransportConfig{
			Kind:           "local",
			EmbeddedServer: true,
			StoreDir:       "./data/nats",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Timestamp: true,
		},
	}
}

// Load reads configuration from built-in defaults, an optional YAML file,
// then environment variables (highest priority), the same three-layer
// koanf precedence the teacher uses for its own config, and validates the
// result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return cfg, nil
}

// envMappings maps every supported CORE_* environment variable to its
// koanf config path, the same explicit-table approach the teacher uses
// for its own legacy environment variable names rather than a lossy
// underscore-to-dot transform (which breaks on multi-word field names
// like data_dir).
var envMappings = map[string]string{
	"device_slug": "device.slug",
	"device_name": "device.name",

	"database_path":     "database.path",
	"database_data_dir": "database.data_dir",

	"library_default_name": "library.default_name",

	"indexing_batch_size":                 "indexing.batch_size",
	"indexing_discovery_concurrency":      "indexing.discovery_concurrency",
	"indexing_stale_rescan_interval":      "indexing.stale_rescan_interval",
	"indexing_ephemeral_cache_idle_timeout": "indexing.ephemeral_cache_idle_timeout",

	"watcher_tick_interval": "watcher.tick_interval",

	"jobs_max_workers_per_name": "jobs.max_workers_per_name",

	"leader_heartbeat_interval": "leader.heartbeat_interval",
	"leader_lease_timeout":      "leader.lease_timeout",
	"leader_lease_extension":    "leader.lease_extension",

	"transport_kind":            "transport.kind",
	"transport_nats_url":        "transport.nats_url",
	"transport_embedded_server": "transport.embedded_server",
	"transport_store_dir":       "transport.store_dir",

	"logging_level":     "logging.level",
	"logging_format":    "logging.format",
	"logging_caller":    "logging.caller",
	"logging_timestamp": "logging.timestamp",
}

// envTransformFunc maps CORE_DATABASE_PATH -> database.path via envMappings,
// matching the teacher's TAUTULLI_URL -> tautulli.url convention.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return key
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
