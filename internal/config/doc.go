// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package config provides centralized configuration management for coreindexd.

# Configuration Sources

Three layers, in increasing priority:

  - Defaults: built-in, covering every field
  - Config File: optional YAML file (config.yaml), see DefaultConfigPaths
  - Environment Variables: CORE_-prefixed, see envMappings in koanf.go

# Usage

	cfg, err := config.Load()
	if err != nil {
	    logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

# Thread Safety

Config is immutable after Load() returns and safe for concurrent read access.
*/
package config
