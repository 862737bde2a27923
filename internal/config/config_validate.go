// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import "fmt"

// Validate checks that every section of loaded configuration is internally
// consistent, matching the teacher's per-section Validate breakdown.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateIndexing(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDatabase() error {
	if c.Database.DataDir == "" {
		return fmt.Errorf("database.data_dir is required")
	}
	return nil
}

func (c *Config) validateIndexing() error {
	if c.Indexing.BatchSize < 0 {
		return fmt.Errorf("indexing.batch_size must be >= 0, got %d", c.Indexing.BatchSize)
	}
	if c.Indexing.DiscoveryConcurrency < 0 {
		return fmt.Errorf("indexing.discovery_concurrency must be >= 0, got %d", c.Indexing.DiscoveryConcurrency)
	}
	return nil
}

func (c *Config) validateJobs() error {
	if c.Jobs.MaxWorkersPerName < 0 {
		return fmt.Errorf("jobs.max_workers_per_name must be >= 0, got %d", c.Jobs.MaxWorkersPerName)
	}
	return nil
}

func (c *Config) validateTransport() error {
	switch c.Transport.Kind {
	case "local", "relay", "quic":
	default:
		return fmt.Errorf("transport.kind must be local, relay or quic, got %q", c.Transport.Kind)
	}
	if c.Transport.Kind == "relay" && !c.Transport.EmbeddedServer {
		if c.Transport.NATSURL == "" {
			return fmt.Errorf("transport.nats_url is required when transport.kind=relay and embedded_server=false")
		}
		return validateHTTPOrNATSURL(c.Transport.NATSURL, "transport.nats_url")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("logging.level %q is not a recognized level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
