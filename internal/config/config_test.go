// SPDX-License-Identifier: AGPL-3.0-or-later
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateDatabase(t *testing.T) {
	cfg := defaultConfig()
	cfg.Database.DataDir = ""
	require.Error(t, cfg.Validate())
}

func TestValidateIndexingRejectsNegative(t *testing.T) {
	cfg := defaultConfig()
	cfg.Indexing.BatchSize = -1
	require.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Indexing.DiscoveryConcurrency = -1
	require.Error(t, cfg.Validate())
}

func TestValidateJobsRejectsNegative(t *testing.T) {
	cfg := defaultConfig()
	cfg.Jobs.MaxWorkersPerName = -1
	require.Error(t, cfg.Validate())
}

func TestValidateTransportKind(t *testing.T) {
	cfg := defaultConfig()
	cfg.Transport.Kind = "carrier-pigeon"
	require.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Transport.Kind = "relay"
	cfg.Transport.EmbeddedServer = false
	cfg.Transport.NATSURL = ""
	require.Error(t, cfg.Validate())

	cfg.Transport.NATSURL = "nats://localhost:4222"
	require.NoError(t, cfg.Validate())
}

func TestValidateLoggingEnums(t *testing.T) {
	cfg := defaultConfig()
	cfg.Logging.Level = "chatty"
	require.Error(t, cfg.Validate())

	cfg = defaultConfig()
	cfg.Logging.Format = "xml"
	require.Error(t, cfg.Validate())
}

func TestLoadAppliesFileOverDefaultsThenEnv(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
device:
  slug: from-file
database:
  data_dir: /var/lib/coreindexd
indexing:
  batch_size: 500
`), 0o644))

	t.Setenv(ConfigPathEnvVar, configPath)
	t.Setenv("CORE_DEVICE_SLUG", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Device.Slug)
	require.Equal(t, "/var/lib/coreindexd", cfg.Database.DataDir)
	require.Equal(t, 500, cfg.Indexing.BatchSize)
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, defaultConfig().Indexing.BatchSize, cfg.Indexing.BatchSize)
}

func TestEnvTransformFuncFallsBackToLowercasedKey(t *testing.T) {
	require.Equal(t, "database.path", envTransformFunc("CORE_DATABASE_PATH"))
	require.Equal(t, "unmapped_field", envTransformFunc("CORE_UNMAPPED_FIELD"))
}
