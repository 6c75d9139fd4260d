package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultFillsEveryRequiredSetting(t *testing.T) {
	cfg := Default()
	require.Equal(t, "sqlite", cfg.Storage.Type)
	require.Equal(t, 256, cfg.Queue.BatchBudget)
	require.Equal(t, 3, cfg.Worker.MaxRetries)
	require.Equal(t, 5.0, cfg.STAC.RateLimitPerSecond)
}

func TestLoadOverlaysYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: worker
worker:
  concurrency: 16
  datacubes: [mycube_10, mycube_20]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "worker", cfg.Mode)
	require.Equal(t, 16, cfg.Worker.Concurrency)
	require.Equal(t, []string{"mycube_10", "mycube_20"}, cfg.Worker.Datacubes)
	// Unset fields still carry Default()'s values.
	require.Equal(t, 3, cfg.Worker.MaxRetries)
	require.Equal(t, "sqlite", cfg.Storage.Type)
}

func TestLoadToleratesMissingConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default().Mode, cfg.Mode)
}

func TestApplyEnvOverridesSwitchesStorageToPostgres(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/cubebuilder")
	cfg := Default()
	applyEnvOverrides(cfg)
	require.Equal(t, "postgres", cfg.Storage.Type)
	require.Equal(t, "postgres://localhost/cubebuilder", cfg.Storage.PostgresDSN)
}

func TestApplyEnvOverridesRedisAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis.internal:6380")
	cfg := Default()
	applyEnvOverrides(cfg)
	require.Equal(t, "redis.internal:6380", cfg.Queue.RedisAddr)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Worker.Concurrency = 32
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 32, loaded.Worker.Concurrency)
}
