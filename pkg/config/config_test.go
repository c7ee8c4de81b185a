package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Pool.TickIntervalMs)
	assert.Equal(t, 2000, cfg.Jobs.PollIntervalMs)
	assert.Equal(t, "queue", cfg.Workspace.Backend)
	assert.Equal(t, "file", cfg.Recent.Backend)
}

func TestLoad_OverridesAndInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
pool:
  tick_interval_ms: -5
  sample_concurrency: 2
  max_capacity: -1
workspace:
  backend: memory
recent:
  backend: sqlite
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Pool.TickIntervalMs, "negative interval falls back to default")
	assert.Equal(t, 2, cfg.Pool.SampleConcurrency)
	assert.Equal(t, 0, cfg.Pool.MaxCapacity)
	assert.Equal(t, "memory", cfg.Workspace.Backend)
	assert.Equal(t, "file", cfg.Recent.Backend, "unknown backend falls back to file")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestInit_ReadsConfigPathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: debug\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	require.NoError(t, Init())
	require.NotNil(t, GlobalConfig)
	assert.Equal(t, "debug", GlobalConfig.Logger.Level)
}
