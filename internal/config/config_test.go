package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config.yaml present

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "statsync.db", cfg.Store.Path)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 2, cfg.Circuit.SuccessThreshold)
	assert.Equal(t, 30, cfg.Circuit.TimeoutMinutes)
	assert.Equal(t, 0.85, cfg.Resolver.FuzzyThreshold)
	assert.True(t, cfg.Resolver.AutoCreate)
	assert.Equal(t, "jobs.yaml", cfg.Sources.JobsFile)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("STATSYNC_STORE_DRIVER", "postgres")
	t.Setenv("STATSYNC_CIRCUIT_FAILURE_THRESHOLD", "3")
	t.Setenv("STATSYNC_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Circuit.FailureThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestCircuitConfig_OpenTimeout(t *testing.T) {
	cfg := CircuitConfig{TimeoutMinutes: 30}
	assert.Equal(t, "30m0s", cfg.OpenTimeout().String())
}

func TestInitLogger_BadLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
	assert.NoError(t, InitLogger(LogConfig{Level: "info", Format: "console"}))
}
