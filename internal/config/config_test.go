package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, 0.60, cfg.Gate.ClarifyThreshold)
	assert.Equal(t, 0.70, cfg.Gate.ConfirmThreshold)
	assert.Equal(t, 0.85, cfg.Gate.ProceedThreshold)
	assert.Equal(t, 20*time.Second, cfg.Budgets.ToolTimeout)
	assert.Equal(t, 30*time.Second, cfg.Budgets.SoftExit)
	assert.Equal(t, 300*time.Second, cfg.Budgets.HardCeiling)
	assert.Equal(t, 5, cfg.Research.MaxParallelWorkers)
	assert.Equal(t, 0.3, cfg.Research.BlendWeight)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, 3, cfg.Retriever.Retry.MaxAttempts)
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inquest.yaml")
	content := `
gate:
  clarify_threshold: 0.5
  confirm_threshold: 0.65
  proceed_threshold: 0.9
research:
  max_parallel_workers: 3
  blend_weight: 0.5
session:
  backend: redis
  redis_addr: redis:6379
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Gate.ClarifyThreshold)
	assert.Equal(t, 3, cfg.Research.MaxParallelWorkers)
	assert.Equal(t, 0.5, cfg.Research.BlendWeight)
	assert.Equal(t, "redis", cfg.Session.Backend)
	assert.Equal(t, "redis:6379", cfg.Session.RedisAddr)
	// Untouched knobs keep their defaults.
	assert.Equal(t, 20*time.Second, cfg.Budgets.ToolTimeout)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFile("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"thresholds out of order", func(c *Config) { c.Gate.ConfirmThreshold = 0.5 }},
		{"proceed above one", func(c *Config) { c.Gate.ProceedThreshold = 1.2 }},
		{"soft exit below tool timeout", func(c *Config) { c.Budgets.SoftExit = 10 * time.Second }},
		{"hard ceiling below soft exit", func(c *Config) { c.Budgets.HardCeiling = time.Second }},
		{"zero workers", func(c *Config) { c.Research.MaxParallelWorkers = 0 }},
		{"zero permits", func(c *Config) { c.Research.RetrievalPermits = 0 }},
		{"blend weight above one", func(c *Config) { c.Research.BlendWeight = 1.5 }},
		{"zero retry attempts", func(c *Config) { c.Retriever.Retry.MaxAttempts = 0 }},
		{"unknown session backend", func(c *Config) { c.Session.Backend = "dynamo" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base().Validate())
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inquest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gate:\n  clarify_threshold: 0.9\n"), 0o644))
	_, err := LoadFile(path)
	assert.Error(t, err)
}
