package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"CoverLedger/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultEngineConfig_Valid(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "USDC", cfg.PoolAsset)
	assert.Equal(t, []string{"RLUSD"}, cfg.CoveredAssets)
	assert.Equal(t, 7*24*time.Hour, cfg.WithdrawalDelay)
	assert.Equal(t, time.Hour, cfg.FirstPhaseDelay)
	assert.Equal(t, 24*time.Hour, cfg.SecondPhaseDelay)
	assert.False(t, cfg.StartPaused)

	assert.Equal(t, []string{"STABLECOIN_DEPEG", "LIQUIDITY_SHORTAGE", "SMART_CONTRACT"}, cfg.BucketIDs())
	assert.Equal(t, []int64{4000, 2000, 4000}, cfg.BucketWeightsBP())
}

func TestLoadEngineConfig_OverridesDefaults(t *testing.T) {
	raw := `
pool_asset: USDC
covered_assets: [RLUSD, USDT]
start_paused: true
withdrawal_delay: 72h
first_phase_delay: 30m
second_phase_delay: 12h
buckets:
  - id: STABLECOIN_DEPEG
    weight_bp: 6000
  - id: SMART_CONTRACT
    weight_bp: 4000
`
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := config.LoadEngineConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"RLUSD", "USDT"}, cfg.CoveredAssets)
	assert.True(t, cfg.StartPaused)
	assert.Equal(t, 72*time.Hour, cfg.WithdrawalDelay)
	assert.Equal(t, 30*time.Minute, cfg.FirstPhaseDelay)
	assert.Equal(t, 12*time.Hour, cfg.SecondPhaseDelay)
	assert.Equal(t, []int64{6000, 4000}, cfg.BucketWeightsBP())
}

func TestLoadEngineConfig_MissingFile(t *testing.T) {
	_, err := config.LoadEngineConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEngineConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.EngineConfig)
	}{
		{"empty pool asset", func(c *config.EngineConfig) { c.PoolAsset = "" }},
		{"no covered assets", func(c *config.EngineConfig) { c.CoveredAssets = nil }},
		{"no buckets", func(c *config.EngineConfig) { c.Buckets = nil }},
		{"weights not 10000bp", func(c *config.EngineConfig) { c.Buckets[0].WeightBP = 3000 }},
		{"duplicate bucket id", func(c *config.EngineConfig) { c.Buckets[1].ID = c.Buckets[0].ID }},
		{"zero weight", func(c *config.EngineConfig) { c.Buckets[0].WeightBP = 0 }},
		{"zero withdrawal delay", func(c *config.EngineConfig) { c.WithdrawalDelay = 0 }},
		{"zero phase delay", func(c *config.EngineConfig) { c.FirstPhaseDelay = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultEngineConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
