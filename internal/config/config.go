package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// BucketWeight is one risk bucket's configured share of the pool.
type BucketWeight struct {
	ID       string `yaml:"id"`
	WeightBP int64  `yaml:"weight_bp"`
}

// EngineConfig is the settlement engine's domain configuration. Operational
// settings (DSNs, URLs, ports) stay in the environment; this file carries the
// parameters that define pool behavior.
type EngineConfig struct {
	PoolAsset     string         `yaml:"pool_asset"`
	CoveredAssets []string       `yaml:"covered_assets"`
	Buckets       []BucketWeight `yaml:"buckets"`
	StartPaused   bool           `yaml:"start_paused"`

	WithdrawalDelay  time.Duration `yaml:"withdrawal_delay"`
	FirstPhaseDelay  time.Duration `yaml:"first_phase_delay"`
	SecondPhaseDelay time.Duration `yaml:"second_phase_delay"`
}

// DefaultEngineConfig mirrors the shipped config file.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PoolAsset:     "USDC",
		CoveredAssets: []string{"RLUSD"},
		Buckets: []BucketWeight{
			{ID: "STABLECOIN_DEPEG", WeightBP: 4000},
			{ID: "LIQUIDITY_SHORTAGE", WeightBP: 2000},
			{ID: "SMART_CONTRACT", WeightBP: 4000},
		},
		StartPaused:      false,
		WithdrawalDelay:  7 * 24 * time.Hour,
		FirstPhaseDelay:  time.Hour,
		SecondPhaseDelay: 24 * time.Hour,
	}
}

// LoadEngineConfig reads a YAML config file. Omitted fields keep defaults.
func LoadEngineConfig(path string) (EngineConfig, error) {
	cfg := DefaultEngineConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read engine config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse engine config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the config is internally consistent.
func (c EngineConfig) Validate() error {
	if c.PoolAsset == "" {
		return fmt.Errorf("pool_asset is required")
	}
	if len(c.CoveredAssets) == 0 {
		return fmt.Errorf("at least one covered asset is required")
	}
	if len(c.Buckets) == 0 {
		return fmt.Errorf("at least one bucket is required")
	}

	seen := make(map[string]bool, len(c.Buckets))
	var total int64
	for _, b := range c.Buckets {
		if b.ID == "" {
			return fmt.Errorf("bucket id must not be empty")
		}
		if seen[b.ID] {
			return fmt.Errorf("duplicate bucket id %q", b.ID)
		}
		seen[b.ID] = true
		if b.WeightBP <= 0 {
			return fmt.Errorf("bucket %q has non-positive weight %d", b.ID, b.WeightBP)
		}
		total += b.WeightBP
	}
	if total != 10000 {
		return fmt.Errorf("bucket weights sum to %dbp, want 10000bp", total)
	}

	if c.WithdrawalDelay <= 0 {
		return fmt.Errorf("withdrawal_delay must be positive")
	}
	if c.FirstPhaseDelay <= 0 || c.SecondPhaseDelay <= 0 {
		return fmt.Errorf("payout phase delays must be positive")
	}

	return nil
}

// BucketIDs returns bucket ids in configured order
func (c EngineConfig) BucketIDs() []string {
	ids := make([]string, len(c.Buckets))
	for i, b := range c.Buckets {
		ids[i] = b.ID
	}
	return ids
}

// BucketWeightsBP returns bucket weights in configured order
func (c EngineConfig) BucketWeightsBP() []int64 {
	weights := make([]int64, len(c.Buckets))
	for i, b := range c.Buckets {
		weights[i] = b.WeightBP
	}
	return weights
}
