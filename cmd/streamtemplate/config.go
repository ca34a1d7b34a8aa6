package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the CLI configuration file format. Every field is optional;
// flags override file values.
type Config struct {
	ChunkTargetSize int    `yaml:"chunk_target_size"`
	BufferBytes     int    `yaml:"buffer_bytes"`
	MaxInFlight     int    `yaml:"max_in_flight"`
	MemoryLimitMB   int64  `yaml:"memory_limit_mb"`
	Strategy        string `yaml:"chunk_strategy"`

	EnhancedThresholdKB  int     `yaml:"enhanced_threshold_kb"`
	StreamingThresholdKB int     `yaml:"streaming_threshold_kb"`
	EdgeCaseThreshold    int     `yaml:"edge_case_threshold"`
	ComplexityThreshold  float64 `yaml:"complexity_threshold"`

	ViewportAnalysis     bool  `yaml:"viewport_analysis"`
	AdvancedOptimization *bool `yaml:"advanced_optimization"`
	Aggressive           bool  `yaml:"aggressive"`
	PerChunkTimeoutMS    int   `yaml:"per_chunk_timeout_ms"`
	Minify               bool  `yaml:"minify"`

	PlanCachePath string `yaml:"plan_cache_path"`
}

// loadConfig reads a yaml config file. A missing path yields an empty
// config rather than an error.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
