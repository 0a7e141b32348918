// Package config holds process-wide configuration for the memory substrate.
// Configuration is loaded once at startup and passed by reference to the
// components that need it; there are no package-level singletons.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all memory substrate configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Record store configuration
	Memory MemoryConfig `yaml:"memory"`

	// Knowledge graph configuration
	Graph GraphConfig `yaml:"graph"`

	// Maintenance engine configuration
	Pruning PruningConfig `yaml:"pruning"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// MemoryConfig configures the record store.
type MemoryConfig struct {
	// Directory holding partition files and the index sidecar
	Dir string `yaml:"dir"`
}

// GraphConfig configures graph storage and the rebuild watcher.
type GraphConfig struct {
	Dir             string `yaml:"dir"`
	BackupsEnabled  bool   `yaml:"backups_enabled"`
	BackupRetention int    `yaml:"backup_retention"` // newest N backups kept per kind
	WatchRebuild    bool   `yaml:"watch_rebuild"`
	RebuildDebounce string `yaml:"rebuild_debounce"` // e.g. "2s"
}

// PruningConfig configures the maintenance engine's retention policy
// and execution behavior.
type PruningConfig struct {
	MaxAgeDays               float64  `yaml:"max_age_days"`
	MaxSizeMB                float64  `yaml:"max_size_mb"`
	MaxEntries               int      `yaml:"max_entries"`
	PreservePatterns         []string `yaml:"preserve_patterns"`
	CompressionThresholdDays float64  `yaml:"compression_threshold_days"`
	RedundancyThreshold      float64  `yaml:"redundancy_threshold"`
	BackupBeforePrune        bool     `yaml:"backup_before_prune"`
	Schedule                 string   `yaml:"schedule"` // cron expression, empty = manual only
	Parallelism              int      `yaml:"parallelism"`
}

// LoggingConfig configures the categorized debug logging.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig(workspace string) *Config {
	return &Config{
		Name:    "documcp-memory",
		Version: "1.0.0",
		Memory: MemoryConfig{
			Dir: filepath.Join(workspace, "memory"),
		},
		Graph: GraphConfig{
			Dir:             filepath.Join(workspace, "graph"),
			BackupsEnabled:  true,
			BackupRetention: 10,
			WatchRebuild:    false,
			RebuildDebounce: "2s",
		},
		Pruning: PruningConfig{
			MaxAgeDays:               180,
			MaxSizeMB:                500,
			MaxEntries:               100000,
			PreservePatterns:         []string{"configuration", "deployment"},
			CompressionThresholdDays: 30,
			RedundancyThreshold:      0.85,
			BackupBeforePrune:        true,
			Parallelism:              4,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults for
// a missing file. Invalid values are rejected, never clamped.
func Load(path, workspace string) (*Config, error) {
	cfg := DefaultConfig(workspace)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the configuration for values that would corrupt retention
// behavior if silently accepted.
func (c *Config) Validate() error {
	if c.Memory.Dir == "" {
		return fmt.Errorf("config: memory.dir is required")
	}
	if c.Graph.Dir == "" {
		return fmt.Errorf("config: graph.dir is required")
	}
	if c.Graph.BackupRetention < 1 {
		return fmt.Errorf("config: graph.backup_retention must be at least 1, got %d", c.Graph.BackupRetention)
	}
	p := c.Pruning
	if p.MaxAgeDays <= 0 {
		return fmt.Errorf("config: pruning.max_age_days must be positive, got %v", p.MaxAgeDays)
	}
	if p.MaxSizeMB <= 0 {
		return fmt.Errorf("config: pruning.max_size_mb must be positive, got %v", p.MaxSizeMB)
	}
	if p.MaxEntries <= 0 {
		return fmt.Errorf("config: pruning.max_entries must be positive, got %d", p.MaxEntries)
	}
	if p.RedundancyThreshold <= 0 || p.RedundancyThreshold > 1 {
		return fmt.Errorf("config: pruning.redundancy_threshold must be in (0, 1], got %v", p.RedundancyThreshold)
	}
	if p.Parallelism < 1 {
		return fmt.Errorf("config: pruning.parallelism must be at least 1, got %d", p.Parallelism)
	}
	return nil
}
