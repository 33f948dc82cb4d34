// Package config loads the daemon-level YAML configuration: work
// directory layout, FIFO names, sweep intervals, and listen addresses
// that the AFD_WORK_DIR environment variable and a scattering of
// compile-time constants covered in the original (spec §9 ambient
// stack).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the top-level daemon configuration file.
type Config struct {
	WorkDir string        `yaml:"work_dir"`
	FifoDir string        `yaml:"fifo_dir"`
	Sweep   SweepConfig   `yaml:"sweep"`
	Metrics MetricsConfig `yaml:"metrics"`
	Hosts   []string      `yaml:"host_config_files"`
}

// SweepConfig holds the maintenance intervals of the sweep section (DCS
// TTL sweep bounds, disk-full poll). Load and Validate check them, but no
// other package reads them: internal/dcs clamps its sweep bucket with its
// own DupcheckMin/DupcheckMax constants.
type SweepConfig struct {
	DupCheckMin    time.Duration `yaml:"dupcheck_min"`
	DupCheckMax    time.Duration `yaml:"dupcheck_max"`
	DiskFullRescan time.Duration `yaml:"disk_full_rescan"`
}

// MetricsConfig controls the prometheus collector in internal/metrics.
type MetricsConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Listen   string        `yaml:"listen"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when no file is present. Its
// DupCheckMax of 24h is not the bound internal/dcs applies (dcs.DupcheckMax
// is one hour).
func Default() Config {
	return Config{
		WorkDir: "/var/lib/afd",
		FifoDir: "/var/lib/afd/fifodir",
		Sweep: SweepConfig{
			DupCheckMin:    1 * time.Second,
			DupCheckMax:    24 * time.Hour,
			DiskFullRescan: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Listen:   ":9100",
			Interval: 10 * time.Second,
		},
	}
}

// Load reads and parses a YAML config file, filling in Default() for any
// zero-valued fields the file leaves unset.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants Load and Default both rely on.
func (c Config) Validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("config: work_dir must not be empty")
	}
	if c.FifoDir == "" {
		return fmt.Errorf("config: fifo_dir must not be empty")
	}
	if c.Sweep.DupCheckMin <= 0 || c.Sweep.DupCheckMax <= 0 {
		return fmt.Errorf("config: sweep.dupcheck_min/max must be positive")
	}
	if c.Sweep.DupCheckMin > c.Sweep.DupCheckMax {
		return fmt.Errorf("config: sweep.dupcheck_min must not exceed dupcheck_max")
	}
	return nil
}
