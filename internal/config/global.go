// Package config loads ringwrap's global defaults.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Marker is replaced in the wrapper command by the run's output path.
const Marker = "@@@"

// GlobalConfig holds global ringwrap settings from ~/.ringwrap/config.yaml.
// Command-line flags override every field.
type GlobalConfig struct {
	// Keep is the number of output directories to retain.
	Keep uint64 `yaml:"keep"`
	// OutDir is the output base directory. Empty disables output directories.
	OutDir string `yaml:"outdir"`
	// Wrapper is the tracer command; Marker is replaced by the output path.
	Wrapper string `yaml:"wrapper"`
	// Unique keeps records for the same command apart.
	Unique string `yaml:"unique"`
	// ShmDir is where shared records and their locks live.
	ShmDir string `yaml:"shm_dir"`

	Debug DebugConfig `yaml:"debug"`
}

// DebugConfig holds debug logging settings.
type DebugConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// DefaultGlobalConfig returns the default global configuration.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Keep:    10,
		OutDir:  "/tmp/ringwrap-strace/",
		Wrapper: "strace -f -ff -t -o " + Marker,
		Unique:  "X",
		Debug: DebugConfig{
			RetentionDays: 14,
		},
	}
}

// LoadGlobal reads ~/.ringwrap/config.yaml and applies environment overrides.
func LoadGlobal() (*GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	if data, err := os.ReadFile(filepath.Join(GlobalConfigDir(), "config.yaml")); err == nil {
		_ = yaml.Unmarshal(data, cfg) // Ignore unmarshal errors, use defaults
	}

	if v := os.Getenv("RINGWRAP_KEEP"); v != "" {
		if keep, err := strconv.ParseUint(v, 0, 64); err == nil {
			cfg.Keep = keep
		}
	}
	if v, ok := os.LookupEnv("RINGWRAP_OUTDIR"); ok {
		cfg.OutDir = v
	}
	if v := os.Getenv("RINGWRAP_WRAPPER"); v != "" {
		cfg.Wrapper = v
	}
	if v := os.Getenv("RINGWRAP_UNIQUE"); v != "" {
		cfg.Unique = v
	}
	if v := os.Getenv("RINGWRAP_SHM_DIR"); v != "" {
		cfg.ShmDir = v
	}

	return cfg, nil
}

// GlobalConfigDir returns the path to ~/.ringwrap.
func GlobalConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".ringwrap")
	}
	return filepath.Join(homeDir, ".ringwrap")
}
