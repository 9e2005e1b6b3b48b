package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// StorageRoot overrides where the index, metadata and history files
	// live. Empty means the default data dir.
	StorageRoot string `yaml:"storage_root"`
	Model       string `yaml:"model"`
	// PermissionMode is the default recorded in new chat metadata.
	PermissionMode string `yaml:"permission_mode"`
	// MetadataDebounceMS bounds how often the metadata snapshot is written.
	MetadataDebounceMS int `yaml:"metadata_debounce_ms"`
	MaxSubagents       int `yaml:"max_subagents"`
}

func DefaultConfig() Config {
	return Config{
		Model:              "claude-sonnet-4-5",
		PermissionMode:     PermissionModeDefault,
		MetadataDebounceMS: 1000,
		MaxSubagents:       20,
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	cfg.PermissionMode = NormalizePermissionMode(cfg.PermissionMode)
	if cfg.MetadataDebounceMS <= 0 {
		cfg.MetadataDebounceMS = 1000
	}
	if cfg.MetadataDebounceMS > 10000 {
		cfg.MetadataDebounceMS = 10000
	}
	if cfg.MaxSubagents <= 0 {
		cfg.MaxSubagents = 20
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "agent-desk", "config.yml")
}

// DefaultStorageRoot resolves the storage directory, preferring the XDG data
// dir and falling back to ~/.local/share, then the temp dir.
func DefaultStorageRoot() string {
	if base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); base != "" {
		return filepath.Join(base, "agent-desk", "storage")
	}
	if base, err := os.UserHomeDir(); err == nil && base != "" {
		return filepath.Join(base, ".local", "share", "agent-desk", "storage")
	}
	return filepath.Join(os.TempDir(), "agent-desk", "storage")
}

// MetadataDebounce returns the configured debounce as a duration.
func (c Config) MetadataDebounce() time.Duration {
	ms := c.MetadataDebounceMS
	if ms <= 0 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

// ResolvedStorageRoot returns the effective storage root for this config.
func (c Config) ResolvedStorageRoot() string {
	if strings.TrimSpace(c.StorageRoot) != "" {
		return c.StorageRoot
	}
	return DefaultStorageRoot()
}
