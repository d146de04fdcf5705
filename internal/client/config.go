package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the CLI's connection settings, read from
// ~/.config/brandpilot/config.yaml and overridable by flags.
type Config struct {
	ServerURL  string        `yaml:"server_url"`
	CronSecret string        `yaml:"cron_secret,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	CacheDir   string        `yaml:"cache_dir,omitempty"`
	MaxRetries uint          `yaml:"max_retries,omitempty"`
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL:  "http://localhost:8080",
		Timeout:    30 * time.Second,
		MaxRetries: 5,
	}
}

// DefaultConfigPath returns ~/.config/brandpilot/config.yaml, honouring XDG_CONFIG_HOME.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(dir, "brandpilot", "config.yaml"), nil
}

// LoadConfig reads the YAML config at path over the defaults. A missing file
// yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML config %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the config to path with owner-only permissions, since it may
// hold the scheduler secret.
func (c Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
