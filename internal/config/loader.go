package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".livedesk"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"

	envPrefix = "livedesk"
)

// ConfigPath returns the path to the config file. LIVEDESK_CONFIG overrides
// the default ~/.livedesk/config.json.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("LIVEDESK_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load reads the config file (if present), applies defaults, then overlays
// environment variables with the LIVEDESK_ prefix.
func Load() (*Config, error) {
	cfg := &Config{}

	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment are a complete configuration.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyDefaults(cfg)

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Path == "" {
		home, _ := os.UserHomeDir()
		cfg.Store.Path = filepath.Join(home, ConfigDir, "livedesk.db")
	}
	if cfg.Gateway.Addr == "" {
		cfg.Gateway.Addr = ":8740"
	}
	if cfg.Analytics.Topic == "" {
		cfg.Analytics.Topic = "chat-analytics"
	}
	if cfg.Slack.Channel == "" {
		cfg.Slack.Channel = "#live-chat"
	}
}

// Save writes the config back to its file, creating the directory as
// needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
