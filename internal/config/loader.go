package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"toolgate/internal/api"
	"toolgate/pkg/logging"
)

// Environment variables overriding file configuration. The state secret in
// particular should come from the environment rather than land on disk.
const (
	EnvListen      = "TOOLGATE_LISTEN"
	EnvBaseURL     = "TOOLGATE_BASE_URL"
	EnvStateSecret = "TOOLGATE_STATE_SECRET"
)

// LoadConfig loads configuration from a single YAML file, applies
// environment overrides, and fills defaults. A missing file is not an
// error; toolgate starts with defaults and an empty server list.
func LoadConfig(configPath string) (Config, error) {
	config := GetDefaultConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config file found at %s, using defaults", configPath)
			applyEnvOverrides(&config)
			return withStateSecretDefault(config), nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configPath, err)
	}

	applyEnvOverrides(&config)

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	for _, server := range config.Servers {
		if server.Type == "" {
			server.Type = api.ServerTypeSSE
		}
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s (%d servers)", configPath, len(config.Servers))
	return withStateSecretDefault(config), nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv(EnvListen); v != "" {
		config.Listen = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		config.BaseURL = v
	}
	if v := os.Getenv(EnvStateSecret); v != "" {
		config.StateSecret = v
	}
}

func withStateSecretDefault(config Config) Config {
	if config.StateSecret == "" {
		logging.Warn("ConfigLoader", "No state secret configured, using an insecure built-in default; set %s for anything beyond local development", EnvStateSecret)
		config.StateSecret = devStateSecret
	}
	return config
}
