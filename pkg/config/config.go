// Package config loads the election tuning parameters shared by the
// Registrar and Node binaries.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the recognized options from the deployment's environment.
type Config struct {
	RegistryPort        int  `yaml:"registry_port"`
	ElectionTimeoutMs   int  `yaml:"election_timeout_ms"`
	HeartbeatIntervalMs int  `yaml:"heartbeat_interval_ms"`
	MaxRounds           int  `yaml:"max_rounds"`
	NetworkDelayMs      int  `yaml:"network_delay_ms"`
	ForwardRetries      int  `yaml:"forward_retries"`
	RetryDelayMs        int  `yaml:"retry_delay_ms"`
	Debug               bool `yaml:"debug"`
}

// Default returns the configuration with every option at its spec-defined
// default value.
func Default() Config {
	return Config{
		RegistryPort:        1099,
		ElectionTimeoutMs:   60000,
		HeartbeatIntervalMs: 5000,
		MaxRounds:           5,
		NetworkDelayMs:      500,
		ForwardRetries:      15,
		RetryDelayMs:        1500,
		Debug:               false,
	}
}

// ElectionTimeout is ElectionTimeoutMs as a time.Duration.
func (c Config) ElectionTimeout() time.Duration {
	return time.Duration(c.ElectionTimeoutMs) * time.Millisecond
}

// HeartbeatInterval is HeartbeatIntervalMs as a time.Duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// NetworkDelay is NetworkDelayMs as a time.Duration.
func (c Config) NetworkDelay() time.Duration {
	return time.Duration(c.NetworkDelayMs) * time.Millisecond
}

// RetryDelay is RetryDelayMs as a time.Duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// LoadFromFile reads a YAML config file and fills in any field the file
// omits (or every field, if path is empty) with the spec default.
func LoadFromFile(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	// Decode into the already-defaulted struct so omitted YAML keys keep
	// their default value instead of zeroing out.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}
