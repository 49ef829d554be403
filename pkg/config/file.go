package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML overlay. Only fields present in the file
// override the environment-derived values, so a partial file is fine.
type FileConfig struct {
	Port             *int    `yaml:"port,omitempty"`
	LogLevel         *string `yaml:"log_level,omitempty"`
	DatabaseURL      *string `yaml:"database_url,omitempty"`
	SQLitePath       *string `yaml:"sqlite_path,omitempty"`
	StreamBacklog    *int    `yaml:"stream_backlog,omitempty"`
	SubscriberBuffer *int    `yaml:"subscriber_buffer,omitempty"`
	RateLimitRPS     *int    `yaml:"rate_limit_rps,omitempty"`
	RateLimitBurst   *int    `yaml:"rate_limit_burst,omitempty"`
	OTelEnabled      *bool   `yaml:"otel_enabled,omitempty"`
	OTelEndpoint     *string `yaml:"otel_endpoint,omitempty"`
}

// LoadFile parses a YAML config file and applies it on top of cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}

	if fc.Port != nil {
		if *fc.Port <= 0 || *fc.Port > 65535 {
			return fmt.Errorf("config %q: invalid port %d", path, *fc.Port)
		}
		cfg.Port = *fc.Port
	}
	if fc.LogLevel != nil {
		cfg.LogLevel = *fc.LogLevel
	}
	if fc.DatabaseURL != nil {
		cfg.DatabaseURL = *fc.DatabaseURL
	}
	if fc.SQLitePath != nil {
		cfg.SQLitePath = *fc.SQLitePath
	}
	if fc.StreamBacklog != nil {
		cfg.StreamBacklog = *fc.StreamBacklog
	}
	if fc.SubscriberBuffer != nil {
		cfg.SubscriberBuffer = *fc.SubscriberBuffer
	}
	if fc.RateLimitRPS != nil {
		cfg.RateLimitRPS = *fc.RateLimitRPS
	}
	if fc.RateLimitBurst != nil {
		cfg.RateLimitBurst = *fc.RateLimitBurst
	}
	if fc.OTelEnabled != nil {
		cfg.OTelEnabled = *fc.OTelEnabled
	}
	if fc.OTelEndpoint != nil {
		cfg.OTelEndpoint = *fc.OTelEndpoint
	}
	return nil
}
