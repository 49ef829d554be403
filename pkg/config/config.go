// Package config loads Hookline server configuration from the environment,
// with an optional YAML file overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Port             int
	LogLevel         string
	DatabaseURL      string
	SQLitePath       string
	StreamBacklog    int
	SubscriberBuffer int
	RateLimitRPS     int
	RateLimitBurst   int
	OTelEnabled      bool
	OTelEndpoint     string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             4000,
		LogLevel:         "INFO",
		SQLitePath:       "data/events.db",
		StreamBacklog:    50,
		SubscriberBuffer: 64,
		RateLimitRPS:     50,
		RateLimitBurst:   100,
		OTelEndpoint:     "localhost:4317",
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}

	var err error
	if cfg.StreamBacklog, err = intEnv("STREAM_BACKLOG", cfg.StreamBacklog); err != nil {
		return nil, err
	}
	if cfg.SubscriberBuffer, err = intEnv("SUBSCRIBER_BUFFER", cfg.SubscriberBuffer); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = intEnv("RATE_LIMIT_RPS", cfg.RateLimitRPS); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = intEnv("RATE_LIMIT_BURST", cfg.RateLimitBurst); err != nil {
		return nil, err
	}

	cfg.OTelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	if v := os.Getenv("OTEL_ENDPOINT"); v != "" {
		cfg.OTelEndpoint = v
	}

	return cfg, nil
}

func intEnv(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}
