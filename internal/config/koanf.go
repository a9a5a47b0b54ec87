// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"readnest.yaml",
	"readnest.yml",
	"/etc/readnest/config.yaml",
	"/etc/readnest/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "READNEST_CONFIG"

// defaultConfig returns a Config with all default values. These are applied
// first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:            "",
			Timeout:        30 * time.Second,
			RatePerSecond:  10,
			RateBurst:      20,
			BreakerEnabled: true,
		},
		OAuth: OAuthConfig{
			Providers: []string{"kakao", "naver", "google"},
		},
		Notify: NotifyConfig{
			Enabled:          true,
			Endpoint:         "/ws",
			PingInterval:     30 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			ReconnectInitial: 1 * time.Second,
			ReconnectMax:     32 * time.Second,
		},
		Storage: StorageConfig{
			Path:     "/data/readnest",
			InMemory: false,
		},
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    4680,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds configuration using Koanf v2 with layered sources:
//
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
//
// Precedence: ENV > file > defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile searches the env override and then the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied through environment variables.
var sliceConfigPaths = []string{
	"oauth.providers",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars arrive as strings; the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps READNEST_-prefixed environment variable names to
// koanf config paths. Unprefixed or unmapped variables return an empty
// string and are skipped, which keeps unrelated environment state out of
// the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if !strings.HasPrefix(key, "readnest_") {
		return ""
	}
	key = strings.TrimPrefix(key, "readnest_")

	envMappings := map[string]string{
		"backend_url":             "backend.url",
		"backend_timeout":         "backend.timeout",
		"backend_rate_per_second": "backend.rate_per_second",
		"backend_rate_burst":      "backend.rate_burst",
		"backend_breaker_enabled": "backend.breaker_enabled",

		"oauth_providers": "oauth.providers",

		"notify_enabled":           "notify.enabled",
		"notify_endpoint":          "notify.endpoint",
		"notify_ping_interval":     "notify.ping_interval",
		"notify_handshake_timeout": "notify.handshake_timeout",
		"notify_reconnect_initial": "notify.reconnect_initial",
		"notify_reconnect_max":     "notify.reconnect_max",

		"storage_path":      "storage.path",
		"storage_in_memory": "storage.in_memory",

		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
