// Readnest - Social Reading Platform Client for Go
// Copyright 2026 Readnest Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/readnest/readnest-go

// Package config loads and validates Readnest client configuration from
// layered sources: built-in defaults, an optional YAML file, and environment
// variables (highest priority).
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Readnest client.
type Config struct {
	Backend BackendConfig `koanf:"backend"`
	OAuth   OAuthConfig   `koanf:"oauth"`
	Notify  NotifyConfig  `koanf:"notify"`
	Storage StorageConfig `koanf:"storage"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// BackendConfig describes the platform REST backend.
type BackendConfig struct {
	// URL is the backend base URL, e.g. https://api.readnest.io
	URL string `koanf:"url" validate:"required"`

	// Timeout bounds a single backend request including the silent-refresh
	// retry.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RatePerSecond caps outbound request rate; 0 disables the limiter.
	RatePerSecond float64 `koanf:"rate_per_second" validate:"gte=0"`

	// RateBurst is the limiter burst size when the limiter is enabled.
	RateBurst int `koanf:"rate_burst" validate:"gte=0"`

	// BreakerEnabled wraps the API client in a circuit breaker.
	BreakerEnabled bool `koanf:"breaker_enabled"`
}

// OAuthConfig describes the external identity-provider redirect contract.
// The backend hosts the authorization endpoints; the client only builds the
// redirect URL and receives the callback.
type OAuthConfig struct {
	// Providers is the closed set of accepted provider names.
	Providers []string `koanf:"providers" validate:"min=1"`
}

// NotifyConfig describes the realtime notification channel.
type NotifyConfig struct {
	Enabled bool `koanf:"enabled"`

	// Endpoint is the websocket endpoint path on the backend, e.g. /ws.
	// An absolute ws:// or wss:// URL overrides the backend host.
	Endpoint string `koanf:"endpoint"`

	// PingInterval is how often keep-alive pings are sent.
	PingInterval time.Duration `koanf:"ping_interval" validate:"gt=0"`

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout" validate:"gt=0"`

	// ReconnectInitial and ReconnectMax bound the exponential backoff used
	// after an unexpected disconnect.
	ReconnectInitial time.Duration `koanf:"reconnect_initial" validate:"gt=0"`
	ReconnectMax     time.Duration `koanf:"reconnect_max" validate:"gt=0"`
}

// StorageConfig describes the durable client state store.
type StorageConfig struct {
	// Path is the BadgerDB directory for tokens and the session snapshot.
	Path string `koanf:"path"`

	// InMemory runs the store without persistence. Development only.
	InMemory bool `koanf:"in_memory"`
}

// ServerConfig describes the loopback HTTP surface (OAuth callback, status,
// metrics).
type ServerConfig struct {
	Host    string        `koanf:"host" validate:"required"`
	Port    int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// CallbackURL returns the loopback OAuth callback URL the backend should
// redirect to after provider login.
func (c *Config) CallbackURL() string {
	return fmt.Sprintf("http://%s:%d/auth/callback", c.Server.Host, c.Server.Port)
}

// ListenAddr returns the loopback server listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// NotifyURL resolves the websocket endpoint against the backend base URL.
// Returns an empty string when the channel is not configured.
func (c *Config) NotifyURL() string {
	ep := c.Notify.Endpoint
	if ep == "" {
		return ""
	}
	if strings.HasPrefix(ep, "ws://") || strings.HasPrefix(ep, "wss://") {
		return ep
	}

	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = ep
	u.RawQuery = ""
	return u.String()
}

// HasProvider reports whether name is one of the configured OAuth providers.
func (c *Config) HasProvider(name string) bool {
	for _, p := range c.OAuth.Providers {
		if p == name {
			return true
		}
	}
	return false
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.url must be an absolute http(s) URL, got %q", c.Backend.URL)
	}

	if c.Notify.Enabled && c.NotifyURL() == "" {
		return fmt.Errorf("notify.enabled is set but no websocket endpoint is configured")
	}
	if c.Notify.ReconnectInitial > c.Notify.ReconnectMax {
		return fmt.Errorf("notify.reconnect_initial (%s) exceeds notify.reconnect_max (%s)",
			c.Notify.ReconnectInitial, c.Notify.ReconnectMax)
	}

	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required unless storage.in_memory is set")
	}

	return nil
}
