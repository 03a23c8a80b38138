// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For operations that require provider or signing credentials, use the Validate* helpers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// HTTP
	HTTPAddr string

	// Remote translation provider
	ProviderBaseURL string
	ProviderTimeout time.Duration

	// OAuth client credentials for the provider API
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string

	// Channel credential signing
	AppID         string
	AppSecret     string
	CredentialTTL time.Duration

	// Sessions
	SessionTTL    time.Duration
	MaxSessions   int
	SweepInterval time.Duration
}

// Load reads environment variables and applies defaults. It doesn't fail when provider
// credentials are missing; use ValidateProviderReady/ValidateIssuerReady at the point
// where an operation actually needs them.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.ProviderBaseURL = os.Getenv("PROVIDER_BASE_URL")
	if cfg.ProviderBaseURL == "" {
		cfg.ProviderBaseURL = "https://api.falavox.io"
	}
	var err error
	if cfg.ProviderTimeout, err = envDuration("PROVIDER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.OAuthTokenURL = os.Getenv("OAUTH_TOKEN_URL")
	if cfg.OAuthTokenURL == "" {
		cfg.OAuthTokenURL = cfg.ProviderBaseURL + "/oauth2/token"
	}
	cfg.OAuthClientID = os.Getenv("OAUTH_CLIENT_ID")
	cfg.OAuthClientSecret = os.Getenv("OAUTH_CLIENT_SECRET")

	cfg.AppID = os.Getenv("APP_ID")
	cfg.AppSecret = os.Getenv("APP_SECRET")
	if cfg.CredentialTTL, err = envDuration("CREDENTIAL_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	if cfg.SessionTTL, err = envDuration("SESSION_TTL", time.Hour); err != nil {
		return nil, err
	}
	cfg.MaxSessions = envInt("MAX_SESSIONS", 10)
	if cfg.MaxSessions <= 0 {
		return nil, fmt.Errorf("MAX_SESSIONS must be positive, got %d", cfg.MaxSessions)
	}
	if cfg.SweepInterval, err = envDuration("SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateProviderReady checks required fields for calling the remote translation provider.
func (c *Config) ValidateProviderReady() error {
	if c.OAuthClientID == "" || c.OAuthClientSecret == "" {
		return fmt.Errorf("missing provider env: require OAUTH_CLIENT_ID, OAUTH_CLIENT_SECRET")
	}
	return nil
}

// ValidateIssuerReady checks required fields for signing channel credentials.
func (c *Config) ValidateIssuerReady() error {
	if c.AppID == "" || c.AppSecret == "" {
		return fmt.Errorf("missing signing env: require APP_ID, APP_SECRET")
	}
	return nil
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration, e.g. 30m): %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}
