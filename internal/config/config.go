// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for confluence-go. It supports a
// three-layer override chain (defaults -> config file -> environment).
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Site    SiteConfig    `toml:"site"`
	OAuth   OAuthConfig   `toml:"oauth"`
	Cache   CacheConfig   `toml:"cache"`
	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`
}

// SiteConfig identifies the Confluence site and the basic auth
// credentials (Atlassian API token). URL is the wiki base, e.g.
// https://example.atlassian.net/wiki.
type SiteConfig struct {
	URL      string `toml:"url"`
	Username string `toml:"username"`
	APIToken string `toml:"api_token"`
}

// OAuthConfig holds the OAuth 2.0 refresh credentials. When all three
// of client_id, client_secret, and refresh_token are set, OAuth is used
// instead of basic auth. token_url overrides the Atlassian token
// endpoint, mainly for tests.
type OAuthConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RefreshToken string `toml:"refresh_token"`
	TokenURL     string `toml:"token_url"`
}

// CacheConfig controls where the page cache database lives.
type CacheConfig struct {
	Dir string `toml:"dir"`
}

// NetworkConfig controls HTTP behavior and retry budgets.
type NetworkConfig struct {
	Timeout          string `toml:"timeout"`
	RateLimitRetries int    `toml:"rate_limit_retries"`
	TransportRetries int    `toml:"transport_retries"`
	ConflictRetries  int    `toml:"conflict_retries"`
}

// LoggingConfig controls log output: level and format.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{Dir: DefaultDataDir()},
		Network: NetworkConfig{
			Timeout:          "30s",
			RateLimitRetries: 2,
			TransportRetries: 2,
			ConflictRetries:  3,
		},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
	}
}

// Load reads and parses a TOML config file and returns the resulting
// Config. Unknown keys are fatal errors with "did you mean?"
// suggestions; silently ignoring a typo in a config file leads to
// hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. This supports running with
// nothing but environment variables set.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}
