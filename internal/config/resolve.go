package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// File names inside the data directory.
const (
	cacheDBFileName = "pages.db"
	tokenFileName   = "oauth_token.json"
	defaultTimeout  = 30 * time.Second
)

// AuthMode selects how requests are authenticated.
type AuthMode string

const (
	// AuthBasic uses the site username and Atlassian API token.
	AuthBasic AuthMode = "basic"
	// AuthOAuth uses the OAuth refresh token flow with rotation.
	AuthOAuth AuthMode = "oauth"
)

// ErrNoCredentials is returned when neither OAuth nor basic credentials
// are configured.
var ErrNoCredentials = errors.New("config: no credentials configured")

// Resolved is the fully resolved runtime configuration after applying
// defaults, the config file, and environment overrides.
type Resolved struct {
	URL      string
	Username string
	APIToken string

	AuthMode          AuthMode
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRefreshToken string
	OAuthTokenURL     string

	CacheDir  string
	DBPath    string
	TokenPath string

	Timeout          time.Duration
	RateLimitRetries int
	TransportRetries int
	ConflictRetries  int

	LogLevel  string
	LogFormat string
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables. cliConfigPath comes
// from the --config flag and wins over CONFLUENCE_GO_CONFIG.
func Resolve(env EnvOverrides, cliConfigPath string, logger *slog.Logger) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}
	if cliConfigPath != "" {
		cfgPath = cliConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	r := &Resolved{
		URL:               firstNonEmpty(env.URL, cfg.Site.URL),
		Username:          firstNonEmpty(env.Username, cfg.Site.Username),
		APIToken:          firstNonEmpty(env.APIToken, cfg.Site.APIToken),
		OAuthClientID:     firstNonEmpty(env.OAuthClientID, cfg.OAuth.ClientID),
		OAuthClientSecret: firstNonEmpty(env.OAuthClientSecret, cfg.OAuth.ClientSecret),
		OAuthRefreshToken: firstNonEmpty(env.OAuthRefreshToken, cfg.OAuth.RefreshToken),
		OAuthTokenURL:     cfg.OAuth.TokenURL,
		CacheDir:          firstNonEmpty(env.CacheDir, cfg.Cache.Dir),
		RateLimitRetries:  cfg.Network.RateLimitRetries,
		TransportRetries:  cfg.Network.TransportRetries,
		ConflictRetries:   cfg.Network.ConflictRetries,
		LogLevel:          cfg.Logging.Level,
		LogFormat:         cfg.Logging.Format,
	}

	if r.URL == "" {
		return nil, fmt.Errorf("config: site URL not set (set site.url in %s or %s)", cfgPath, EnvURL)
	}
	r.URL = strings.TrimRight(r.URL, "/")

	r.Timeout = defaultTimeout
	if cfg.Network.Timeout != "" {
		d, err := time.ParseDuration(cfg.Network.Timeout)
		if err != nil {
			return nil, fmt.Errorf("config: invalid network.timeout %q: %w", cfg.Network.Timeout, err)
		}
		r.Timeout = d
	}

	r.DBPath = filepath.Join(r.CacheDir, cacheDBFileName)
	r.TokenPath = filepath.Join(r.CacheDir, tokenFileName)

	if err := r.resolveAuthMode(logger); err != nil {
		return nil, err
	}

	return r, nil
}

// resolveAuthMode picks OAuth when the full credential triple is
// present. A partial triple falls back to basic auth with a warning so
// that a single missing variable does not silently change auth paths.
func (r *Resolved) resolveAuthMode(logger *slog.Logger) error {
	oauthSet := 0
	for _, v := range []string{r.OAuthClientID, r.OAuthClientSecret, r.OAuthRefreshToken} {
		if v != "" {
			oauthSet++
		}
	}

	switch {
	case oauthSet == 3:
		r.AuthMode = AuthOAuth
		return nil
	case oauthSet > 0:
		logger.Warn("incomplete OAuth configuration, falling back to basic auth",
			"client_id_set", r.OAuthClientID != "",
			"client_secret_set", r.OAuthClientSecret != "",
			"refresh_token_set", r.OAuthRefreshToken != "")
	}

	if r.Username == "" || r.APIToken == "" {
		return fmt.Errorf("%w: set either the OAuth triple (%s, %s, %s) or basic credentials (%s, %s)",
			ErrNoCredentials, EnvOAuthClientID, EnvOAuthClientSecret, EnvOAuthRefreshToken,
			EnvUsername, EnvAPIToken)
	}

	r.AuthMode = AuthBasic

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
