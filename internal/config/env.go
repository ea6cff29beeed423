package config

import "os"

// Environment variable names for overrides. Credential variables exist
// so that secrets can be kept out of the config file entirely.
const (
	EnvConfig            = "CONFLUENCE_GO_CONFIG"
	EnvCacheDir          = "CONFLUENCE_GO_CACHE_DIR"
	EnvURL               = "CONFLUENCE_URL"
	EnvUsername          = "CONFLUENCE_USERNAME"
	EnvAPIToken          = "CONFLUENCE_API_TOKEN"
	EnvOAuthClientID     = "CONFLUENCE_OAUTH_CLIENT_ID"
	EnvOAuthClientSecret = "CONFLUENCE_OAUTH_CLIENT_SECRET"
	EnvOAuthRefreshToken = "CONFLUENCE_OAUTH_REFRESH_TOKEN"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath        string
	CacheDir          string
	URL               string
	Username          string
	APIToken          string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRefreshToken string
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:        os.Getenv(EnvConfig),
		CacheDir:          os.Getenv(EnvCacheDir),
		URL:               os.Getenv(EnvURL),
		Username:          os.Getenv(EnvUsername),
		APIToken:          os.Getenv(EnvAPIToken),
		OAuthClientID:     os.Getenv(EnvOAuthClientID),
		OAuthClientSecret: os.Getenv(EnvOAuthClientSecret),
		OAuthRefreshToken: os.Getenv(EnvOAuthRefreshToken),
	}
}
