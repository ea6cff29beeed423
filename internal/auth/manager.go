// Package auth manages API credentials: an OAuth 2.0 token manager with
// rotating refresh tokens, and a static basic-auth fallback. The manager
// owns the in-memory credential set; all access goes through AccessToken.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/jpkarjala/confluence-go/internal/tokenfile"
)

var (
	// ErrNotConfigured means the manager has no usable OAuth credentials:
	// the client id or secret is missing, or there is neither a persisted
	// token nor a seed refresh token to exchange.
	ErrNotConfigured = errors.New("auth: oauth not configured")

	// ErrAuthExpired means the provider rejected the refresh token. OAuth
	// mode is dead for the process lifetime: retrying a rejected rotating
	// refresh token cannot succeed, and silently downgrading to basic auth
	// would mask an operator-visible problem.
	ErrAuthExpired = errors.New("auth: refresh token rejected")
)

// DefaultTokenURL is the Atlassian Cloud OAuth token endpoint.
const DefaultTokenURL = "https://auth.atlassian.com/oauth/token"

// expiryMargin treats tokens expiring this soon as already expired, so a
// token never dies mid-request.
const expiryMargin = 30 * time.Second

// refreshTimeout bounds a single token-endpoint exchange.
const refreshTimeout = 30 * time.Second

// Config holds the OAuth client settings.
type Config struct {
	ClientID     string
	ClientSecret string
	// InitialRefreshToken seeds the manager when no token file exists yet.
	InitialRefreshToken string
	// TokenURL defaults to DefaultTokenURL.
	TokenURL string
	// TokenPath is where the rotating credential set is persisted.
	TokenPath string
}

// Manager refreshes and persists the rotating credential set. Safe for
// concurrent use; concurrent refreshes are deduplicated to a single
// exchange because most providers invalidate the previous refresh token on
// rotation, and a duplicate exchange would orphan one caller with a dead
// token.
type Manager struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu   sync.Mutex // guards tok and dead
	tok  *oauth2.Token
	dead bool

	group singleflight.Group

	// now is the clock, overridable in tests.
	now func() time.Time
}

// NewManager loads any persisted credential set and returns a Manager.
// A missing token file is normal on first run: the manager starts from the
// configured initial refresh token. A corrupt token file is logged and
// discarded the same way, since re-seeding is the only recovery.
func NewManager(cfg Config, httpClient *http.Client, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: refreshTimeout}
	}

	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}

	m := &Manager{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
	}

	tok, err := tokenfile.Load(cfg.TokenPath)
	if err != nil {
		logger.Warn("token file unreadable, starting from seed refresh token",
			slog.String("path", cfg.TokenPath),
			slog.String("error", err.Error()),
		)
	}

	if tok != nil {
		m.tok = tok
		logger.Debug("loaded persisted credential set",
			slog.String("path", cfg.TokenPath),
			slog.Time("expiry", tok.Expiry),
		)
	} else {
		m.tok = &oauth2.Token{RefreshToken: cfg.InitialRefreshToken}
	}

	return m
}

// AccessToken returns a valid bearer token, refreshing first if the current
// one is expired or within the safety margin. The rotated credential set is
// persisted before the new token is returned; a persistence failure fails
// the whole call, because returning a token whose rotated refresh token was
// never saved risks permanent auth loss on the next restart.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if m.cfg.ClientID == "" || m.cfg.ClientSecret == "" {
		return "", ErrNotConfigured
	}

	m.mu.Lock()

	if m.dead {
		m.mu.Unlock()
		return "", ErrAuthExpired
	}

	if tok := m.tok; tok.AccessToken != "" && m.now().Add(expiryMargin).Before(tok.Expiry) {
		access := tok.AccessToken
		m.mu.Unlock()

		return access, nil
	}
	m.mu.Unlock()

	// Deduplicate concurrent refreshes: the second caller waits for the
	// first exchange's result instead of issuing its own.
	result, err, _ := m.group.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}

	access, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("auth: unexpected refresh result type %T", result)
	}

	return access, nil
}

// tokenResponse mirrors the token endpoint's JSON exactly.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// refresh performs one exchange against the token endpoint and persists the
// result. Runs inside the singleflight group.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.mu.Lock()

	// Another caller may have completed a refresh between the expiry check
	// and entering the group.
	if m.dead {
		m.mu.Unlock()
		return "", ErrAuthExpired
	}

	if tok := m.tok; tok.AccessToken != "" && m.now().Add(expiryMargin).Before(tok.Expiry) {
		access := tok.AccessToken
		m.mu.Unlock()

		return access, nil
	}

	refreshToken := m.tok.RefreshToken
	m.mu.Unlock()

	if refreshToken == "" {
		return "", ErrNotConfigured
	}

	m.logger.Info("refreshing access token", slog.String("endpoint", m.cfg.TokenURL))

	resp, err := m.exchange(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	newTok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       m.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	// Providers may omit the refresh token when it did not rotate.
	if newTok.RefreshToken == "" {
		newTok.RefreshToken = refreshToken
	}

	// Persist before exposing the new token. On failure the previously
	// persisted set stays intact on disk (Save is atomic) and in memory.
	if err := tokenfile.Save(m.cfg.TokenPath, newTok); err != nil {
		return "", fmt.Errorf("auth: persisting rotated token: %w", err)
	}

	m.mu.Lock()
	m.tok = newTok
	m.mu.Unlock()

	m.logger.Info("access token refreshed",
		slog.Time("expiry", newTok.Expiry),
		slog.Bool("refresh_token_rotated", resp.RefreshToken != ""),
	)

	return newTok.AccessToken, nil
}

// exchange posts the refresh grant to the token endpoint.
func (m *Manager) exchange(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	payload, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"client_id":     m.cfg.ClientID,
		"client_secret": m.cfg.ClientSecret,
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, fmt.Errorf("auth: encoding refresh request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("auth: creating refresh request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		// Transient: the refresh token was not consumed, a later call may
		// succeed. OAuth mode stays alive.
		return nil, fmt.Errorf("auth: token endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxRefreshErrorBytes))

		// 4xx means the grant itself was rejected: the refresh token is
		// dead and OAuth mode is over for this process. 5xx is transient
		// and the token was not consumed.
		if resp.StatusCode < http.StatusInternalServerError {
			m.mu.Lock()
			m.dead = true
			m.mu.Unlock()

			return nil, fmt.Errorf("%w: token endpoint returned HTTP %d: %s",
				ErrAuthExpired, resp.StatusCode, string(bytes.TrimSpace(body)))
		}

		return nil, fmt.Errorf("auth: token endpoint returned HTTP %d: %s",
			resp.StatusCode, string(bytes.TrimSpace(body)))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("auth: decoding token response: %w", err)
	}

	if tr.AccessToken == "" {
		return nil, fmt.Errorf("auth: token response missing access_token")
	}

	return &tr, nil
}

// maxRefreshErrorBytes caps how much of a token-endpoint error body is kept.
const maxRefreshErrorBytes = 1024

// Authorize implements the transport's Authenticator by injecting a bearer
// token.
func (m *Manager) Authorize(ctx context.Context, req *http.Request) error {
	tok, err := m.AccessToken(ctx)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+tok)

	return nil
}
