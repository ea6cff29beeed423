package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jpkarjala/confluence-go/internal/tokenfile"
)

type exchangeRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// newTokenEndpoint serves the OAuth token endpoint, recording exchanges
// and handing out numbered access and refresh tokens.
func newTokenEndpoint(t *testing.T, respond func(n int32, req exchangeRequest, w http.ResponseWriter)) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req exchangeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "refresh_token", req.GrantType)

		respond(calls.Add(1), req, w)
	}))
	t.Cleanup(srv.Close)

	return srv, &calls
}

func writeTokenJSON(w http.ResponseWriter, access, refresh string, expiresIn int64) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    expiresIn,
	})
}

func newTestManager(t *testing.T, tokenURL, seed string) *Manager {
	t.Helper()

	return NewManager(Config{
		ClientID:            "client-id",
		ClientSecret:        "client-secret",
		InitialRefreshToken: seed,
		TokenURL:            tokenURL,
		TokenPath:           filepath.Join(t.TempDir(), "token.json"),
	}, http.DefaultClient, nil)
}

func TestAccessToken_RefreshRotatesAndPersists(t *testing.T) {
	srv, calls := newTokenEndpoint(t, func(_ int32, req exchangeRequest, w http.ResponseWriter) {
		assert.Equal(t, "seed-rt", req.RefreshToken)
		assert.Equal(t, "client-id", req.ClientID)
		assert.Equal(t, "client-secret", req.ClientSecret)
		writeTokenJSON(w, "access-1", "rotated-rt", 3600)
	})

	m := newTestManager(t, srv.URL, "seed-rt")

	access, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)
	assert.Equal(t, int32(1), calls.Load())

	// The rotated set must be on disk, not just in memory.
	tok, err := tokenfile.Load(m.cfg.TokenPath)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "rotated-rt", tok.RefreshToken)
}

func TestAccessToken_ValidTokenNotRefreshed(t *testing.T) {
	srv, calls := newTokenEndpoint(t, func(_ int32, _ exchangeRequest, w http.ResponseWriter) {
		writeTokenJSON(w, "access-1", "rotated-rt", 3600)
	})

	m := newTestManager(t, srv.URL, "seed-rt")

	first, err := m.AccessToken(context.Background())
	require.NoError(t, err)

	second, err := m.AccessToken(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAccessToken_ExpiryMarginForcesRefresh(t *testing.T) {
	srv, calls := newTokenEndpoint(t, func(n int32, _ exchangeRequest, w http.ResponseWriter) {
		writeTokenJSON(w, "access-"+string(rune('0'+n)), "rt", 3600)
	})

	m := newTestManager(t, srv.URL, "seed-rt")

	_, err := m.AccessToken(context.Background())
	require.NoError(t, err)

	// Advance the clock to 10s before expiry, inside the 30s margin.
	m.now = func() time.Time { return time.Now().Add(3590 * time.Second) }

	_, err = m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAccessToken_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	srv, _ := newTokenEndpoint(t, func(_ int32, _ exchangeRequest, w http.ResponseWriter) {
		writeTokenJSON(w, "access-1", "", 3600)
	})

	m := newTestManager(t, srv.URL, "seed-rt")

	_, err := m.AccessToken(context.Background())
	require.NoError(t, err)

	tok, err := tokenfile.Load(m.cfg.TokenPath)
	require.NoError(t, err)
	assert.Equal(t, "seed-rt", tok.RefreshToken)
}

func TestAccessToken_ConcurrentCallersShareOneExchange(t *testing.T) {
	release := make(chan struct{})

	srv, calls := newTokenEndpoint(t, func(_ int32, _ exchangeRequest, w http.ResponseWriter) {
		<-release
		writeTokenJSON(w, "access-1", "rotated-rt", 3600)
	})

	m := newTestManager(t, srv.URL, "seed-rt")

	const workers = 8

	var wg sync.WaitGroup
	tokens := make([]string, workers)

	for i := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			tok, err := m.AccessToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}()
	}

	// Let the callers pile up on the in-flight exchange before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())

	for _, tok := range tokens {
		assert.Equal(t, "access-1", tok)
	}
}

func TestAccessToken_RejectionKillsOAuthForProcess(t *testing.T) {
	srv, calls := newTokenEndpoint(t, func(_ int32, _ exchangeRequest, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	m := newTestManager(t, srv.URL, "dead-rt")

	_, err := m.AccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthExpired)

	// Subsequent calls fail fast without touching the endpoint again.
	_, err = m.AccessToken(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAccessToken_ServerErrorIsTransient(t *testing.T) {
	srv, calls := newTokenEndpoint(t, func(n int32, _ exchangeRequest, w http.ResponseWriter) {
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		writeTokenJSON(w, "access-1", "rt", 3600)
	})

	m := newTestManager(t, srv.URL, "seed-rt")

	_, err := m.AccessToken(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthExpired)

	// A later call retries the exchange and succeeds.
	access, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAccessToken_PersistFailureLeavesSavedTokenIntact(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not bind root")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")

	// A previously persisted set whose access token has expired, so the
	// next call must refresh.
	require.NoError(t, tokenfile.Save(path, &oauth2.Token{
		AccessToken:  "stale-access",
		RefreshToken: "persisted-rt",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	srv, calls := newTokenEndpoint(t, func(_ int32, req exchangeRequest, w http.ResponseWriter) {
		assert.Equal(t, "persisted-rt", req.RefreshToken)
		writeTokenJSON(w, "access-2", "rotated-rt", 3600)
	})

	m := NewManager(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     srv.URL,
		TokenPath:    path,
	}, http.DefaultClient, nil)

	// Make the token directory unwritable so persisting the rotated set
	// fails after a successful exchange.
	require.NoError(t, os.Chmod(dir, 0o500))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o700) })

	_, err := m.AccessToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persisting rotated token")
	assert.Equal(t, int32(1), calls.Load())

	// The previously persisted set is untouched on disk.
	require.NoError(t, os.Chmod(dir, 0o700))

	tok, err := tokenfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "stale-access", tok.AccessToken)
	assert.Equal(t, "persisted-rt", tok.RefreshToken)

	// Once the directory is writable again the refresh goes through and
	// the rotated set lands on disk.
	access, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", access)
	assert.Equal(t, int32(2), calls.Load())

	tok, err = tokenfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rotated-rt", tok.RefreshToken)
}

func TestAccessToken_NotConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no client credentials", Config{}},
		{"missing client secret", Config{ClientID: "client-id", InitialRefreshToken: "rt"}},
		{"no refresh token anywhere", Config{ClientID: "client-id", ClientSecret: "client-secret"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.TokenURL = "http://unused.invalid"
			tt.cfg.TokenPath = filepath.Join(t.TempDir(), "token.json")

			m := NewManager(tt.cfg, http.DefaultClient, nil)

			_, err := m.AccessToken(context.Background())
			assert.ErrorIs(t, err, ErrNotConfigured)
		})
	}
}

func TestNewManager_CorruptTokenFileFallsBackToSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	srv, _ := newTokenEndpoint(t, func(_ int32, req exchangeRequest, w http.ResponseWriter) {
		assert.Equal(t, "seed-rt", req.RefreshToken)
		writeTokenJSON(w, "access-1", "rt", 3600)
	})

	m := NewManager(Config{
		ClientID:            "client-id",
		ClientSecret:        "client-secret",
		InitialRefreshToken: "seed-rt",
		TokenURL:            srv.URL,
		TokenPath:           path,
	}, http.DefaultClient, nil)

	access, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)
}

func TestNewManager_ResumesFromPersistedToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")

	require.NoError(t, tokenfile.Save(path, &oauth2.Token{
		AccessToken:  "persisted-access",
		RefreshToken: "persisted-rt",
		Expiry:       time.Now().Add(time.Hour),
	}))

	m := NewManager(Config{
		ClientID:            "client-id",
		ClientSecret:        "client-secret",
		InitialRefreshToken: "seed-rt",
		TokenURL:            "http://unused.invalid",
		TokenPath:           path,
	}, http.DefaultClient, nil)

	access, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "persisted-access", access)
}

func TestAuthorize_SetsBearerHeader(t *testing.T) {
	srv, _ := newTokenEndpoint(t, func(_ int32, _ exchangeRequest, w http.ResponseWriter) {
		writeTokenJSON(w, "access-1", "rt", 3600)
	})

	m := newTestManager(t, srv.URL, "seed-rt")

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://example.invalid", nil)
	require.NoError(t, err)

	require.NoError(t, m.Authorize(context.Background(), req))
	assert.Equal(t, "Bearer access-1", req.Header.Get("Authorization"))
}

func TestBasic_Authorize(t *testing.T) {
	b := NewBasic("user@example.com", "api-token")

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://example.invalid", nil)
	require.NoError(t, err)

	require.NoError(t, b.Authorize(context.Background(), req))

	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "user@example.com", user)
	assert.Equal(t, "api-token", pass)
}
