package confluence

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// staticAuth is a test Authenticator that sets a fixed bearer token.
type staticAuth string

func (a staticAuth) Authorize(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+string(a))
	return nil
}

// newTestClient creates a Client pointing at the given httptest server
// with instant retry sleeps for fast tests.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(url, http.DefaultClient, staticAuth("test-token"), DefaultRetryPolicy(), nil)
	c.sleepFunc = noopSleep

	return c
}

// sleepRecorder captures the durations the client waited between retries.
type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), http.MethodGet, "/api/v2/pages/1", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"value":"ok"}`, string(body))
}

func TestDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		sentinel error
	}{
		{"bad request", http.StatusBadRequest, ErrBadRequest},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"conflict", http.StatusConflict, ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"something"}`))
			}))
			defer srv.Close()

			client := newTestClient(t, srv.URL)
			_, err := client.Do(context.Background(), http.MethodGet, "/test", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)

			// Client errors are never retried.
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestDo_RateLimitHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	client := newTestClient(t, srv.URL)
	client.sleepFunc = rec.sleep

	resp, err := client.Do(context.Background(), http.MethodGet, "/throttle", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, rec.delays, 1)
	assert.Equal(t, 3*time.Second, rec.delays[0])
}

func TestDo_RateLimitDefaultDelay(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	client := newTestClient(t, srv.URL)
	client.sleepFunc = rec.sleep

	resp, err := client.Do(context.Background(), http.MethodGet, "/throttle", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, rec.delays, 1)
	assert.Equal(t, 2*time.Second, rec.delays[0])
}

func TestDo_RateLimitHintCapped(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "600")
			w.WriteHeader(http.StatusTooManyRequests)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	client := newTestClient(t, srv.URL)
	client.sleepFunc = rec.sleep

	resp, err := client.Do(context.Background(), http.MethodGet, "/throttle", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.Len(t, rec.delays, 1)
	assert.Equal(t, 10*time.Second, rec.delays[0])
}

func TestDo_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Do(context.Background(), http.MethodGet, "/throttle", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	// Initial call plus two delayed retries.
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_RateLimitSucceedsAfterTwoRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), http.MethodGet, "/throttle", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_RetryOn5xx(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Do(context.Background(), http.MethodGet, "/retry", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ServerErrorExhausted(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Do(context.Background(), http.MethodGet, "/broken", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServer)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_NetworkErrorRetriedThenFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	srv.Close() // all connections refused

	client := newTestClient(t, srv.URL)
	_, err := client.Do(context.Background(), http.MethodGet, "/gone", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)

	// The underlying cause survives the wrapping.
	var urlErr *url.Error
	assert.ErrorAs(t, err, &urlErr)
}

// failingAuth is a test Authenticator whose credentials are gone for good.
type failingAuth struct {
	err   error
	calls atomic.Int32
}

func (a *failingAuth) Authorize(_ context.Context, _ *http.Request) error {
	a.calls.Add(1)
	return a.err
}

func TestDo_AuthFailureNotRetried(t *testing.T) {
	var serverCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		serverCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	errTokenDead := errors.New("refresh token rejected")
	auth := &failingAuth{err: errTokenDead}

	recorder := &sleepRecorder{}
	client := NewClient(srv.URL, http.DefaultClient, auth, DefaultRetryPolicy(), nil)
	client.sleepFunc = recorder.sleep

	_, err := client.Do(context.Background(), http.MethodGet, "/api/v2/pages/1", nil)
	require.Error(t, err)

	// The credential error propagates intact, without burning the
	// transport budget or masquerading as a network failure.
	assert.ErrorIs(t, err, errTokenDead)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.Equal(t, int32(1), auth.calls.Load())
	assert.Equal(t, int32(0), serverCalls.Load())
	assert.Empty(t, recorder.delays)
}

func TestDo_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(t, srv.URL)
	_, err := client.Do(ctx, http.MethodGet, "/test", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"absent", "", 0},
		{"integer seconds", "5", 5 * time.Second},
		{"zero", "0", 0},
		{"negative", "-3", 0},
		{"http date unsupported", "Wed, 21 Oct 2026 07:28:00 GMT", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}

			assert.Equal(t, tt.want, parseRetryAfter(resp))
		})
	}
}

func TestCalcBackoff_Bounds(t *testing.T) {
	for attempt := range 8 {
		d := calcBackoff(attempt)
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, maxBackoff+maxBackoff/4)
	}
}
