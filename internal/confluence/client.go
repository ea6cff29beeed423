package confluence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Backoff shape for the transport retry path.
const (
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "confluence-go/0.1"
)

// RetryPolicy bounds the client's internal retry loops. The zero value is
// not useful; use DefaultRetryPolicy.
type RetryPolicy struct {
	// RateLimitRetries is the number of delayed retries after a 429.
	RateLimitRetries int
	// TransportRetries is the number of backoff retries after a network
	// error or retryable 5xx.
	TransportRetries int
	// RateLimitDelay is used when a 429 carries no Retry-After header.
	RateLimitDelay time.Duration
	// MaxRateLimitDelay caps a server-supplied Retry-After hint.
	MaxRateLimitDelay time.Duration
	// ConflictRetries is consumed by the sync engine, not the client:
	// the number of refetch-and-replay attempts after a version conflict.
	ConflictRetries int
}

// DefaultRetryPolicy matches the behavior the MCP tool layer expects:
// two delayed retries on rate limiting, two backoff retries on transport
// failure, three conflict replays.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RateLimitRetries:  2,
		TransportRetries:  2,
		RateLimitDelay:    2 * time.Second,
		MaxRateLimitDelay: 10 * time.Second,
		ConflictRetries:   3,
	}
}

// Authenticator injects credentials into an outbound request. Defined at
// the consumer per Go convention "accept interfaces, return structs";
// internal/auth provides the bearer and basic implementations.
type Authenticator interface {
	Authorize(ctx context.Context, req *http.Request) error
}

// Client is an HTTP client for the Confluence REST API. It handles request
// construction, authentication, rate-limit and transport retries, and error
// classification. All retry waits are part of the synchronous call chain:
// total latency is bounded by attempts x max delay, and context
// cancellation aborts any wait.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
	policy     RetryPolicy
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Confluence API client. baseURL is the site root,
// e.g. "https://example.atlassian.net/wiki"; a trailing slash is stripped.
func NewClient(baseURL string, httpClient *http.Client, auth Authenticator, policy RetryPolicy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		auth:       auth,
		policy:     policy,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// BaseURL returns the configured site root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes an HTTP request against the API. The path is appended to the
// client's base URL. For non-nil bodies, Content-Type is set to
// application/json. The body is a byte slice rather than an io.Reader so
// retries can resend it from the start. The caller is responsible for
// closing the response body on success.
//
// Rate-limited responses (429) are retried after the server's Retry-After
// hint, or the policy default when the hint is absent, up to
// RateLimitRetries. Network errors and retryable 5xx responses are retried
// with exponential backoff up to TransportRetries. Other non-2xx responses
// return an *APIError immediately.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := c.baseURL + path

	var rateLimitAttempt, transportAttempt int

	for {
		resp, err := c.doOnce(ctx, method, url, body)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("confluence: request canceled: %w", ctx.Err())
			}

			// Credential failures are not transport failures: retrying
			// cannot fix a dead refresh token, and the caller needs the
			// auth sentinel intact.
			var authErr *authorizeError
			if errors.As(err, &authErr) {
				return nil, fmt.Errorf("confluence: %w", err)
			}

			if transportAttempt < c.policy.TransportRetries {
				backoff := calcBackoff(transportAttempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", transportAttempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("confluence: request canceled: %w", sleepErr)
				}

				transportAttempt++

				continue
			}

			return nil, fmt.Errorf("%w: %s %s after %d retries: %w",
				ErrTransport, method, path, c.policy.TransportRetries, err)
		}

		// 2xx is success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if resp.StatusCode == http.StatusTooManyRequests && rateLimitAttempt < c.policy.RateLimitRetries {
			delay := c.rateLimitDelay(resp)
			c.logger.Warn("rate limited, retrying",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", rateLimitAttempt+1),
				slog.Duration("delay", delay),
			)

			if err := c.sleepFunc(ctx, delay); err != nil {
				return nil, fmt.Errorf("confluence: request canceled: %w", err)
			}

			rateLimitAttempt++

			continue
		}

		if isServerRetryable(resp.StatusCode) && transportAttempt < c.policy.TransportRetries {
			backoff := calcBackoff(transportAttempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", transportAttempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("confluence: request canceled: %w", err)
			}

			transportAttempt++

			continue
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(errBody)),
			RetryAfter: parseRetryAfter(resp),
			Err:        classifyStatus(resp.StatusCode),
		}

		if rateLimitAttempt > 0 || transportAttempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("rate_limit_attempts", rateLimitAttempt),
				slog.Int("transport_attempts", transportAttempt),
			)
		}

		return nil, apiErr
	}
}

// maxErrorBodyBytes caps how much of an error response body is kept for the
// error message.
const maxErrorBodyBytes = 2048

// authorizeError marks a failure from the Authenticator so Do can tell it
// apart from a network error. Unwrap keeps the auth sentinels reachable
// through errors.Is.
type authorizeError struct {
	err error
}

func (e *authorizeError) Error() string {
	return "authorizing request: " + e.err.Error()
}

func (e *authorizeError) Unwrap() error {
	return e.err
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.auth != nil {
		if err := c.auth.Authorize(ctx, req); err != nil {
			return nil, &authorizeError{err: err}
		}
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// rateLimitDelay returns how long to wait before retrying a 429. The
// server's Retry-After hint wins when present and sane; otherwise the
// policy default applies. Hints are capped so a hostile or confused server
// cannot park a caller for minutes.
func (c *Client) rateLimitDelay(resp *http.Response) time.Duration {
	if hint := parseRetryAfter(resp); hint > 0 {
		if hint > c.policy.MaxRateLimitDelay {
			return c.policy.MaxRateLimitDelay
		}

		return hint
	}

	return c.policy.RateLimitDelay
}

// parseRetryAfter reads an integer-seconds Retry-After header.
// Returns 0 when absent or unparseable.
func parseRetryAfter(resp *http.Response) time.Duration {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}

	seconds, err := strconv.Atoi(ra)
	if err != nil || seconds <= 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

// calcBackoff computes exponential backoff with ±25% jitter.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
