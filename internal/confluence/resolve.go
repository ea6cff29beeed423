package confluence

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// ErrBadPageRef means a page reference could not be resolved to a numeric
// page ID.
var ErrBadPageRef = errors.New("confluence: unresolvable page reference")

// pageIDPattern matches the /pages/{id} segment in Confluence page URLs.
var pageIDPattern = regexp.MustCompile(`/pages/(\d+)`)

// isDigits reports whether s is a non-empty string of ASCII digits.
func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

// ResolvePageID turns a page reference into a numeric page ID. Accepted
// forms: a bare numeric ID, a full page URL containing /pages/{id}, or a
// short link (/wiki/x/Abc or a tinyurl) which is resolved by following its
// redirect chain.
func (c *Client) ResolvePageID(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)

	if isDigits(ref) {
		return ref, nil
	}

	if m := pageIDPattern.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}

	if strings.Contains(ref, "/x/") || strings.Contains(ref, "tinyurl") {
		return c.resolveShortLink(ctx, ref)
	}

	return "", fmt.Errorf("%w: %q", ErrBadPageRef, ref)
}

// resolveShortLink follows the short link's redirects and extracts the page
// ID from the final URL. Short links are absolute URLs, so this bypasses
// Do's base-URL joining but still authenticates the request.
func (c *Client) resolveShortLink(ctx context.Context, link string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("confluence: creating short link request: %w", err)
	}

	if c.auth != nil {
		if err := c.auth.Authorize(ctx, req); err != nil {
			return "", fmt.Errorf("confluence: authorizing short link request: %w", err)
		}
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: resolving short link: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Message:    "resolving short link " + link,
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	// The http client followed redirects; the final URL carries the page ID.
	final := resp.Request.URL.String()
	if m := pageIDPattern.FindStringSubmatch(final); m != nil {
		return m[1], nil
	}

	return "", fmt.Errorf("%w: short link %q landed on %q", ErrBadPageRef, link, final)
}
