package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Version is one entry in a page's revision history.
type Version struct {
	Number    int
	Message   string
	AuthorID  string
	CreatedAt string
}

// versionListResponse mirrors the v2 API version collection JSON.
type versionListResponse struct {
	Results []struct {
		Number    int    `json:"number"`
		Message   string `json:"message"`
		AuthorID  string `json:"authorId"`
		CreatedAt string `json:"createdAt"`
	} `json:"results"`
	Links paginatedLinks `json:"_links"`
}

// ListVersions returns a page's revision history, newest first.
func (c *Client) ListVersions(ctx context.Context, id string, limit int, cursor string) ([]Version, string, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	if cursor != "" {
		q.Set("cursor", cursor)
	}

	path := fmt.Sprintf("/api/v2/pages/%s/versions?%s", url.PathEscape(id), q.Encode())

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var vlr versionListResponse
	if err := json.NewDecoder(resp.Body).Decode(&vlr); err != nil {
		return nil, "", fmt.Errorf("confluence: decoding versions response: %w", err)
	}

	versions := make([]Version, 0, len(vlr.Results))
	for _, r := range vlr.Results {
		versions = append(versions, Version{
			Number:    r.Number,
			Message:   r.Message,
			AuthorID:  r.AuthorID,
			CreatedAt: r.CreatedAt,
		})
	}

	return versions, vlr.Links.nextCursor(), nil
}
