package confluence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Labels returns the names of all labels on a page.
func (c *Client) Labels(ctx context.Context, id string) ([]string, error) {
	path := fmt.Sprintf("/api/v2/pages/%s/labels", url.PathEscape(id))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Results []struct {
			Name string `json:"name"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("confluence: decoding labels response: %w", err)
	}

	names := make([]string, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		names = append(names, r.Name)
	}

	return names, nil
}

// labelEntry mirrors the v1 label payload.
type labelEntry struct {
	Prefix string `json:"prefix"`
	Name   string `json:"name"`
}

// AddLabels attaches global labels to a page. Label writes only exist in
// the v1 content API.
func (c *Client) AddLabels(ctx context.Context, id string, labels []string) error {
	entries := make([]labelEntry, 0, len(labels))
	for _, name := range labels {
		entries = append(entries, labelEntry{Prefix: "global", Name: name})
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("confluence: encoding labels: %w", err)
	}

	path := fmt.Sprintf("/rest/api/content/%s/label", url.PathEscape(id))

	resp, err := c.Do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	resp.Body.Close()

	return nil
}

// RemoveLabel detaches a label from a page. Removing a label that is not on
// the page is a no-op, not an error.
func (c *Client) RemoveLabel(ctx context.Context, id, label string) error {
	path := fmt.Sprintf("/rest/api/content/%s/label/%s", url.PathEscape(id), url.PathEscape(label))

	resp, err := c.Do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}

		return err
	}
	resp.Body.Close()

	return nil
}
