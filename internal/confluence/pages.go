package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Page is a normalized Confluence page with its ADF body. Version is the
// number last reported by the remote system; the client never computes one.
type Page struct {
	ID      string
	Title   string
	SpaceID string
	Version int
	Body    json.RawMessage // ADF document
}

// pageResponse mirrors the v2 API page JSON exactly.
// Unexported; callers use Page via toPage() normalization.
type pageResponse struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	SpaceID string `json:"spaceId"`
	Version struct {
		Number  int    `json:"number"`
		Message string `json:"message"`
	} `json:"version"`
	Body struct {
		AtlasDocFormat struct {
			Value string `json:"value"`
		} `json:"atlas_doc_format"` //nolint:tagliatelle // Confluence API key
	} `json:"body"`
}

// toPage normalizes a v2 API page response. The ADF body arrives
// double-encoded (a JSON string holding a JSON document); an empty or
// missing value normalizes to an empty ADF doc.
func (p *pageResponse) toPage() (*Page, error) {
	body := json.RawMessage(`{}`)

	if v := p.Body.AtlasDocFormat.Value; v != "" {
		if !json.Valid([]byte(v)) {
			return nil, fmt.Errorf("confluence: page %s has malformed ADF body", p.ID)
		}

		body = json.RawMessage(v)
	}

	return &Page{
		ID:      p.ID,
		Title:   p.Title,
		SpaceID: p.SpaceID,
		Version: p.Version.Number,
		Body:    body,
	}, nil
}

// GetPage fetches a page with its ADF body from the v2 API.
func (c *Client) GetPage(ctx context.Context, id string) (*Page, error) {
	path := fmt.Sprintf("/api/v2/pages/%s?body-format=atlas_doc_format", url.PathEscape(id))

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var pr pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("confluence: decoding page response: %w", err)
	}

	return pr.toPage()
}

// updatePageRequest mirrors the v2 API page update payload.
type updatePageRequest struct {
	ID      string            `json:"id"`
	Status  string            `json:"status"`
	Title   string            `json:"title"`
	Version updateVersionInfo `json:"version"`
	Body    adfBodyValue      `json:"body"`
}

type updateVersionInfo struct {
	Number  int    `json:"number"`
	Message string `json:"message,omitempty"`
}

type adfBodyValue struct {
	Representation string `json:"representation"`
	Value          string `json:"value"`
}

// UpdatePage publishes a new page revision. baseVersion is the version the
// edit was made against; the remote expects baseVersion+1 and answers 409
// (surfaced as ErrConflict) when someone else got there first. Conflict
// handling is deliberately not done here: only the sync engine has the
// recorded transform needed to replay the edit against a fresh base.
func (c *Client) UpdatePage(ctx context.Context, id, title string, baseVersion int, body json.RawMessage, message string) (*Page, error) {
	payload, err := json.Marshal(updatePageRequest{
		ID:     id,
		Status: "current",
		Title:  title,
		Version: updateVersionInfo{
			Number:  baseVersion + 1,
			Message: message,
		},
		Body: adfBodyValue{
			Representation: "atlas_doc_format",
			Value:          string(body),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("confluence: encoding page update: %w", err)
	}

	path := "/api/v2/pages/" + url.PathEscape(id)

	resp, err := c.Do(ctx, http.MethodPut, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var pr pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("confluence: decoding page update response: %w", err)
	}

	updated, err := pr.toPage()
	if err != nil {
		return nil, err
	}

	// The update response omits the body; the caller already has it.
	updated.Body = body

	return updated, nil
}

// createPageRequest mirrors the v2 API page creation payload.
type createPageRequest struct {
	SpaceID  string       `json:"spaceId"`
	Status   string       `json:"status"`
	Title    string       `json:"title"`
	ParentID string       `json:"parentId,omitempty"`
	Body     adfBodyValue `json:"body"`
}

// CreatePage creates a new page with ADF content. parentID may be empty for
// a space-root page.
func (c *Client) CreatePage(ctx context.Context, spaceID, title string, body json.RawMessage, parentID string) (*Page, error) {
	payload, err := json.Marshal(createPageRequest{
		SpaceID:  spaceID,
		Status:   "current",
		Title:    title,
		ParentID: parentID,
		Body: adfBodyValue{
			Representation: "atlas_doc_format",
			Value:          string(body),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("confluence: encoding page creation: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, "/api/v2/pages", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var pr pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("confluence: decoding page creation response: %w", err)
	}

	return pr.toPage()
}

// PageVersionBody fetches the ADF body of a historical page version.
// Only the v1 content API can serve old versions.
func (c *Client) PageVersionBody(ctx context.Context, id string, version int) (json.RawMessage, error) {
	path := fmt.Sprintf("/rest/api/content/%s?version=%d&expand=body.atlas_doc_format",
		url.PathEscape(id), version)

	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Body struct {
			AtlasDocFormat struct {
				Value string `json:"value"`
			} `json:"atlas_doc_format"` //nolint:tagliatelle // Confluence API key
		} `json:"body"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("confluence: decoding version response: %w", err)
	}

	if v := parsed.Body.AtlasDocFormat.Value; v != "" {
		if !json.Valid([]byte(v)) {
			return nil, fmt.Errorf("confluence: page %s v%d has malformed ADF body", id, version)
		}

		return json.RawMessage(v), nil
	}

	return json.RawMessage(`{}`), nil
}
