package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// SearchResult is one hit from a CQL search.
type SearchResult struct {
	PageID  string
	Title   string
	Space   string
	Excerpt string
}

// PageSummary is a page's listing metadata, without its body.
type PageSummary struct {
	ID     string
	Title  string
	Status string
}

// cqlOperators are the tokens whose presence marks a query as raw CQL
// rather than plain text.
var cqlOperators = []string{"=", "~", " AND ", " OR ", " IN "}

// WrapCQL passes raw CQL queries through untouched and wraps plain text as
// a title/content search.
func WrapCQL(query string) string {
	for _, op := range cqlOperators {
		if strings.Contains(query, op) {
			return query
		}
	}

	return fmt.Sprintf(`type=page AND (title~%q OR text~%q)`, query, query)
}

// nextCursorPattern extracts the cursor parameter from a _links.next URL.
var nextCursorPattern = regexp.MustCompile(`cursor=([^&]+)`)

// paginatedLinks mirrors the v2 API _links envelope.
type paginatedLinks struct {
	Next string `json:"next"`
}

// nextCursor pulls the pagination cursor out of a _links.next URL.
// Empty when there is no further page.
func (l paginatedLinks) nextCursor() string {
	if m := nextCursorPattern.FindStringSubmatch(l.Next); m != nil {
		return m[1]
	}

	return ""
}

// htmlTagPattern strips the highlight markup Confluence embeds in excerpts.
var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// searchResponse mirrors the v1 search API JSON.
type searchResponse struct {
	Results []struct {
		Content struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"content"`
		ResultGlobalContainer struct {
			Title string `json:"title"`
		} `json:"resultGlobalContainer"`
		Excerpt string `json:"excerpt"`
	} `json:"results"`
	Links paginatedLinks `json:"_links"`
}

// maxExcerptLen bounds the excerpt carried into results.
const maxExcerptLen = 120

// truncateExcerpt cuts an excerpt to maxExcerptLen bytes without splitting
// a multi-byte rune.
func truncateExcerpt(excerpt string) string {
	if len(excerpt) <= maxExcerptLen {
		return excerpt
	}

	cut := maxExcerptLen
	for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
		cut--
	}

	return excerpt[:cut]
}

// Search runs a CQL query. Plain-text queries should be pre-wrapped with
// WrapCQL. Returns the hits and the cursor for the next result page, empty
// when exhausted.
func (c *Client) Search(ctx context.Context, cql string, limit int, cursor string) ([]SearchResult, string, error) {
	q := url.Values{}
	q.Set("cql", cql)
	q.Set("limit", strconv.Itoa(limit))

	if cursor != "" {
		q.Set("cursor", cursor)
	}

	resp, err := c.Do(ctx, http.MethodGet, "/rest/api/search?"+q.Encode(), nil)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, "", fmt.Errorf("confluence: decoding search response: %w", err)
	}

	results := make([]SearchResult, 0, len(sr.Results))

	for _, r := range sr.Results {
		excerpt := htmlTagPattern.ReplaceAllString(strings.TrimSpace(r.Excerpt), "")
		excerpt = truncateExcerpt(excerpt)

		results = append(results, SearchResult{
			PageID:  r.Content.ID,
			Title:   r.Content.Title,
			Space:   r.ResultGlobalContainer.Title,
			Excerpt: excerpt,
		})
	}

	return results, sr.Links.nextCursor(), nil
}

// pageListResponse mirrors the v2 API page collection JSON.
type pageListResponse struct {
	Results []struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Status string `json:"status"`
	} `json:"results"`
	Links paginatedLinks `json:"_links"`
}

// toSummaries normalizes a page collection response.
func (p *pageListResponse) toSummaries() []PageSummary {
	out := make([]PageSummary, 0, len(p.Results))
	for _, r := range p.Results {
		out = append(out, PageSummary{ID: r.ID, Title: r.Title, Status: r.Status})
	}

	return out
}

// listPages fetches one page of a v2 page collection from the given path.
// Shared by ListPages, ChildPages, and Ancestors.
func (c *Client) listPages(ctx context.Context, path string) (*pageListResponse, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var plr pageListResponse
	if err := json.NewDecoder(resp.Body).Decode(&plr); err != nil {
		return nil, fmt.Errorf("confluence: decoding page list response: %w", err)
	}

	return &plr, nil
}

// ListPages lists pages in a space, sorted per the v2 API sort parameter
// (e.g. "title", "-modified-date").
func (c *Client) ListPages(ctx context.Context, spaceID string, limit int, sort, cursor string) ([]PageSummary, string, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	if sort != "" {
		q.Set("sort", sort)
	}

	if cursor != "" {
		q.Set("cursor", cursor)
	}

	path := fmt.Sprintf("/api/v2/spaces/%s/pages?%s", url.PathEscape(spaceID), q.Encode())

	plr, err := c.listPages(ctx, path)
	if err != nil {
		return nil, "", err
	}

	return plr.toSummaries(), plr.Links.nextCursor(), nil
}

// ChildPages lists the direct children of a page.
func (c *Client) ChildPages(ctx context.Context, id string, limit int, cursor string) ([]PageSummary, string, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))

	if cursor != "" {
		q.Set("cursor", cursor)
	}

	path := fmt.Sprintf("/api/v2/pages/%s/children?%s", url.PathEscape(id), q.Encode())

	plr, err := c.listPages(ctx, path)
	if err != nil {
		return nil, "", err
	}

	return plr.toSummaries(), plr.Links.nextCursor(), nil
}

// Ancestors returns the page hierarchy from the space root down to the
// immediate parent.
func (c *Client) Ancestors(ctx context.Context, id string) ([]PageSummary, error) {
	path := fmt.Sprintf("/api/v2/pages/%s/ancestors", url.PathEscape(id))

	plr, err := c.listPages(ctx, path)
	if err != nil {
		return nil, err
	}

	return plr.toSummaries(), nil
}
