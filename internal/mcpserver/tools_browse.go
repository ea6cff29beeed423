package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/jpkarjala/confluence-go/internal/adf"
	"github.com/jpkarjala/confluence-go/internal/confluence"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50
	diffContextLines   = 3
)

type searchPagesInput struct {
	Query  string `json:"query" jsonschema:"CQL query, or plain text for a title/content search"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum results, default 10, max 50"`
	Cursor string `json:"cursor,omitempty" jsonschema:"pagination cursor from a previous call"`
}

type searchHit struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Space   string `json:"space,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
}

type searchPagesResult struct {
	Results    []searchHit `json:"results"`
	NextCursor string      `json:"next_cursor,omitempty" jsonschema:"cursor for the next page of results"`
}

func (s *Server) handleSearchPages(ctx context.Context, _ *mcp.CallToolRequest, in searchPagesInput) (*mcp.CallToolResult, searchPagesResult, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	results, next, err := s.api.Search(ctx, confluence.WrapCQL(in.Query), limit, in.Cursor)
	if err != nil {
		return nil, searchPagesResult{}, err
	}

	out := searchPagesResult{NextCursor: next, Results: make([]searchHit, 0, len(results))}
	for _, r := range results {
		out.Results = append(out.Results, searchHit{
			ID:      r.PageID,
			Title:   r.Title,
			Space:   r.Space,
			Excerpt: r.Excerpt,
		})
	}

	return nil, out, nil
}

type summaryList struct {
	Pages      []pageSummary `json:"pages"`
	NextCursor string        `json:"next_cursor,omitempty" jsonschema:"cursor for the next page of results"`
}

type pageSummary struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
}

func toSummaryList(pages []confluence.PageSummary, next string) summaryList {
	out := summaryList{NextCursor: next, Pages: make([]pageSummary, 0, len(pages))}
	for _, p := range pages {
		out.Pages = append(out.Pages, pageSummary{ID: p.ID, Title: p.Title, Status: p.Status})
	}

	return out
}

type listPagesInput struct {
	SpaceID string `json:"space_id" jsonschema:"space to list"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum results, default 10, max 50"`
	Sort    string `json:"sort,omitempty" jsonschema:"sort order, e.g. title or -modified-date"`
	Cursor  string `json:"cursor,omitempty" jsonschema:"pagination cursor from a previous call"`
}

func (s *Server) handleListPages(ctx context.Context, _ *mcp.CallToolRequest, in listPagesInput) (*mcp.CallToolResult, summaryList, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	pages, next, err := s.api.ListPages(ctx, in.SpaceID, limit, in.Sort, in.Cursor)
	if err != nil {
		return nil, summaryList{}, err
	}

	return nil, toSummaryList(pages, next), nil
}

type childPagesInput struct {
	Page   string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum results, default 10, max 50"`
	Cursor string `json:"cursor,omitempty" jsonschema:"pagination cursor from a previous call"`
}

func (s *Server) handleChildPages(ctx context.Context, _ *mcp.CallToolRequest, in childPagesInput) (*mcp.CallToolResult, summaryList, error) {
	id, err := s.api.ResolvePageID(ctx, in.Page)
	if err != nil {
		return nil, summaryList{}, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	pages, next, err := s.api.ChildPages(ctx, id, limit, in.Cursor)
	if err != nil {
		return nil, summaryList{}, err
	}

	return nil, toSummaryList(pages, next), nil
}

type ancestorsInput struct {
	Page string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
}

func (s *Server) handleAncestors(ctx context.Context, _ *mcp.CallToolRequest, in ancestorsInput) (*mcp.CallToolResult, summaryList, error) {
	id, err := s.api.ResolvePageID(ctx, in.Page)
	if err != nil {
		return nil, summaryList{}, err
	}

	pages, err := s.api.Ancestors(ctx, id)
	if err != nil {
		return nil, summaryList{}, err
	}

	return nil, toSummaryList(pages, ""), nil
}

type labelsInput struct {
	Page string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
}

type labelsResult struct {
	Labels []string `json:"labels"`
}

func (s *Server) handleGetLabels(ctx context.Context, _ *mcp.CallToolRequest, in labelsInput) (*mcp.CallToolResult, labelsResult, error) {
	id, err := s.api.ResolvePageID(ctx, in.Page)
	if err != nil {
		return nil, labelsResult{}, err
	}

	labels, err := s.api.Labels(ctx, id)
	if err != nil {
		return nil, labelsResult{}, err
	}

	return nil, labelsResult{Labels: labels}, nil
}

type addLabelsInput struct {
	Page   string   `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
	Labels []string `json:"labels" jsonschema:"labels to add"`
}

func (s *Server) handleAddLabels(ctx context.Context, _ *mcp.CallToolRequest, in addLabelsInput) (*mcp.CallToolResult, labelsResult, error) {
	id, err := s.api.ResolvePageID(ctx, in.Page)
	if err != nil {
		return nil, labelsResult{}, err
	}

	if err := s.api.AddLabels(ctx, id, in.Labels); err != nil {
		return nil, labelsResult{}, err
	}

	labels, err := s.api.Labels(ctx, id)
	if err != nil {
		return nil, labelsResult{}, err
	}

	return nil, labelsResult{Labels: labels}, nil
}

type removeLabelInput struct {
	Page  string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
	Label string `json:"label" jsonschema:"label to remove"`
}

func (s *Server) handleRemoveLabel(ctx context.Context, _ *mcp.CallToolRequest, in removeLabelInput) (*mcp.CallToolResult, okResult, error) {
	id, err := s.api.ResolvePageID(ctx, in.Page)
	if err != nil {
		return nil, okResult{}, err
	}

	if err := s.api.RemoveLabel(ctx, id, in.Label); err != nil {
		return nil, okResult{}, err
	}

	return nil, okResult{OK: true}, nil
}

type listVersionsInput struct {
	Page   string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum results, default 10, max 50"`
	Cursor string `json:"cursor,omitempty" jsonschema:"pagination cursor from a previous call"`
}

type versionEntry struct {
	Number    int    `json:"number"`
	Message   string `json:"message,omitempty"`
	AuthorID  string `json:"author_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type listVersionsResult struct {
	Versions   []versionEntry `json:"versions"`
	NextCursor string         `json:"next_cursor,omitempty" jsonschema:"cursor for the next page of results"`
}

func (s *Server) handleListVersions(ctx context.Context, _ *mcp.CallToolRequest, in listVersionsInput) (*mcp.CallToolResult, listVersionsResult, error) {
	id, err := s.api.ResolvePageID(ctx, in.Page)
	if err != nil {
		return nil, listVersionsResult{}, err
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	versions, next, err := s.api.ListVersions(ctx, id, limit, in.Cursor)
	if err != nil {
		return nil, listVersionsResult{}, err
	}

	out := listVersionsResult{NextCursor: next, Versions: make([]versionEntry, 0, len(versions))}
	for _, v := range versions {
		out.Versions = append(out.Versions, versionEntry{
			Number:    v.Number,
			Message:   v.Message,
			AuthorID:  v.AuthorID,
			CreatedAt: v.CreatedAt,
		})
	}

	return nil, out, nil
}

type compareVersionsInput struct {
	Page string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
	From int    `json:"from" jsonschema:"older version number"`
	To   int    `json:"to" jsonschema:"newer version number"`
}

type compareVersionsResult struct {
	Diff string `json:"diff" jsonschema:"unified diff of the plaintext of the two versions"`
}

func (s *Server) handleCompareVersions(ctx context.Context, _ *mcp.CallToolRequest, in compareVersionsInput) (*mcp.CallToolResult, compareVersionsResult, error) {
	id, err := s.api.ResolvePageID(ctx, in.Page)
	if err != nil {
		return nil, compareVersionsResult{}, err
	}

	fromText, err := s.versionText(ctx, id, in.From)
	if err != nil {
		return nil, compareVersionsResult{}, err
	}

	toText, err := s.versionText(ctx, id, in.To)
	if err != nil {
		return nil, compareVersionsResult{}, err
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(fromText),
		B:        difflib.SplitLines(toText),
		FromFile: fmt.Sprintf("v%d", in.From),
		ToFile:   fmt.Sprintf("v%d", in.To),
		Context:  diffContextLines,
	})
	if err != nil {
		return nil, compareVersionsResult{}, fmt.Errorf("building diff: %w", err)
	}

	if diff == "" {
		diff = fmt.Sprintf("v%d and v%d are identical\n", in.From, in.To)
	}

	return nil, compareVersionsResult{Diff: diff}, nil
}

func (s *Server) versionText(ctx context.Context, id string, version int) (string, error) {
	body, err := s.api.PageVersionBody(ctx, id, version)
	if err != nil {
		return "", err
	}

	doc, err := adf.Parse(body)
	if err != nil {
		return "", err
	}

	return adf.ExtractText(doc), nil
}
