package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jpkarjala/confluence-go/internal/adf"
	"github.com/jpkarjala/confluence-go/internal/cache"
	"github.com/jpkarjala/confluence-go/internal/engine"
)

// PageInfo is the metadata block most tools return.
type PageInfo struct {
	ID      string `json:"id" jsonschema:"page ID"`
	Title   string `json:"title" jsonschema:"page title"`
	SpaceID string `json:"space_id,omitempty" jsonschema:"space the page lives in"`
	Version int    `json:"version" jsonschema:"base version the cached body is built on"`
	Dirty   bool   `json:"dirty" jsonschema:"whether unpushed local edits exist"`
}

func docInfo(doc *cache.Document) PageInfo {
	return PageInfo{
		ID:      doc.ID,
		Title:   doc.Title,
		SpaceID: doc.SpaceID,
		Version: doc.Version,
		Dirty:   doc.Dirty,
	}
}

type pageGetInput struct {
	Page string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
}

type pageGetResult struct {
	PageInfo
	DiscardedEdits bool `json:"discarded_edits" jsonschema:"true when the fetch overwrote unpushed local edits"`
}

func (s *Server) handlePageGet(ctx context.Context, _ *mcp.CallToolRequest, in pageGetInput) (*mcp.CallToolResult, pageGetResult, error) {
	id, err := s.api.ResolvePageID(ctx, in.Page)
	if err != nil {
		return nil, pageGetResult{}, err
	}

	res, err := s.engine.Fetch(ctx, id)
	if err != nil {
		return nil, pageGetResult{}, err
	}

	return nil, pageGetResult{PageInfo: docInfo(res.Doc), DiscardedEdits: res.DiscardedDirty}, nil
}

type pageEditInput struct {
	Page    string `json:"page" jsonschema:"page ID of a previously fetched page"`
	Find    string `json:"find" jsonschema:"literal text to find"`
	Replace string `json:"replace" jsonschema:"replacement text"`
	All     bool   `json:"all,omitempty" jsonschema:"replace all occurrences instead of just the first"`
}

type editResult struct {
	PageInfo
	Replaced int `json:"replaced" jsonschema:"number of replacements staged"`
}

func (s *Server) handlePageEdit(ctx context.Context, _ *mcp.CallToolRequest, in pageEditInput) (*mcp.CallToolResult, editResult, error) {
	t := &adf.FindReplace{Find: in.Find, Replace: in.Replace, All: in.All}

	doc, err := s.engine.Edit(ctx, in.Page, t)
	if err != nil {
		return nil, editResult{}, err
	}

	return nil, editResult{PageInfo: docInfo(doc), Replaced: t.Replaced}, nil
}

type pagePushInput struct {
	Page    string `json:"page" jsonschema:"page ID of a previously fetched page"`
	Message string `json:"message,omitempty" jsonschema:"version message describing the change"`
}

type pushResult struct {
	PageInfo
	NoOp     bool `json:"no_op" jsonschema:"true when the page had no staged edits"`
	Attempts int  `json:"attempts" jsonschema:"update attempts made, counting conflict replays"`
}

func (s *Server) handlePagePush(ctx context.Context, _ *mcp.CallToolRequest, in pagePushInput) (*mcp.CallToolResult, pushResult, error) {
	message := in.Message
	if message == "" {
		message = "Updated via confluence-go"
	}

	res, err := s.engine.Push(ctx, in.Page, message)
	if err != nil {
		return nil, pushResult{}, err
	}

	return nil, pushResult{PageInfo: docInfo(res.Doc), NoOp: res.NoOp, Attempts: res.Attempts}, nil
}

type pageCreateInput struct {
	SpaceID  string `json:"space_id" jsonschema:"space to create the page in"`
	Title    string `json:"title" jsonschema:"page title"`
	Body     string `json:"body" jsonschema:"full ADF document as a JSON string"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"optional parent page ID"`
}

func (s *Server) handlePageCreate(ctx context.Context, _ *mcp.CallToolRequest, in pageCreateInput) (*mcp.CallToolResult, PageInfo, error) {
	if !json.Valid([]byte(in.Body)) {
		return nil, PageInfo{}, fmt.Errorf("body is not valid JSON")
	}

	page, err := s.api.CreatePage(ctx, in.SpaceID, in.Title, json.RawMessage(in.Body), in.ParentID)
	if err != nil {
		return nil, PageInfo{}, err
	}

	return nil, PageInfo{ID: page.ID, Title: page.Title, SpaceID: page.SpaceID, Version: page.Version}, nil
}

type extractTextInput struct {
	Page string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
}

type extractTextResult struct {
	Title string `json:"title" jsonschema:"page title"`
	Text  string `json:"text" jsonschema:"page content as plaintext"`
}

func (s *Server) handleExtractText(ctx context.Context, _ *mcp.CallToolRequest, in extractTextInput) (*mcp.CallToolResult, extractTextResult, error) {
	id, err := s.api.ResolvePageID(ctx, in.Page)
	if err != nil {
		return nil, extractTextResult{}, err
	}

	res, err := s.engine.Fetch(ctx, id)
	if err != nil {
		return nil, extractTextResult{}, err
	}

	doc, err := adf.Parse(res.Doc.Body)
	if err != nil {
		return nil, extractTextResult{}, err
	}

	return nil, extractTextResult{Title: res.Doc.Title, Text: adf.ExtractText(doc)}, nil
}

type cacheListInput struct{}

type cacheEntry struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Version   int    `json:"version"`
	Dirty     bool   `json:"dirty"`
	FetchedAt string `json:"fetched_at"`
}

type cacheListResult struct {
	Pages []cacheEntry `json:"pages" jsonschema:"cached pages in page ID order"`
}

func (s *Server) handleCacheList(ctx context.Context, _ *mcp.CallToolRequest, _ cacheListInput) (*mcp.CallToolResult, cacheListResult, error) {
	entries, err := s.engine.List(ctx)
	if err != nil {
		return nil, cacheListResult{}, err
	}

	out := cacheListResult{Pages: make([]cacheEntry, 0, len(entries))}
	for _, e := range entries {
		out.Pages = append(out.Pages, cacheEntry{
			ID:        e.ID,
			Title:     e.Title,
			Version:   e.Version,
			Dirty:     e.Dirty,
			FetchedAt: e.FetchedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	return nil, out, nil
}

type cacheEvictInput struct {
	Page string `json:"page" jsonschema:"page ID to evict"`
}

type okResult struct {
	OK bool `json:"ok"`
}

func (s *Server) handleCacheEvict(ctx context.Context, _ *mcp.CallToolRequest, in cacheEvictInput) (*mcp.CallToolResult, okResult, error) {
	if err := s.engine.Evict(ctx, in.Page); err != nil {
		return nil, okResult{}, err
	}

	return nil, okResult{OK: true}, nil
}

type cacheClearInput struct{}

func (s *Server) handleCacheClear(ctx context.Context, _ *mcp.CallToolRequest, _ cacheClearInput) (*mcp.CallToolResult, okResult, error) {
	if err := s.engine.EvictAll(ctx); err != nil {
		return nil, okResult{}, err
	}

	return nil, okResult{OK: true}, nil
}

// oneShot fetches a page, stages a transform, and pushes it, returning
// the final clean state.
func (s *Server) oneShot(ctx context.Context, ref string, t adf.Transform, message string) (*engine.PushResult, error) {
	id, err := s.api.ResolvePageID(ctx, ref)
	if err != nil {
		return nil, err
	}

	if _, err := s.engine.Fetch(ctx, id); err != nil {
		return nil, err
	}

	if _, err := s.engine.Edit(ctx, id, t); err != nil {
		return nil, err
	}

	return s.engine.Push(ctx, id, message)
}
