// Package mcpserver exposes the page cache, edit, and push operations
// as Model Context Protocol tools over stdio.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jpkarjala/confluence-go/internal/confluence"
	"github.com/jpkarjala/confluence-go/internal/engine"
)

// Server wires the sync engine and the remote client into an MCP
// server. All tools accept page references: a numeric ID, a full page
// URL, or a short /x/ link.
type Server struct {
	api    *confluence.Client
	engine *engine.Engine
	logger *slog.Logger
	mcp    *mcp.Server
}

// New builds the server and registers every tool.
func New(api *confluence.Client, eng *engine.Engine, version string, logger *slog.Logger) *Server {
	s := &Server{
		api:    api,
		engine: eng,
		logger: logger,
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "confluence-go",
		Version: version,
	}, nil)

	s.register()

	return s
}

// Run serves MCP over stdio until the context is canceled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio")

	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}

	return nil
}

func (s *Server) register() {
	// Page lifecycle.
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "page_get",
		Description: "Fetch a Confluence page and cache it locally for editing. Overwrites any unpushed local edits.",
	}, s.handlePageGet)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "page_edit",
		Description: "Find and replace text in the cached copy of a page without pushing. Fetch the page first with page_get.",
	}, s.handlePageEdit)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "page_push",
		Description: "Push staged local edits to Confluence. Replays the edits onto a fresh base if someone else updated the page meanwhile.",
	}, s.handlePagePush)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "page_create",
		Description: "Create a new Confluence page from a full ADF document.",
	}, s.handlePageCreate)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "extract_text",
		Description: "Fetch a page and return its content as readable plaintext.",
	}, s.handleExtractText)

	// One-shot edits: fetch, transform, push.
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "find_replace",
		Description: "Fetch a page, replace literal text, and push in one step. Only text nodes are modified.",
	}, s.handleFindReplace)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "regex_replace",
		Description: "Fetch a page, apply a regular expression to every text node, and push. Supports $1 style backreferences.",
	}, s.handleRegexReplace)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "update_task",
		Description: "Set the state of task checkboxes whose text matches a substring. State is DONE or TODO.",
	}, s.handleUpdateTask)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "replace_mention",
		Description: "Replace @mentions of one user with another, looking the new user up in Confluence.",
	}, s.handleReplaceMention)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "update_table_cell",
		Description: "Update a single table cell by zero-based row and column index.",
	}, s.handleUpdateTableCell)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "insert_table_row",
		Description: "Insert a row of plain text cells into a table. Row index -1 appends.",
	}, s.handleInsertTableRow)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_table_row",
		Description: "Delete a table row by zero-based index.",
	}, s.handleDeleteTableRow)

	// Discovery.
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_pages",
		Description: "Search pages with CQL. Plain text queries are wrapped as title/content searches.",
	}, s.handleSearchPages)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_pages",
		Description: "List pages in a space.",
	}, s.handleListPages)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "child_pages",
		Description: "List the direct children of a page.",
	}, s.handleChildPages)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "page_ancestors",
		Description: "List the ancestors of a page from the root down.",
	}, s.handleAncestors)

	// Labels and versions.
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_labels",
		Description: "List the labels on a page.",
	}, s.handleGetLabels)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "add_labels",
		Description: "Add labels to a page.",
	}, s.handleAddLabels)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remove_label",
		Description: "Remove a label from a page. Removing an absent label is a no-op.",
	}, s.handleRemoveLabel)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_versions",
		Description: "List the version history of a page.",
	}, s.handleListVersions)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "compare_versions",
		Description: "Produce a unified diff of the plaintext of two versions of a page.",
	}, s.handleCompareVersions)

	// Cache maintenance.
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cache_list",
		Description: "List cached pages with their base versions and dirty state.",
	}, s.handleCacheList)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cache_evict",
		Description: "Drop one page from the cache, discarding any unpushed edits.",
	}, s.handleCacheEvict)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cache_clear",
		Description: "Clear the whole page cache.",
	}, s.handleCacheClear)
}
