package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jpkarjala/confluence-go/internal/adf"
)

type findReplaceInput struct {
	Page    string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
	Find    string `json:"find" jsonschema:"literal text to find"`
	Replace string `json:"replace" jsonschema:"replacement text"`
	All     bool   `json:"all,omitempty" jsonschema:"replace all occurrences instead of just the first"`
	Message string `json:"message,omitempty" jsonschema:"version message describing the change"`
}

func (s *Server) handleFindReplace(ctx context.Context, _ *mcp.CallToolRequest, in findReplaceInput) (*mcp.CallToolResult, editResult, error) {
	t := &adf.FindReplace{Find: in.Find, Replace: in.Replace, All: in.All}

	message := in.Message
	if message == "" {
		message = fmt.Sprintf("Replaced %q with %q", in.Find, in.Replace)
	}

	res, err := s.oneShot(ctx, in.Page, t, message)
	if err != nil {
		return nil, editResult{}, err
	}

	return nil, editResult{PageInfo: docInfo(res.Doc), Replaced: t.Replaced}, nil
}

type regexReplaceInput struct {
	Page        string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
	Pattern     string `json:"pattern" jsonschema:"regular expression to match"`
	Replacement string `json:"replacement" jsonschema:"replacement, supports $1 style backreferences"`
	Message     string `json:"message,omitempty" jsonschema:"version message describing the change"`
}

func (s *Server) handleRegexReplace(ctx context.Context, _ *mcp.CallToolRequest, in regexReplaceInput) (*mcp.CallToolResult, editResult, error) {
	t := &adf.RegexReplace{Pattern: in.Pattern, Replacement: in.Replacement}

	message := in.Message
	if message == "" {
		message = fmt.Sprintf("Regex replace: %s", in.Pattern)
	}

	res, err := s.oneShot(ctx, in.Page, t, message)
	if err != nil {
		return nil, editResult{}, err
	}

	return nil, editResult{PageInfo: docInfo(res.Doc), Replaced: t.Replaced}, nil
}

type updateTaskInput struct {
	Page  string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
	Task  string `json:"task" jsonschema:"substring matching the task item text"`
	State string `json:"state" jsonschema:"new state, DONE or TODO"`
}

type updateTaskResult struct {
	PageInfo
	Updated int `json:"updated" jsonschema:"number of task items updated"`
}

func (s *Server) handleUpdateTask(ctx context.Context, _ *mcp.CallToolRequest, in updateTaskInput) (*mcp.CallToolResult, updateTaskResult, error) {
	t := &adf.SetTaskState{Match: in.Task, State: in.State}

	res, err := s.oneShot(ctx, in.Page, t, fmt.Sprintf("Set task %q to %s", in.Task, in.State))
	if err != nil {
		return nil, updateTaskResult{}, err
	}

	return nil, updateTaskResult{PageInfo: docInfo(res.Doc), Updated: t.Updated}, nil
}

type replaceMentionInput struct {
	Page    string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
	Find    string `json:"find" jsonschema:"name to find, partial match on mention text"`
	Replace string `json:"replace" jsonschema:"name of the user to mention instead, looked up in Confluence"`
}

type replaceMentionResult struct {
	PageInfo
	Replaced    int    `json:"replaced" jsonschema:"number of mentions replaced"`
	DisplayName string `json:"display_name" jsonschema:"resolved display name of the new user"`
}

func (s *Server) handleReplaceMention(ctx context.Context, _ *mcp.CallToolRequest, in replaceMentionInput) (*mcp.CallToolResult, replaceMentionResult, error) {
	users, err := s.api.SearchUsers(ctx, in.Replace)
	if err != nil {
		return nil, replaceMentionResult{}, err
	}

	if len(users) == 0 {
		return nil, replaceMentionResult{}, fmt.Errorf("user not found: %q", in.Replace)
	}
	if len(users) > 1 {
		names := make([]string, 0, len(users))
		for _, u := range users {
			names = append(names, fmt.Sprintf("%s (%s)", u.DisplayName, u.AccountID))
		}

		return nil, replaceMentionResult{}, fmt.Errorf("multiple users match %q, pass an exact display name: %v", in.Replace, names)
	}

	t := &adf.ReplaceMention{
		Find:        in.Find,
		AccountID:   users[0].AccountID,
		DisplayName: users[0].DisplayName,
	}

	res, err := s.oneShot(ctx, in.Page, t,
		fmt.Sprintf("Replaced @%s mentions with @%s", in.Find, users[0].DisplayName))
	if err != nil {
		return nil, replaceMentionResult{}, err
	}

	return nil, replaceMentionResult{
		PageInfo:    docInfo(res.Doc),
		Replaced:    t.Replaced,
		DisplayName: users[0].DisplayName,
	}, nil
}

type updateTableCellInput struct {
	Page       string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
	Row        int    `json:"row" jsonschema:"zero-based row index"`
	Col        int    `json:"col" jsonschema:"zero-based column index"`
	Value      string `json:"value" jsonschema:"new text value for the cell"`
	TableIndex int    `json:"table_index,omitempty" jsonschema:"which table on the page, zero-based"`
}

func (s *Server) handleUpdateTableCell(ctx context.Context, _ *mcp.CallToolRequest, in updateTableCellInput) (*mcp.CallToolResult, PageInfo, error) {
	t := &adf.UpdateTableCell{TableIndex: in.TableIndex, Row: in.Row, Col: in.Col, Value: in.Value}

	res, err := s.oneShot(ctx, in.Page, t, fmt.Sprintf("Updated table cell [%d,%d]", in.Row, in.Col))
	if err != nil {
		return nil, PageInfo{}, err
	}

	return nil, docInfo(res.Doc), nil
}

type insertTableRowInput struct {
	Page       string   `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
	RowIndex   int      `json:"row_index" jsonschema:"position to insert at, -1 appends"`
	Values     []string `json:"values" jsonschema:"cell values for the new row"`
	TableIndex int      `json:"table_index,omitempty" jsonschema:"which table on the page, zero-based"`
}

type insertTableRowResult struct {
	PageInfo
	InsertedAt int `json:"inserted_at" jsonschema:"index the row ended up at"`
}

func (s *Server) handleInsertTableRow(ctx context.Context, _ *mcp.CallToolRequest, in insertTableRowInput) (*mcp.CallToolResult, insertTableRowResult, error) {
	t := &adf.InsertTableRow{TableIndex: in.TableIndex, RowIndex: in.RowIndex, Values: in.Values}

	res, err := s.oneShot(ctx, in.Page, t, fmt.Sprintf("Inserted table row at index %d", in.RowIndex))
	if err != nil {
		return nil, insertTableRowResult{}, err
	}

	return nil, insertTableRowResult{PageInfo: docInfo(res.Doc), InsertedAt: t.InsertedAt}, nil
}

type deleteTableRowInput struct {
	Page       string `json:"page" jsonschema:"page ID, full URL, or short /x/ link"`
	RowIndex   int    `json:"row_index" jsonschema:"zero-based row index to delete"`
	TableIndex int    `json:"table_index,omitempty" jsonschema:"which table on the page, zero-based"`
}

type deleteTableRowResult struct {
	PageInfo
	DeletedText string `json:"deleted_text" jsonschema:"plaintext of the removed row"`
}

func (s *Server) handleDeleteTableRow(ctx context.Context, _ *mcp.CallToolRequest, in deleteTableRowInput) (*mcp.CallToolResult, deleteTableRowResult, error) {
	t := &adf.DeleteTableRow{TableIndex: in.TableIndex, RowIndex: in.RowIndex}

	res, err := s.oneShot(ctx, in.Page, t, fmt.Sprintf("Deleted table row %d", in.RowIndex))
	if err != nil {
		return nil, deleteTableRowResult{}, err
	}

	return nil, deleteTableRowResult{PageInfo: docInfo(res.Doc), DeletedText: t.DeletedText}, nil
}
