package adf

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoMatch is returned by a transform when the document contains
// nothing for it to change. The document is left untouched.
var ErrNoMatch = errors.New("adf: no match in document")

// A Transform rewrites an ADF body. Apply returns the edited body; the
// input is never modified. Describe returns a short JSON description
// used for cache bookkeeping and version messages.
type Transform interface {
	Apply(body json.RawMessage) (json.RawMessage, error)
	Describe() string
}

func describe(op string, v any) string {
	raw, err := json.Marshal(struct {
		Op   string `json:"op"`
		Args any    `json:"args"`
	}{Op: op, Args: v})
	if err != nil {
		return fmt.Sprintf(`{"op":%q}`, op)
	}

	return string(raw)
}

// FindReplace replaces literal text inside text nodes. Structural nodes
// are never modified. Replaced is set by Apply.
type FindReplace struct {
	Find    string `json:"find"`
	Replace string `json:"replace"`
	All     bool   `json:"all"`

	Replaced int `json:"-"`
}

func (t *FindReplace) Apply(body json.RawMessage) (json.RawMessage, error) {
	doc, err := Parse(body)
	if err != nil {
		return nil, err
	}

	t.Replaced = 0

	walkNodes(doc, func(node map[string]any) {
		text, ok := node["text"].(string)
		if typ, _ := node["type"].(string); !ok || typ != "text" {
			return
		}
		if !strings.Contains(text, t.Find) {
			return
		}

		if t.All {
			t.Replaced += strings.Count(text, t.Find)
			node["text"] = strings.ReplaceAll(text, t.Find, t.Replace)
		} else if t.Replaced == 0 {
			t.Replaced = 1
			node["text"] = strings.Replace(text, t.Find, t.Replace, 1)
		}
	})

	if t.Replaced == 0 {
		return nil, fmt.Errorf("%w: text %q", ErrNoMatch, t.Find)
	}

	return Marshal(doc)
}

func (t *FindReplace) Describe() string { return describe("find_replace", t) }

// RegexReplace applies a regular expression to every text node.
// Replacement supports $1 style backreferences.
type RegexReplace struct {
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement"`

	Replaced int `json:"-"`
}

func (t *RegexReplace) Apply(body json.RawMessage) (json.RawMessage, error) {
	re, err := regexp.Compile(t.Pattern)
	if err != nil {
		return nil, fmt.Errorf("adf: invalid pattern %q: %w", t.Pattern, err)
	}

	doc, err := Parse(body)
	if err != nil {
		return nil, err
	}

	t.Replaced = 0

	walkNodes(doc, func(node map[string]any) {
		text, ok := node["text"].(string)
		if typ, _ := node["type"].(string); !ok || typ != "text" {
			return
		}

		n := len(re.FindAllStringIndex(text, -1))
		if n == 0 {
			return
		}

		node["text"] = re.ReplaceAllString(text, t.Replacement)
		t.Replaced += n
	})

	if t.Replaced == 0 {
		return nil, fmt.Errorf("%w: pattern %q", ErrNoMatch, t.Pattern)
	}

	return Marshal(doc)
}

func (t *RegexReplace) Describe() string { return describe("regex_replace", t) }

// SetTaskState sets the state of every task item whose text contains
// Match (case insensitive). State must be "DONE" or "TODO".
type SetTaskState struct {
	Match string `json:"match"`
	State string `json:"state"`

	Updated int `json:"-"`
}

func (t *SetTaskState) Apply(body json.RawMessage) (json.RawMessage, error) {
	state := strings.ToUpper(t.State)
	if state != "DONE" && state != "TODO" {
		return nil, fmt.Errorf("adf: invalid task state %q", t.State)
	}

	doc, err := Parse(body)
	if err != nil {
		return nil, err
	}

	t.Updated = 0
	match := strings.ToLower(t.Match)

	walkNodes(doc, func(node map[string]any) {
		if typ, _ := node["type"].(string); typ != "taskItem" {
			return
		}
		attrs, ok := node["attrs"].(map[string]any)
		if !ok {
			return
		}

		text := strings.TrimSpace(ExtractText(node))
		if strings.Contains(strings.ToLower(text), match) {
			attrs["state"] = state
			t.Updated++
		}
	})

	if t.Updated == 0 {
		return nil, fmt.Errorf("%w: task %q", ErrNoMatch, t.Match)
	}

	return Marshal(doc)
}

func (t *SetTaskState) Describe() string { return describe("set_task_state", t) }

// ReplaceMention rewrites @mention nodes whose text contains Find
// (case insensitive) to point at a different account.
type ReplaceMention struct {
	Find        string `json:"find"`
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`

	Replaced int `json:"-"`
}

func (t *ReplaceMention) Apply(body json.RawMessage) (json.RawMessage, error) {
	doc, err := Parse(body)
	if err != nil {
		return nil, err
	}

	t.Replaced = 0
	find := strings.ToLower(t.Find)

	walkNodes(doc, func(node map[string]any) {
		if typ, _ := node["type"].(string); typ != "mention" {
			return
		}
		attrs, ok := node["attrs"].(map[string]any)
		if !ok {
			return
		}

		text, _ := attrs["text"].(string)
		if strings.Contains(strings.ToLower(text), find) {
			attrs["id"] = t.AccountID
			attrs["text"] = "@" + t.DisplayName
			t.Replaced++
		}
	})

	if t.Replaced == 0 {
		return nil, fmt.Errorf("%w: mention %q", ErrNoMatch, t.Find)
	}

	return Marshal(doc)
}

func (t *ReplaceMention) Describe() string { return describe("replace_mention", t) }

// UpdateTableCell replaces the content of one cell with a text
// paragraph. Row and Col are zero-based; TableIndex picks the table
// when the page has several.
type UpdateTableCell struct {
	TableIndex int    `json:"table_index"`
	Row        int    `json:"row"`
	Col        int    `json:"col"`
	Value      string `json:"value"`
}

func (t *UpdateTableCell) Apply(body json.RawMessage) (json.RawMessage, error) {
	doc, err := Parse(body)
	if err != nil {
		return nil, err
	}

	rows, err := tableRows(doc, t.TableIndex)
	if err != nil {
		return nil, err
	}
	if t.Row < 0 || t.Row >= len(rows) {
		return nil, fmt.Errorf("%w: row %d out of range (table has %d rows)", ErrNoMatch, t.Row, len(rows))
	}

	rowNode, _ := rows[t.Row].(map[string]any)
	cells, _ := rowNode["content"].([]any)
	if t.Col < 0 || t.Col >= len(cells) {
		return nil, fmt.Errorf("%w: column %d out of range (row has %d columns)", ErrNoMatch, t.Col, len(cells))
	}

	cell, _ := cells[t.Col].(map[string]any)

	var content []any
	if t.Value != "" {
		content = []any{map[string]any{"type": "text", "text": t.Value}}
	}
	cell["content"] = []any{
		map[string]any{"type": "paragraph", "content": content},
	}

	return Marshal(doc)
}

func (t *UpdateTableCell) Describe() string { return describe("update_table_cell", t) }

// InsertTableRow inserts a row of plain text cells. RowIndex -1 (or a
// value past the end) appends. InsertedAt is set by Apply.
type InsertTableRow struct {
	TableIndex int      `json:"table_index"`
	RowIndex   int      `json:"row_index"`
	Values     []string `json:"values"`

	InsertedAt int `json:"-"`
}

func (t *InsertTableRow) Apply(body json.RawMessage) (json.RawMessage, error) {
	doc, err := Parse(body)
	if err != nil {
		return nil, err
	}

	rows, err := tableRows(doc, t.TableIndex)
	if err != nil {
		return nil, err
	}

	newRow := buildTableRow(t.Values)

	if t.RowIndex < 0 || t.RowIndex >= len(rows) {
		rows = append(rows, newRow)
		t.InsertedAt = len(rows) - 1
	} else {
		rows = append(rows[:t.RowIndex], append([]any{any(newRow)}, rows[t.RowIndex:]...)...)
		t.InsertedAt = t.RowIndex
	}

	if err := setTableRows(doc, t.TableIndex, rows); err != nil {
		return nil, err
	}

	return Marshal(doc)
}

func (t *InsertTableRow) Describe() string { return describe("insert_table_row", t) }

// DeleteTableRow removes one row. DeletedText is set by Apply to the
// plaintext of the removed row.
type DeleteTableRow struct {
	TableIndex int `json:"table_index"`
	RowIndex   int `json:"row_index"`

	DeletedText string `json:"-"`
}

func (t *DeleteTableRow) Apply(body json.RawMessage) (json.RawMessage, error) {
	doc, err := Parse(body)
	if err != nil {
		return nil, err
	}

	rows, err := tableRows(doc, t.TableIndex)
	if err != nil {
		return nil, err
	}
	if t.RowIndex < 0 || t.RowIndex >= len(rows) {
		return nil, fmt.Errorf("%w: row %d out of range (table has %d rows)", ErrNoMatch, t.RowIndex, len(rows))
	}

	t.DeletedText = strings.TrimSpace(ExtractText(rows[t.RowIndex]))
	rows = append(rows[:t.RowIndex], rows[t.RowIndex+1:]...)

	if err := setTableRows(doc, t.TableIndex, rows); err != nil {
		return nil, err
	}

	return Marshal(doc)
}

func (t *DeleteTableRow) Describe() string { return describe("delete_table_row", t) }

func tableRows(doc map[string]any, tableIndex int) ([]any, error) {
	tables := Tables(doc)
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: no tables in document", ErrNoMatch)
	}
	if tableIndex < 0 || tableIndex >= len(tables) {
		return nil, fmt.Errorf("%w: table index %d out of range (document has %d tables)", ErrNoMatch, tableIndex, len(tables))
	}

	rows, _ := tables[tableIndex]["content"].([]any)

	return rows, nil
}

func setTableRows(doc map[string]any, tableIndex int, rows []any) error {
	tables := Tables(doc)
	if tableIndex < 0 || tableIndex >= len(tables) {
		return fmt.Errorf("%w: table index %d out of range", ErrNoMatch, tableIndex)
	}

	tables[tableIndex]["content"] = rows

	return nil
}
