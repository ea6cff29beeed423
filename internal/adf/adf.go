// Package adf parses and manipulates Atlassian Document Format trees.
// Documents are kept as generic map[string]any trees so that node types
// this package does not know about pass through edits untouched.
package adf

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Parse decodes a raw ADF document. An empty or absent body yields an
// empty tree.
func Parse(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("adf: parsing document: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	return doc, nil
}

// Marshal encodes an ADF tree back to its wire form.
func Marshal(doc map[string]any) (json.RawMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("adf: encoding document: %w", err)
	}

	return raw, nil
}

// ExtractText renders an ADF node as readable plaintext: newlines
// between paragraphs, bullet prefixes for list items, tab-separated
// table cells, fenced code blocks.
func ExtractText(node any) string {
	return extractText(node, 0)
}

func extractText(node any, depth int) string {
	switch n := node.(type) {
	case []any:
		var b strings.Builder
		for _, item := range n {
			b.WriteString(extractText(item, depth))
		}
		return b.String()
	case map[string]any:
		return extractNode(n, depth)
	default:
		return ""
	}
}

func extractNode(node map[string]any, depth int) string {
	nodeType, _ := node["type"].(string)

	switch nodeType {
	case "text":
		s, _ := node["text"].(string)
		return s
	case "mention":
		return attrString(node, "text")
	case "emoji":
		return attrString(node, "shortName")
	case "inlineCard":
		return attrString(node, "url")
	case "hardBreak":
		return "\n"
	case "status":
		return "[" + attrString(node, "text") + "]"
	}

	inner := extractText(node["content"], childDepth(nodeType, depth))

	switch nodeType {
	case "paragraph", "heading":
		return inner + "\n"
	case "listItem":
		return renderListItem(inner, depth)
	case "taskItem":
		checkbox := "[ ]"
		if attrString(node, "state") == "DONE" {
			checkbox = "[x]"
		}
		return fmt.Sprintf("  %s %s\n", checkbox, strings.TrimSpace(inner))
	case "table":
		return inner + "\n"
	case "tableRow":
		content, _ := node["content"].([]any)
		parts := make([]string, 0, len(content))
		for _, cell := range content {
			parts = append(parts, strings.TrimSpace(extractText(cell, depth)))
		}
		return strings.Join(parts, "\t") + "\n"
	case "codeBlock":
		header := "```\n"
		if lang := attrString(node, "language"); lang != "" {
			header = "```" + lang + "\n"
		}
		return header + inner + "```\n"
	case "blockquote":
		lines := strings.Split(strings.TrimSpace(inner), "\n")
		for i, line := range lines {
			lines[i] = "> " + line
		}
		return strings.Join(lines, "\n") + "\n"
	case "rule":
		return "---\n"
	case "panel":
		panelType := attrString(node, "panelType")
		if panelType == "" {
			panelType = "info"
		}
		return fmt.Sprintf("[%s] %s", panelType, inner)
	case "expand":
		if title := attrString(node, "title"); title != "" {
			return fmt.Sprintf("▸ %s\n%s", title, inner)
		}
		return inner
	default:
		// bulletList, orderedList, taskList, tableCell, tableHeader,
		// doc, and anything unrecognized: pass the content through.
		return inner
	}
}

// childDepth bumps the indent level when descending into nested lists.
func childDepth(nodeType string, depth int) int {
	if nodeType == "listItem" {
		return depth + 1
	}
	return depth
}

func renderListItem(inner string, depth int) string {
	indent := strings.Repeat("  ", depth)
	lines := strings.Split(strings.TrimSpace(inner), "\n")

	var b strings.Builder
	b.WriteString(indent + "- " + lines[0] + "\n")
	for _, line := range lines[1:] {
		b.WriteString(indent + "  " + line + "\n")
	}

	return b.String()
}

func attrString(node map[string]any, key string) string {
	attrs, _ := node["attrs"].(map[string]any)
	s, _ := attrs[key].(string)
	return s
}

// Tables returns every table node in the tree, in document order.
// The returned maps alias the tree, so edits to them edit the document.
func Tables(doc map[string]any) []map[string]any {
	var tables []map[string]any

	var walk func(node any)
	walk = func(node any) {
		switch n := node.(type) {
		case map[string]any:
			if t, _ := n["type"].(string); t == "table" {
				tables = append(tables, n)
			}
			for _, v := range n {
				walk(v)
			}
		case []any:
			for _, item := range n {
				walk(item)
			}
		}
	}

	walk(doc)

	return tables
}

// walkNodes visits every map node in the tree, depth first.
func walkNodes(node any, visit func(map[string]any)) {
	switch n := node.(type) {
	case map[string]any:
		visit(n)
		for _, v := range n {
			walkNodes(v, visit)
		}
	case []any:
		for _, item := range n {
			walkNodes(item, visit)
		}
	}
}

// buildTableCell wraps a text value in a single-paragraph cell.
func buildTableCell(value string) map[string]any {
	var content []any
	if value != "" {
		content = []any{map[string]any{"type": "text", "text": value}}
	}

	return map[string]any{
		"type": "tableCell",
		"content": []any{
			map[string]any{"type": "paragraph", "content": content},
		},
	}
}

// buildTableRow builds a tableRow node from plain cell values.
func buildTableRow(values []string) map[string]any {
	cells := make([]any, 0, len(values))
	for _, v := range values {
		cells = append(cells, buildTableCell(v))
	}

	return map[string]any{"type": "tableRow", "content": cells}
}
