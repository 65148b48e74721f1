package reports

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// richNode is one node of a rich text document (ProseMirror JSON).
type richNode struct {
	Type    string         `json:"type"`
	Text    string         `json:"text"`
	Attrs   map[string]any `json:"attrs"`
	Content []richNode     `json:"content"`
}

// Inline node types. Everything else is a block, and blocks are joined
// with a blank line.
var inlineNodes = map[string]bool{
	"text":             true,
	"hardBreak":        true,
	"mention":          true,
	"contract-mention": true,
	"image":            true,
}

// RichTextToString flattens a rich text document to NFC plain text.
// Mentions render as @label and images are skipped.
func RichTextToString(doc json.RawMessage) (string, error) {
	if len(doc) == 0 || string(doc) == "null" {
		return "", nil
	}
	var root richNode
	if err := json.Unmarshal(doc, &root); err != nil {
		return "", fmt.Errorf("decode rich text: %w", err)
	}
	return strings.TrimSpace(norm.NFC.String(flatten(root))), nil
}

func flatten(n richNode) string {
	switch n.Type {
	case "text":
		return n.Text
	case "hardBreak":
		return "\n"
	case "mention", "contract-mention":
		if label, ok := n.Attrs["label"].(string); ok && label != "" {
			return "@" + label
		}
		if id, ok := n.Attrs["id"].(string); ok {
			return "@" + id
		}
		return ""
	case "image":
		return ""
	}

	var (
		blocks []string
		inline strings.Builder
	)
	for _, child := range n.Content {
		if inlineNodes[child.Type] {
			inline.WriteString(flatten(child))
			continue
		}
		if inline.Len() > 0 {
			blocks = append(blocks, inline.String())
			inline.Reset()
		}
		if s := flatten(child); s != "" {
			blocks = append(blocks, s)
		}
	}
	if inline.Len() > 0 {
		blocks = append(blocks, inline.String())
	}
	return strings.Join(blocks, "\n\n")
}
