// internal/dom/serialize.go
package dom

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultIncludeAttributes is the attribute allow-list emitted for indexed
// elements when the caller supplies no override.
var DefaultIncludeAttributes = []string{
	"id",
	"title",
	"type",
	"name",
	"role",
	"class",
	"tabindex",
	"aria-label",
	"placeholder",
	"value",
	"alt",
	"aria-expanded",
}

var newlineRuns = regexp.MustCompile(`\n+`)

// ClickableElementsToString renders the annotated tree as the compact
// line-oriented description handed to the agent: one
// `[index]:<tag attr="v">text</tag>` line per indexed element, plus bare
// `[]:text` lines for text runs that have no indexed ancestor, in document
// order.
func ClickableElementsToString(root *ElementNode, includeAttributes []string) string {
	if root == nil {
		return ""
	}
	if len(includeAttributes) == 0 {
		includeAttributes = DefaultIncludeAttributes
	}

	var lines []string
	var process func(n Node)
	process = func(n Node) {
		switch node := n.(type) {
		case *ElementNode:
			if node.Indexed() {
				attrs := formatAttributes(node.Attributes, includeAttributes)
				text := node.textUntilNextIndexed()
				lines = append(lines, fmt.Sprintf("[%d]:<%s%s>%s</%s>",
					*node.HighlightIndex, node.Tag, attrs, text, node.Tag))
			}
			for _, child := range node.Children {
				process(child)
			}
		case *TextNode:
			if !node.hasIndexedAncestor() {
				lines = append(lines, "[]:"+node.Text)
			}
		}
	}
	process(root)
	return strings.Join(lines, "\n")
}

// textUntilNextIndexed concatenates all descendant text runs up to but not
// including the next descendant that itself carries a highlight index, so a
// text run is attributed to its nearest indexed ancestor only.
func (e *ElementNode) textUntilNextIndexed() string {
	var parts []string
	var collect func(n Node)
	collect = func(n Node) {
		switch node := n.(type) {
		case *ElementNode:
			if node != e && node.Indexed() {
				return
			}
			for _, child := range node.Children {
				collect(child)
			}
		case *TextNode:
			if node.Text != "" {
				parts = append(parts, node.Text)
			}
		}
	}
	collect(e)
	return collapseNewlines(strings.TrimSpace(strings.Join(parts, "\n")))
}

func (t *TextNode) hasIndexedAncestor() bool {
	for cur := t.Parent; cur != nil; cur = cur.Parent {
		if cur.Indexed() {
			return true
		}
	}
	return false
}

// formatAttributes renders the allow-listed attributes, in allow-list
// order, skipping absent or empty values.
func formatAttributes(attrs map[string]string, include []string) string {
	var sb strings.Builder
	for _, key := range include {
		value, ok := attrs[key]
		if !ok || value == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf(" %s=%q", key, value))
	}
	return collapseNewlines(sb.String())
}

// collapseNewlines folds newline runs into single spaces, keeping each
// serialized element on one line.
func collapseNewlines(s string) string {
	return newlineRuns.ReplaceAllString(s, " ")
}
