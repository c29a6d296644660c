// internal/dom/node.go
//
// The in-memory element/text tree produced by one snapshot of a live page.
// The injected page script walks the document (shadow roots and same-origin
// frames included), classifies each element, assigns highlight indices, and
// hands back a JSON payload; this package turns that payload into a typed
// tree the selector index and serializer can work on.
package dom

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Node is one entry in the snapshot tree: either an *ElementNode or a
// *TextNode.
type Node interface {
	node()
}

// ElementNode is a document element observed by the snapshot.
type ElementNode struct {
	Tag        string
	XPath      string
	Attributes map[string]string
	Children   []Node

	Visible      bool
	Interactive  bool
	Topmost      bool
	InShadowRoot bool

	// HighlightIndex is set iff the element qualified as an actionable
	// target (visible && interactive && topmost) in this snapshot.
	HighlightIndex *int

	// Parent is a non-owning back-reference; nil for the root.
	Parent *ElementNode
}

// TextNode is a trimmed, visible text run.
type TextNode struct {
	Text    string
	Visible bool
	Parent  *ElementNode
}

func (*ElementNode) node() {}
func (*TextNode) node()    {}

// Indexed reports whether the element carries a highlight index.
func (e *ElementNode) Indexed() bool { return e.HighlightIndex != nil }

// rawNode is the wire shape emitted by the injected page script. Text nodes
// carry type=TEXT_NODE; element nodes carry a tag name. Child slots may be
// null (the script maps rejected subtrees to null).
type rawNode struct {
	Type           string            `json:"type"`
	Text           string            `json:"text"`
	TagName        string            `json:"tagName"`
	XPath          string            `json:"xpath"`
	Attributes     map[string]string `json:"attributes"`
	Children       []*rawNode        `json:"children"`
	IsVisible      bool              `json:"isVisible"`
	IsInteractive  bool              `json:"isInteractive"`
	IsTopElement   bool              `json:"isTopElement"`
	ShadowRoot     bool              `json:"shadowRoot"`
	InShadowRoot   bool              `json:"inShadowRoot"`
	HighlightIndex *int              `json:"highlightIndex"`
}

// ParseTree decodes a snapshot payload into an element tree. The payload
// root must be an element node (the document body).
func ParseTree(payload []byte) (*ElementNode, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty snapshot payload")
	}
	var raw rawNode
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot payload: %w", err)
	}
	root, ok := convertNode(&raw, nil).(*ElementNode)
	if !ok || root == nil {
		return nil, fmt.Errorf("snapshot root is not an element node")
	}
	return root, nil
}

// ParseTreeValue is ParseTree for payloads already decoded into generic JSON
// values (as returned by driver Evaluate calls).
func ParseTreeValue(value interface{}) (*ElementNode, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode snapshot value: %w", err)
	}
	return ParseTree(payload)
}

func convertNode(raw *rawNode, parent *ElementNode) Node {
	if raw == nil {
		return nil
	}

	if raw.Type == "TEXT_NODE" {
		if raw.Text == "" {
			return nil
		}
		return &TextNode{Text: raw.Text, Visible: raw.IsVisible, Parent: parent}
	}

	if raw.TagName == "" {
		return nil
	}

	el := &ElementNode{
		Tag:            raw.TagName,
		XPath:          raw.XPath,
		Attributes:     raw.Attributes,
		Visible:        raw.IsVisible,
		Interactive:    raw.IsInteractive,
		Topmost:        raw.IsTopElement,
		InShadowRoot:   raw.InShadowRoot || raw.ShadowRoot,
		HighlightIndex: raw.HighlightIndex,
		Parent:         parent,
	}
	if el.Attributes == nil {
		el.Attributes = map[string]string{}
	}
	for _, child := range raw.Children {
		if converted := convertNode(child, el); converted != nil {
			el.Children = append(el.Children, converted)
		}
	}
	return el
}

// Walk visits every node of the tree in document (pre-order, depth-first)
// order. Returning false from fn prunes that node's subtree.
func Walk(root Node, fn func(Node) bool) {
	if root == nil {
		return
	}
	if !fn(root) {
		return
	}
	if el, ok := root.(*ElementNode); ok {
		for _, child := range el.Children {
			Walk(child, fn)
		}
	}
}
