// internal/content/content.go
//
// Readable-text extraction for the extract_content command. Works on the
// serialized document the driver reports, preferring the page's landmark
// content containers over the full body.
package content

import (
	"strings"

	"golang.org/x/net/html"
)

// skippedTags never contribute readable text.
var skippedTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
	"iframe":   {},
	"svg":      {},
	"head":     {},
}

// Extract returns the page's readable text. It prefers a <main> element,
// then the first <article>, then the whole <body>, and collapses all
// whitespace runs so the output is a single space-separated stream.
func Extract(pageHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return "", err
	}

	root := findFirst(doc, "main")
	if root == nil {
		root = findFirst(doc, "article")
	}
	if root == nil {
		root = findFirst(doc, "body")
	}
	if root == nil {
		root = doc
	}

	var sb strings.Builder
	collectText(root, &sb)
	return strings.Join(strings.Fields(sb.String()), " "), nil
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirst(child, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		if _, skip := skippedTags[n.Data]; skip {
			return
		}
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteString(" ")
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, sb)
	}
}
