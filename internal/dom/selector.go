// internal/dom/selector.go
package dom

import (
	"fmt"
	"sort"
)

// SelectorMap maps a highlight index to the structural XPath locator of the
// element that held it at snapshot time. The map is rebuilt wholesale on
// every snapshot and carries no meaning across snapshots.
type SelectorMap map[int]string

// BuildSelectorMap walks the snapshot tree and collects a locator for every
// indexed element.
func BuildSelectorMap(root *ElementNode) SelectorMap {
	m := make(SelectorMap)
	Walk(root, func(n Node) bool {
		if el, ok := n.(*ElementNode); ok && el.Indexed() {
			m[*el.HighlightIndex] = el.XPath
		}
		return true
	})
	return m
}

// Locator returns the stored locator for an index.
func (m SelectorMap) Locator(index int) (string, bool) {
	loc, ok := m[index]
	return loc, ok
}

// Indices returns the highlight indices in ascending order.
func (m SelectorMap) Indices() []int {
	out := make([]int, 0, len(m))
	for idx := range m {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Validate checks the per-snapshot invariant: indices are unique (given by
// the map), non-negative, and dense starting at 0.
func (m SelectorMap) Validate() error {
	for i, idx := range m.Indices() {
		if idx != i {
			return fmt.Errorf("highlight indices not dense: expected %d, found %d", i, idx)
		}
	}
	return nil
}
