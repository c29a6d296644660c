// internal/snapshot/snapshot.go
//
// Page perception. A Capturer installs the in-page snapshot script once per
// page, then produces Snapshot values: the typed element tree, the
// index-to-locator selector map, and the serialized element text handed to
// the agent. Classification and index assignment happen inside the page
// (they need computed styles and hit testing); everything downstream of the
// returned payload happens here.
package snapshot

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass-cli/api/schemas"
	"github.com/xkilldash9x/spyglass-cli/internal/dom"
)

//go:embed domtree.js
var pageScript string

// markerProbe reports whether the snapshot capability is already installed
// in the page. Navigation tears the capability down with the rest of the
// document, so the probe runs before every capture.
const markerProbe = `typeof window.__spyglass !== 'undefined'`

// Snapshot is the full result of one page perception pass. All three views
// are derived from the same payload, so an index present in Elements is
// always resolvable through Selectors.
type Snapshot struct {
	Root      *dom.ElementNode
	Selectors dom.SelectorMap
	Elements  string
}

// Capturer drives the injected script on behalf of the dispatcher.
type Capturer struct {
	log               *zap.Logger
	includeAttributes []string
}

// NewCapturer returns a Capturer emitting the given attribute allow-list in
// serialized elements; an empty list means the default set.
func NewCapturer(logger *zap.Logger, includeAttributes []string) *Capturer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capturer{
		log:               logger.Named("snapshot"),
		includeAttributes: includeAttributes,
	}
}

// EnsureInjected installs the page script if the current document does not
// carry it yet. Safe to call repeatedly; the script itself is a no-op when
// the marker object already exists.
func (c *Capturer) EnsureInjected(ctx context.Context, page schemas.PageDriver) error {
	var present bool
	if err := page.Evaluate(ctx, markerProbe, &present); err != nil {
		return fmt.Errorf("failed to probe for snapshot script: %w", err)
	}
	if present {
		return nil
	}

	c.log.Debug("Installing snapshot script into page.")
	if err := page.Evaluate(ctx, pageScript, nil); err != nil {
		return fmt.Errorf("failed to install snapshot script: %w", err)
	}
	return nil
}

// Capture runs one perception pass. With highlight set, the script also
// draws the numbered overlay for the subsequent screenshot.
func (c *Capturer) Capture(ctx context.Context, page schemas.PageDriver, highlight bool) (*Snapshot, error) {
	if err := c.EnsureInjected(ctx, page); err != nil {
		return nil, err
	}

	var payload interface{}
	script := fmt.Sprintf("window.__spyglass.capture(%t)", highlight)
	if err := page.Evaluate(ctx, script, &payload); err != nil {
		return nil, fmt.Errorf("snapshot capture failed: %w", err)
	}

	root, err := dom.ParseTreeValue(payload)
	if err != nil {
		return nil, err
	}

	selectors := dom.BuildSelectorMap(root)
	if err := selectors.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot produced an inconsistent index: %w", err)
	}

	snap := &Snapshot{
		Root:      root,
		Selectors: selectors,
		Elements:  dom.ClickableElementsToString(root, c.includeAttributes),
	}
	c.log.Debug("Captured page snapshot.", zap.Int("indexed_elements", len(selectors)))
	return snap, nil
}

// RemoveHighlight tears the overlay container down. Idempotent, and a no-op
// when the script was never installed.
func (c *Capturer) RemoveHighlight(ctx context.Context, page schemas.PageDriver) error {
	script := `(() => { if (window.__spyglass) { window.__spyglass.removeHighlight(); } return true; })()`
	if err := page.Evaluate(ctx, script, nil); err != nil {
		return fmt.Errorf("failed to remove highlight overlay: %w", err)
	}
	return nil
}
