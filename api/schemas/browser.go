// api/schemas/browser.go
package schemas

import (
	"context"
	"time"
)

// MouseButton selects which pointer button a click dispatches.
type MouseButton string

const (
	MouseLeft  MouseButton = "left"
	MouseRight MouseButton = "right"
)

// LoadState mirrors the document lifecycle states a driver can wait on.
type LoadState string

const (
	LoadStateLoad        LoadState = "load"
	LoadStateNetworkIdle LoadState = "networkidle"
)

// ScreenshotOptions controls viewport capture. Quality applies to JPEG only.
type ScreenshotOptions struct {
	Format  string // "jpeg" or "png"
	Quality int
}

// NavigateOptions bounds a navigation and names the state it settles on.
type NavigateOptions struct {
	Timeout   time.Duration
	WaitUntil LoadState
}

// ElementHandle is a live reference to one element resolved from a locator.
// All operations are forced: they bypass the engine's actionability checks so
// an occlusion misjudged by the topmost heuristic cannot wedge the agent.
type ElementHandle interface {
	// Click dispatches a pointer action with the given button and click count
	// (1 for single, 2 for double).
	Click(ctx context.Context, button MouseButton, clickCount int) error
	// Fill clears the field and sets its value.
	Fill(ctx context.Context, text string) error
}

// PageDriver is the sole gateway to one live document. Implementations wrap
// a concrete engine (Playwright, CDP); this core never touches rendering or
// network internals directly.
//
// Evaluate runs a self-contained JavaScript expression (arguments must be
// pre-encoded into the script by the caller) and unmarshals the JSON result
// into out; a nil out discards the result.
//
// Query resolves a structural XPath locator to a live element. A locator
// that matches nothing yields (nil, nil): absence is an outcome for the
// dispatcher, not an error.
type PageDriver interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	WaitForLoadState(ctx context.Context, state LoadState) error
	Evaluate(ctx context.Context, script string, out interface{}) error
	Query(ctx context.Context, xpath string) (ElementHandle, error)
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	Content(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}

// BrowserDriver owns a browser process and mints pages from it. One Session
// holds exactly one BrowserDriver; parallel benchmark workers must each own
// an independent instance.
type BrowserDriver interface {
	// NewPage opens a fresh page (tab) in the managed browser.
	NewPage(ctx context.Context) (PageDriver, error)
	// Shutdown releases the browser process and its driver. It must be safe
	// to call even if no page was ever opened, and must be idempotent.
	Shutdown(ctx context.Context) error
}
