// internal/browser/browser.go
//
// Engine-backed implementations of the driver contracts. Two engines are
// supported: Playwright (the default) and raw CDP via chromedp. Everything
// above this package speaks schemas.BrowserDriver / schemas.PageDriver and
// never sees an engine type.
package browser

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass-cli/api/schemas"
	"github.com/xkilldash9x/spyglass-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// New selects the configured engine and returns an uninitialized driver.
// The browser process launches lazily on the first NewPage call.
func New(cfg config.BrowserConfig, logger *zap.Logger) (schemas.BrowserDriver, error) {
	switch cfg.Engine {
	case config.EnginePlaywright, "":
		return NewPlaywrightDriver(cfg, logger), nil
	case config.EngineChromedp:
		return NewChromedpDriver(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", cfg.Engine)
	}
}

// decodeInto re-encodes a generic evaluation result into the caller's typed
// destination. Engines hand results back as decoded JSON values; round-
// tripping them keeps both engines behind the same Evaluate contract.
func decodeInto(value interface{}, out interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode evaluation result: %w", err)
	}
	return nil
}
