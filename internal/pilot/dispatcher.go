// internal/pilot/dispatcher.go
//
// The command dispatcher: the single entry point through which an external
// planning agent drives a page. Every command returns a CommandResult and
// never an error; all failures, panics included, are folded into the uniform
// {success:false, error} variant so a malformed page or stale index can
// never take the loop down.
package pilot

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass-cli/api/schemas"
	"github.com/xkilldash9x/spyglass-cli/internal/config"
	"github.com/xkilldash9x/spyglass-cli/internal/content"
	"github.com/xkilldash9x/spyglass-cli/internal/snapshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	errInvalidAction  = "Invalid action"
	errElementMissing = "Element does not exist"
	errNoPage         = "No page is open"
	errOptionNotFound = "Option not found"
	errNotSelect      = "Element is not a select dropdown"
	errIndexRequired  = "Index is required"
	errTextRequired   = "Text is required"
	errURLRequired    = "URL is required"
)

// injectionSettle gives the page a beat on both sides of script
// installation before a snapshot is taken.
const injectionSettle = 100 * time.Millisecond

// Dispatcher executes commands against one Session. Commands are serialized;
// the agent protocol is strictly request/response.
type Dispatcher struct {
	session  *Session
	capturer *snapshot.Capturer
	cfg      config.PilotConfig
	snapCfg  config.SnapshotConfig
	logger   *zap.Logger

	mu    sync.Mutex
	sleep func(context.Context, time.Duration)
}

// NewDispatcher wires a dispatcher over a session.
func NewDispatcher(session *Session, capturer *snapshot.Capturer, cfg config.PilotConfig, snapCfg config.SnapshotConfig, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		session:  session,
		capturer: capturer,
		cfg:      cfg,
		snapCfg:  snapCfg,
		logger:   logger.Named("dispatcher"),
		sleep:    sleepCtx,
	}
}

// Execute runs one command to completion. It never returns an error: every
// failure mode, a panic included, becomes a failure result.
func (d *Dispatcher) Execute(ctx context.Context, req schemas.CommandRequest) (result schemas.CommandResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic during command execution.",
				zap.String("action", string(req.Action)), zap.Any("panic", r))
			result = schemas.Failure(fmt.Sprintf("%v", r))
		}
	}()

	d.logger.Debug("Executing command.", zap.String("action", string(req.Action)))

	if !req.Action.Valid() {
		return schemas.Failure(errInvalidAction)
	}
	if req.Action.RequiresText() && req.Text == "" {
		if req.Action == schemas.ActionOpenURL {
			return schemas.Failure(errURLRequired)
		}
		return schemas.Failure(errTextRequired)
	}
	if req.Action.RequiresIndex() && req.Index == nil {
		return schemas.Failure(errIndexRequired)
	}

	if req.Action == schemas.ActionOpenURL {
		return d.openURL(ctx, req.Text)
	}

	page := d.session.Page()
	if page == nil {
		return schemas.Failure(errNoPage)
	}

	switch req.Action {
	case schemas.ActionInputText:
		return d.inputText(ctx, page, *req.Index, req.Text)
	case schemas.ActionClick:
		return d.click(ctx, page, *req.Index, schemas.MouseLeft, 1)
	case schemas.ActionRightClick:
		return d.click(ctx, page, *req.Index, schemas.MouseRight, 1)
	case schemas.ActionDoubleClick:
		return d.click(ctx, page, *req.Index, schemas.MouseLeft, 2)
	case schemas.ActionScrollTo:
		return d.scrollTo(ctx, page, *req.Index)
	case schemas.ActionExtractContent:
		return d.extractContent(ctx, page)
	case schemas.ActionGetDropdownOptions:
		return d.getDropdownOptions(ctx, page, *req.Index)
	case schemas.ActionSelectDropdownOption:
		return d.selectDropdownOption(ctx, page, *req.Index, req.Text)
	case schemas.ActionScreenshotExtract:
		return d.screenshotExtract(ctx, page)
	}
	return schemas.Failure(errInvalidAction)
}

// resolve turns a highlight index into a live element handle. Both a map
// miss and a locator that no longer matches the document are soft outcomes.
func (d *Dispatcher) resolve(ctx context.Context, page schemas.PageDriver, index int) (schemas.ElementHandle, string, *schemas.CommandResult) {
	loc, ok := d.session.Locator(index)
	if !ok {
		res := schemas.Failure(errElementMissing)
		return nil, "", &res
	}
	handle, err := page.Query(ctx, loc)
	if err != nil {
		res := schemas.Failure(err.Error())
		return nil, "", &res
	}
	if handle == nil {
		res := schemas.Failure(errElementMissing)
		return nil, "", &res
	}
	return handle, loc, nil
}

// -- Command handlers --

func (d *Dispatcher) openURL(ctx context.Context, url string) schemas.CommandResult {
	// Fresh page per navigation; OpenPage also drops the old selector map.
	page, err := d.session.OpenPage(ctx)
	if err != nil {
		return schemas.Failure(err.Error())
	}

	err = page.Navigate(ctx, url, schemas.NavigateOptions{
		Timeout:   d.cfg.NavigationTimeout,
		WaitUntil: schemas.LoadStateNetworkIdle,
	})
	if err != nil {
		return schemas.Failure(err.Error())
	}
	if err := page.WaitForLoadState(ctx, schemas.LoadStateLoad); err != nil {
		return schemas.Failure(err.Error())
	}

	title, _ := page.Title(ctx)
	current, _ := page.URL(ctx)
	return schemas.CommandResult{Success: true, Title: title, URL: current}
}

func (d *Dispatcher) inputText(ctx context.Context, page schemas.PageDriver, index int, text string) schemas.CommandResult {
	handle, _, fail := d.resolve(ctx, page, index)
	if fail != nil {
		return *fail
	}
	if err := handle.Fill(ctx, text); err != nil {
		return schemas.Failure(err.Error())
	}
	d.sleep(ctx, d.cfg.InputSettle)
	return schemas.CommandResult{Success: true}
}

func (d *Dispatcher) click(ctx context.Context, page schemas.PageDriver, index int, button schemas.MouseButton, clickCount int) schemas.CommandResult {
	handle, _, fail := d.resolve(ctx, page, index)
	if fail != nil {
		return *fail
	}
	if err := handle.Click(ctx, button, clickCount); err != nil {
		return schemas.Failure(err.Error())
	}
	d.sleep(ctx, d.cfg.ClickSettle)
	return schemas.CommandResult{Success: true}
}

func (d *Dispatcher) scrollTo(ctx context.Context, page schemas.PageDriver, index int) schemas.CommandResult {
	_, loc, fail := d.resolve(ctx, page, index)
	if fail != nil {
		return *fail
	}

	script := fmt.Sprintf(`(() => {
		const el = document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!el) return false;
		el.scrollIntoView({behavior: 'smooth', block: 'center'});
		return true;
	})()`, jsString(loc))

	var found bool
	if err := page.Evaluate(ctx, script, &found); err != nil {
		return schemas.Failure(err.Error())
	}
	if !found {
		return schemas.Failure(errElementMissing)
	}
	d.sleep(ctx, d.cfg.ScrollSettle)
	return schemas.CommandResult{Success: true}
}

func (d *Dispatcher) extractContent(ctx context.Context, page schemas.PageDriver) schemas.CommandResult {
	html, err := page.Content(ctx)
	if err != nil {
		return schemas.Failure(err.Error())
	}
	text, err := content.Extract(html)
	if err != nil {
		return schemas.Failure(err.Error())
	}
	title, _ := page.Title(ctx)
	current, _ := page.URL(ctx)
	return schemas.CommandResult{Success: true, Content: text, Title: title, URL: current}
}

func (d *Dispatcher) getDropdownOptions(ctx context.Context, page schemas.PageDriver, index int) schemas.CommandResult {
	_, loc, fail := d.resolve(ctx, page, index)
	if fail != nil {
		return *fail
	}

	script := fmt.Sprintf(`(() => {
		const el = document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!el || el.tagName.toLowerCase() !== 'select') return null;
		return {
			options: Array.from(el.options).map((opt, idx) => ({
				index: idx,
				text: opt.text.trim(),
				value: opt.value,
			})),
			id: el.id,
			name: el.name,
		};
	})()`, jsString(loc))

	var info *schemas.DropdownInfo
	if err := page.Evaluate(ctx, script, &info); err != nil {
		return schemas.Failure(err.Error())
	}
	if info == nil {
		return schemas.Failure(errNotSelect)
	}
	return schemas.CommandResult{Success: true, Dropdown: info}
}

func (d *Dispatcher) selectDropdownOption(ctx context.Context, page schemas.PageDriver, index int, optionText string) schemas.CommandResult {
	_, loc, fail := d.resolve(ctx, page, index)
	if fail != nil {
		return *fail
	}

	script := fmt.Sprintf(`(() => {
		const el = document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!el || el.tagName.toLowerCase() !== 'select') {
			return {found: false, notSelect: true};
		}
		const target = %s;
		for (const opt of Array.from(el.options)) {
			if (opt.text.trim() === target) {
				el.value = opt.value;
				el.dispatchEvent(new Event('input', {bubbles: true}));
				el.dispatchEvent(new Event('change', {bubbles: true}));
				return {found: true, value: opt.value, text: opt.text.trim()};
			}
		}
		return {found: false, availableOptions: Array.from(el.options).map(o => o.text.trim())};
	})()`, jsString(loc), jsString(optionText))

	var res struct {
		Found            bool     `json:"found"`
		NotSelect        bool     `json:"notSelect"`
		Value            string   `json:"value"`
		Text             string   `json:"text"`
		AvailableOptions []string `json:"availableOptions"`
	}
	if err := page.Evaluate(ctx, script, &res); err != nil {
		return schemas.Failure(err.Error())
	}
	if res.NotSelect {
		return schemas.Failure(errNotSelect)
	}
	if !res.Found {
		out := schemas.Failure(errOptionNotFound)
		out.AvailableOptions = res.AvailableOptions
		return out
	}
	d.sleep(ctx, d.cfg.InputSettle)
	return schemas.CommandResult{Success: true, SelectedValue: res.Value, SelectedText: res.Text}
}

func (d *Dispatcher) screenshotExtract(ctx context.Context, page schemas.PageDriver) schemas.CommandResult {
	d.sleep(ctx, injectionSettle)
	if err := d.capturer.EnsureInjected(ctx, page); err != nil {
		return schemas.Failure(err.Error())
	}
	d.sleep(ctx, injectionSettle)

	snap, err := d.capturer.Capture(ctx, page, d.snapCfg.HighlightElements)
	if err != nil {
		return schemas.Failure(err.Error())
	}
	d.session.ReplaceSelectors(snap.Selectors)

	img, err := page.Screenshot(ctx, schemas.ScreenshotOptions{
		Format:  d.snapCfg.ScreenshotFormat,
		Quality: d.snapCfg.ScreenshotQuality,
	})
	if err != nil {
		return schemas.Failure(err.Error())
	}

	if d.snapCfg.HighlightElements {
		if rmErr := d.capturer.RemoveHighlight(ctx, page); rmErr != nil {
			d.logger.Warn("Failed to remove highlight overlay.", zap.Error(rmErr))
		}
	}

	mediaType := "image/jpeg"
	if d.snapCfg.ScreenshotFormat == "png" {
		mediaType = "image/png"
	}
	return schemas.CommandResult{
		Success:  true,
		Elements: snap.Elements,
		Screenshot: &schemas.ScreenshotData{
			Type:      "base64",
			MediaType: mediaType,
			Data:      base64.StdEncoding.EncodeToString(img),
		},
	}
}

// -- Helpers --

// jsString encodes a Go string as a JavaScript string literal.
func jsString(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}

// sleepCtx is a context-aware time.Sleep.
func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
