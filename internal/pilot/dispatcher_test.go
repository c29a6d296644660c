// internal/pilot/dispatcher_test.go
package pilot

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass-cli/api/schemas"
	"github.com/xkilldash9x/spyglass-cli/internal/config"
	"github.com/xkilldash9x/spyglass-cli/internal/snapshot"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Fakes --

type fakeElement struct {
	clicks     []string // "left:1", "right:1", "left:2"
	filledWith []string
	clickErr   error
	clickPanic bool
}

func (e *fakeElement) Click(_ context.Context, button schemas.MouseButton, clickCount int) error {
	if e.clickPanic {
		panic("element detached mid-click")
	}
	if e.clickErr != nil {
		return e.clickErr
	}
	e.clicks = append(e.clicks, fmt.Sprintf("%s:%d", button, clickCount))
	return nil
}

func (e *fakeElement) Fill(_ context.Context, text string) error {
	e.filledWith = append(e.filledWith, text)
	return nil
}

// fakePage scripts every driver surface the dispatcher touches. Evaluate
// dispatches on distinctive substrings of the scripts the dispatcher and
// capturer generate.
type fakePage struct {
	installed      bool
	capturePayload string
	elements       map[string]*fakeElement

	html       string
	title      string
	currentURL string
	screenshot []byte

	dropdownJSON string // payload for the option-listing script
	selectJSON   string // payload for the option-selecting script
	scrollFound  bool

	navigated  []string
	closed     bool
	closeCount int
}

var _ schemas.PageDriver = (*fakePage)(nil)

func (f *fakePage) Navigate(_ context.Context, url string, _ schemas.NavigateOptions) error {
	f.navigated = append(f.navigated, url)
	f.currentURL = url
	f.installed = false // navigation replaces the document
	return nil
}

func (f *fakePage) WaitForLoadState(context.Context, schemas.LoadState) error { return nil }

func (f *fakePage) Evaluate(_ context.Context, script string, out interface{}) error {
	unmarshal := func(payload string) error {
		if out == nil {
			return nil
		}
		return json.Unmarshal([]byte(payload), out)
	}
	switch {
	case strings.Contains(script, "__spyglass !== 'undefined'"):
		*(out.(*bool)) = f.installed
		return nil
	case strings.Contains(script, "OVERLAY_CONTAINER_ID"):
		f.installed = true
		return nil
	case strings.Contains(script, ".capture("):
		return unmarshal(f.capturePayload)
	case strings.Contains(script, "removeHighlight"):
		return nil
	case strings.Contains(script, "scrollIntoView"):
		*(out.(*bool)) = f.scrollFound
		return nil
	case strings.Contains(script, "options: Array.from"):
		return unmarshal(f.dropdownJSON)
	case strings.Contains(script, "dispatchEvent"):
		return unmarshal(f.selectJSON)
	default:
		return fmt.Errorf("unexpected script: %.60s", script)
	}
}

func (f *fakePage) Query(_ context.Context, xpath string) (schemas.ElementHandle, error) {
	el, ok := f.elements[xpath]
	if !ok {
		return nil, nil
	}
	return el, nil
}

func (f *fakePage) Screenshot(context.Context, schemas.ScreenshotOptions) ([]byte, error) {
	return f.screenshot, nil
}

func (f *fakePage) Content(context.Context) (string, error) { return f.html, nil }
func (f *fakePage) Title(context.Context) (string, error)   { return f.title, nil }
func (f *fakePage) URL(context.Context) (string, error)     { return f.currentURL, nil }
func (f *fakePage) Close(context.Context) error {
	f.closed = true
	f.closeCount++
	return nil
}

// fakeBrowser hands out the same fake page object on every mint so tests
// keep a stable handle on recorded state; minted counts the NewPage calls.
type fakeBrowser struct {
	page      *fakePage
	minted    int
	shutdowns int
}

var _ schemas.BrowserDriver = (*fakeBrowser)(nil)

func (b *fakeBrowser) NewPage(context.Context) (schemas.PageDriver, error) {
	b.minted++
	return b.page, nil
}
func (b *fakeBrowser) Shutdown(context.Context) error                      { b.shutdowns++; return nil }

// -- Fixtures --

const formCapturePayload = `{
  "tagName": "body",
  "xpath": "html/body",
  "attributes": {},
  "isVisible": true,
  "children": [
    {
      "tagName": "input",
      "xpath": "html/body/input",
      "attributes": {"type": "text", "name": "q"},
      "isVisible": true, "isInteractive": true, "isTopElement": true,
      "highlightIndex": 0,
      "children": []
    },
    {
      "tagName": "select",
      "xpath": "html/body/select",
      "attributes": {"name": "lang"},
      "isVisible": true, "isInteractive": true, "isTopElement": true,
      "highlightIndex": 1,
      "children": []
    }
  ]
}`

func newTestRig(t *testing.T) (*Dispatcher, *fakePage, *fakeBrowser) {
	t.Helper()
	page := &fakePage{
		capturePayload: formCapturePayload,
		elements: map[string]*fakeElement{
			"html/body/input":  {},
			"html/body/select": {},
		},
		title:       "Example",
		html:        "<html><body><main>Hello</main></body></html>",
		screenshot:  []byte{0xff, 0xd8, 0xff},
		scrollFound: true,
	}
	browser := &fakeBrowser{page: page}

	session := NewSession(browser, zap.NewNop())
	capturer := snapshot.NewCapturer(zap.NewNop(), nil)
	d := NewDispatcher(session, capturer,
		config.PilotConfig{
			NavigationTimeout: time.Second,
			InputSettle:       200 * time.Millisecond,
			ClickSettle:       100 * time.Millisecond,
			ScrollSettle:      500 * time.Millisecond,
		},
		config.SnapshotConfig{
			HighlightElements: true,
			ScreenshotFormat:  "jpeg",
			ScreenshotQuality: 50,
		},
		zap.NewNop(),
	)
	d.sleep = func(context.Context, time.Duration) {}
	return d, page, browser
}

func intPtr(i int) *int { return &i }

func open(t *testing.T, d *Dispatcher, url string) {
	t.Helper()
	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionOpenURL, Text: url,
	})
	require.True(t, res.Success, res.Error)
}

func snap(t *testing.T, d *Dispatcher) schemas.CommandResult {
	t.Helper()
	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionScreenshotExtract,
	})
	require.True(t, res.Success, res.Error)
	return res
}

// -- Tests --

func TestOpenURL(t *testing.T) {
	d, page, _ := newTestRig(t)

	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionOpenURL, Text: "https://example.com",
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Example", res.Title)
	assert.Equal(t, "https://example.com", res.URL)
	assert.Equal(t, []string{"https://example.com"}, page.navigated)
}

// Each open_url replaces the page wholesale rather than navigating the old
// handle in place.
func TestOpenURLReplacesPage(t *testing.T) {
	d, page, browser := newTestRig(t)

	open(t, d, "https://example.com")
	assert.Equal(t, 1, browser.minted)
	assert.Equal(t, 0, page.closeCount)

	open(t, d, "https://example.org")
	assert.Equal(t, 2, browser.minted, "second open_url mints a fresh page")
	assert.Equal(t, 1, page.closeCount, "the previous page is closed")
}

func TestCommandsRequireOpenPage(t *testing.T) {
	d, _, _ := newTestRig(t)

	for _, action := range []schemas.Action{
		schemas.ActionClick, schemas.ActionExtractContent, schemas.ActionScreenshotExtract,
	} {
		req := schemas.CommandRequest{Action: action}
		if action.RequiresIndex() {
			req.Index = intPtr(0)
		}
		res := d.Execute(context.Background(), req)
		assert.False(t, res.Success)
		assert.Equal(t, "No page is open", res.Error, "action %s", action)
	}
}

func TestInvalidAction(t *testing.T) {
	d, _, _ := newTestRig(t)

	res := d.Execute(context.Background(), schemas.CommandRequest{Action: "teleport"})
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid action", res.Error)
}

func TestParameterValidation(t *testing.T) {
	d, _, _ := newTestRig(t)
	open(t, d, "https://example.com")

	res := d.Execute(context.Background(), schemas.CommandRequest{Action: schemas.ActionClick})
	assert.Equal(t, "Index is required", res.Error)

	res = d.Execute(context.Background(), schemas.CommandRequest{Action: schemas.ActionOpenURL})
	assert.Equal(t, "URL is required", res.Error)

	res = d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionInputText, Index: intPtr(0),
	})
	assert.Equal(t, "Text is required", res.Error)
}

func TestSnapshotThenInteract(t *testing.T) {
	d, page, _ := newTestRig(t)
	open(t, d, "https://example.com")

	res := snap(t, d)
	lines := strings.Split(res.Elements, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `[0]:<input type="text" name="q"></input>`, lines[0])
	assert.Equal(t, `[1]:<select name="lang"></select>`, lines[1])
	require.NotNil(t, res.Screenshot)
	assert.Equal(t, "base64", res.Screenshot.Type)
	assert.Equal(t, "image/jpeg", res.Screenshot.MediaType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(page.screenshot), res.Screenshot.Data)

	clickRes := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionClick, Index: intPtr(0),
	})
	require.True(t, clickRes.Success, clickRes.Error)
	assert.Equal(t, []string{"left:1"}, page.elements["html/body/input"].clicks)

	fillRes := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionInputText, Index: intPtr(0), Text: "golang",
	})
	require.True(t, fillRes.Success, fillRes.Error)
	assert.Equal(t, []string{"golang"}, page.elements["html/body/input"].filledWith)
}

func TestRightAndDoubleClick(t *testing.T) {
	d, page, _ := newTestRig(t)
	open(t, d, "https://example.com")
	snap(t, d)

	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionRightClick, Index: intPtr(0),
	})
	require.True(t, res.Success, res.Error)

	res = d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionDoubleClick, Index: intPtr(0),
	})
	require.True(t, res.Success, res.Error)

	assert.Equal(t, []string{"right:1", "left:2"}, page.elements["html/body/input"].clicks)
}

func TestMissingIndex(t *testing.T) {
	d, _, _ := newTestRig(t)
	open(t, d, "https://example.com")
	snap(t, d)

	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionClick, Index: intPtr(42),
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Element does not exist", res.Error)
}

func TestStaleIndexAfterElementRemoved(t *testing.T) {
	d, page, _ := newTestRig(t)
	open(t, d, "https://example.com")
	snap(t, d)

	// The element vanished between snapshot and command.
	delete(page.elements, "html/body/input")

	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionClick, Index: intPtr(0),
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Element does not exist", res.Error)
}

func TestNavigationInvalidatesIndices(t *testing.T) {
	d, _, _ := newTestRig(t)
	open(t, d, "https://example.com")
	snap(t, d)

	open(t, d, "https://example.org")

	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionClick, Index: intPtr(0),
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Element does not exist", res.Error)
}

func TestSnapshotDeterministic(t *testing.T) {
	d, _, _ := newTestRig(t)
	open(t, d, "https://example.com")

	first := snap(t, d)
	second := snap(t, d)
	assert.Equal(t, first.Elements, second.Elements)
}

func TestExtractContent(t *testing.T) {
	d, _, _ := newTestRig(t)
	open(t, d, "https://example.com")

	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionExtractContent,
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Hello", res.Content)
	assert.Equal(t, "Example", res.Title)
}

func TestGetDropdownOptions(t *testing.T) {
	d, page, _ := newTestRig(t)
	open(t, d, "https://example.com")
	snap(t, d)

	page.dropdownJSON = `{
		"options": [
			{"index": 0, "text": "Go", "value": "go"},
			{"index": 1, "text": "Rust", "value": "rs"}
		],
		"id": "lang-select",
		"name": "lang"
	}`

	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionGetDropdownOptions, Index: intPtr(1),
	})
	require.True(t, res.Success, res.Error)
	require.NotNil(t, res.Dropdown)
	assert.Equal(t, "lang-select", res.Dropdown.ID)
	require.Len(t, res.Dropdown.Options, 2)
	assert.Equal(t, "Go", res.Dropdown.Options[0].Text)
}

func TestGetDropdownOptionsOnNonSelect(t *testing.T) {
	d, page, _ := newTestRig(t)
	open(t, d, "https://example.com")
	snap(t, d)

	page.dropdownJSON = `null`
	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionGetDropdownOptions, Index: intPtr(0),
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Element is not a select dropdown", res.Error)
}

func TestSelectDropdownOption(t *testing.T) {
	d, page, _ := newTestRig(t)
	open(t, d, "https://example.com")
	snap(t, d)

	page.selectJSON = `{"found": true, "value": "go", "text": "Go"}`
	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionSelectDropdownOption, Index: intPtr(1), Text: "Go",
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "go", res.SelectedValue)
	assert.Equal(t, "Go", res.SelectedText)
}

func TestSelectDropdownOptionNotFound(t *testing.T) {
	d, page, _ := newTestRig(t)
	open(t, d, "https://example.com")
	snap(t, d)

	page.selectJSON = `{"found": false, "availableOptions": ["Go", "Rust"]}`
	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionSelectDropdownOption, Index: intPtr(1), Text: "Cobol",
	})
	assert.False(t, res.Success)
	assert.Equal(t, "Option not found", res.Error)
	assert.Equal(t, []string{"Go", "Rust"}, res.AvailableOptions)
}

func TestScrollTo(t *testing.T) {
	d, _, _ := newTestRig(t)
	open(t, d, "https://example.com")
	snap(t, d)

	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionScrollTo, Index: intPtr(0),
	})
	require.True(t, res.Success, res.Error)
}

func TestPanicBecomesFailureResult(t *testing.T) {
	d, page, _ := newTestRig(t)
	open(t, d, "https://example.com")
	snap(t, d)

	page.elements["html/body/input"].clickPanic = true
	res := d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionClick, Index: intPtr(0),
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "element detached mid-click")

	// The dispatcher keeps working afterwards.
	res = d.Execute(context.Background(), schemas.CommandRequest{
		Action: schemas.ActionExtractContent,
	})
	assert.True(t, res.Success, res.Error)
}

func TestTeardown(t *testing.T) {
	d, page, browser := newTestRig(t)
	open(t, d, "https://example.com")

	require.NoError(t, d.session.Teardown(context.Background()))
	assert.True(t, page.closed)
	assert.Equal(t, 1, browser.shutdowns)

	// Teardown before any page exists must also be safe.
	fresh := NewSession(&fakeBrowser{page: &fakePage{}}, zap.NewNop())
	require.NoError(t, fresh.Teardown(context.Background()))
}
