// internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass-cli/api/schemas"
	"github.com/xkilldash9x/spyglass-cli/internal/config"
)

// ChromedpDriver drives Chrome over raw CDP. Selected with
// browser.engine=chromedp for hosts where the Playwright node driver is
// unavailable.
type ChromedpDriver struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc

	initOnce     sync.Once
	shutdownOnce sync.Once
}

var _ schemas.BrowserDriver = (*ChromedpDriver)(nil)

// NewChromedpDriver creates the driver; the allocator starts on first use.
func NewChromedpDriver(cfg config.BrowserConfig, logger *zap.Logger) *ChromedpDriver {
	return &ChromedpDriver{
		logger: logger.Named("chromedp_driver"),
		cfg:    cfg,
	}
}

func (d *ChromedpDriver) initialize() {
	d.initOnce.Do(func() {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		opts = append(opts,
			chromedp.WindowSize(d.cfg.ViewportWidth, d.cfg.ViewportHeight),
			chromedp.Flag("disable-gpu", true),
			chromedp.NoSandbox,
		)
		if !d.cfg.Headless {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		for _, arg := range d.cfg.Args {
			name := strings.TrimPrefix(arg, "--")
			if eq := strings.IndexByte(name, '='); eq >= 0 {
				opts = append(opts, chromedp.Flag(name[:eq], name[eq+1:]))
			} else {
				opts = append(opts, chromedp.Flag(name, true))
			}
		}
		d.allocCtx, d.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		d.logger.Info("Chrome allocator prepared.")
	})
}

// NewPage opens a fresh browser target.
func (d *ChromedpDriver) NewPage(ctx context.Context) (schemas.PageDriver, error) {
	d.initialize()

	pageCtx, cancel := chromedp.NewContext(d.allocCtx)
	// An empty Run materializes the target (and, for the first page, the
	// browser process itself).
	if err := chromedp.Run(pageCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	d.logger.Debug("Opened new page.")
	return &chromedpPage{ctx: pageCtx, cancel: cancel, logger: d.logger}, nil
}

// Shutdown tears the allocator down, killing the browser process. Safe when
// no page was ever opened, and idempotent.
func (d *ChromedpDriver) Shutdown(ctx context.Context) error {
	d.shutdownOnce.Do(func() {
		if d.allocCancel != nil {
			d.logger.Info("Shutting down browser.")
			d.allocCancel()
		}
	})
	return nil
}

// -- Page --

type chromedpPage struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

var _ schemas.PageDriver = (*chromedpPage)(nil)

// run executes actions against the target, bounded by the caller's context.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := p.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(p.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (p *chromedpPage) Navigate(ctx context.Context, url string, opts schemas.NavigateOptions) error {
	navCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	err := p.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return p.WaitForLoadState(navCtx, opts.WaitUntil)
}

func (p *chromedpPage) WaitForLoadState(ctx context.Context, state schemas.LoadState) error {
	return p.run(ctx, chromedp.Evaluate(loadStateScript(state), nil, evalOptions))
}

// CDP exposes no network-idle lifecycle event, so idleness is inferred in
// the page: the document is complete and the resource timeline has been
// quiet for half a second.
const networkIdleScript = `new Promise((resolve) => {
	let last = performance.getEntriesByType('resource').length;
	let quietSince = Date.now();
	const tick = () => {
		const count = performance.getEntriesByType('resource').length;
		if (count !== last) { last = count; quietSince = Date.now(); }
		if (document.readyState === 'complete' && Date.now() - quietSince >= 500) {
			resolve(true);
			return;
		}
		setTimeout(tick, 100);
	};
	tick();
})`

const documentLoadedScript = `new Promise((resolve) => {
	const check = () => {
		if (document.readyState === 'complete') { resolve(true); return; }
		setTimeout(check, 50);
	};
	check();
})`

// loadStateScript returns a promise-returning expression that settles once
// the requested lifecycle state is reached.
func loadStateScript(state schemas.LoadState) string {
	if state == schemas.LoadStateNetworkIdle {
		return networkIdleScript
	}
	return documentLoadedScript
}

func evalOptions(params *runtime.EvaluateParams) *runtime.EvaluateParams {
	return params.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
}

func (p *chromedpPage) Evaluate(ctx context.Context, script string, out interface{}) error {
	if err := p.run(ctx, chromedp.Evaluate(script, out, evalOptions)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

func (p *chromedpPage) Query(ctx context.Context, xpath string) (schemas.ElementHandle, error) {
	var nodes []*cdp.Node
	err := p.run(ctx, chromedp.Nodes(xpath, &nodes, chromedp.BySearch, chromedp.AtLeast(0)))
	if err != nil {
		return nil, fmt.Errorf("locator query failed: %w", err)
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &chromedpElement{page: p, node: nodes[0], xpath: xpath}, nil
}

func (p *chromedpPage) Screenshot(ctx context.Context, opts schemas.ScreenshotOptions) ([]byte, error) {
	format := cdppage.CaptureScreenshotFormatPng
	if opts.Format == "jpeg" {
		format = cdppage.CaptureScreenshotFormatJpeg
	}
	var data []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := cdppage.CaptureScreenshot().WithFormat(format)
		if format == cdppage.CaptureScreenshotFormatJpeg {
			params = params.WithQuality(int64(opts.Quality))
		}
		var err error
		data, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

func (p *chromedpPage) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

func (p *chromedpPage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (p *chromedpPage) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *chromedpPage) Close(ctx context.Context) error {
	p.cancel()
	return nil
}

// -- Element --

type chromedpElement struct {
	page  *chromedpPage
	node  *cdp.Node
	xpath string
}

var _ schemas.ElementHandle = (*chromedpElement)(nil)

func (e *chromedpElement) Click(ctx context.Context, button schemas.MouseButton, clickCount int) error {
	return e.page.run(ctx, chromedp.MouseClickNode(e.node, mouseOptions(button, clickCount)...))
}

// mouseOptions maps the abstract click parameters onto CDP mouse options.
func mouseOptions(button schemas.MouseButton, clickCount int) []chromedp.MouseOption {
	opts := []chromedp.MouseOption{}
	if button == schemas.MouseRight {
		opts = append(opts, chromedp.ButtonType(input.Right))
	}
	if clickCount > 1 {
		opts = append(opts, chromedp.ClickCount(clickCount))
	}
	return opts
}

func (e *chromedpElement) Fill(ctx context.Context, text string) error {
	return e.page.run(ctx, chromedp.SetValue(e.xpath, text, chromedp.BySearch))
}
