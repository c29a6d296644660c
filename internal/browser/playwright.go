// internal/browser/playwright.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass-cli/api/schemas"
	"github.com/xkilldash9x/spyglass-cli/internal/config"
)

const playwrightInstallTimeout = 5 * time.Minute

// PlaywrightDriver owns one Playwright driver process and one Chromium
// instance. Initialization is deferred until the first page is requested, so
// constructing the driver never launches a browser.
type PlaywrightDriver struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	pw      *playwright.Playwright
	browser playwright.Browser

	initOnce sync.Once
	initErr  error

	shutdownOnce sync.Once
}

var _ schemas.BrowserDriver = (*PlaywrightDriver)(nil)

// NewPlaywrightDriver creates the driver without launching anything.
func NewPlaywrightDriver(cfg config.BrowserConfig, logger *zap.Logger) *PlaywrightDriver {
	return &PlaywrightDriver{
		logger: logger.Named("playwright_driver"),
		cfg:    cfg,
	}
}

func (d *PlaywrightDriver) initialize(ctx context.Context) error {
	d.initOnce.Do(func() {
		d.logger.Info("Initializing Playwright and launching browser...")

		if d.cfg.InstallBrowsers {
			if err := d.ensureInstallation(ctx); err != nil {
				d.initErr = err
				return
			}
		}

		pw, err := playwright.Run()
		if err != nil {
			d.initErr = fmt.Errorf("failed to start playwright driver: %w", err)
			return
		}
		d.pw = pw

		browser, err := pw.Chromium.Launch(d.launchOptions())
		if err != nil {
			pw.Stop()
			d.initErr = fmt.Errorf("failed to launch browser instance: %w", err)
			return
		}
		d.browser = browser

		d.logger.Info("Browser launched.", zap.String("browser_version", browser.Version()))
	})
	return d.initErr
}

// ensureInstallation downloads the Chromium build Playwright expects. The
// install command blocks, so it runs in a goroutine bounded by the context.
func (d *PlaywrightDriver) ensureInstallation(ctx context.Context) error {
	d.logger.Info("Verifying Playwright browser installation...")
	installCtx, cancel := context.WithTimeout(ctx, playwrightInstallTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		options := &playwright.RunOptions{Browsers: []string{"chromium"}}
		if err := playwright.Install(options); err != nil {
			errCh <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}

func (d *PlaywrightDriver) launchOptions() playwright.BrowserTypeLaunchOptions {
	// Defaults needed for stability in containers.
	args := []string{
		"--disable-gpu",
		"--no-sandbox",
		"--disable-dev-shm-usage",
	}
	args = append(args, d.cfg.Args...)
	return playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.cfg.Headless),
		Args:     args,
		Timeout:  playwright.Float(60000),
	}
}

// NewPage opens a fresh tab with the configured viewport.
func (d *PlaywrightDriver) NewPage(ctx context.Context) (schemas.PageDriver, error) {
	if err := d.initialize(ctx); err != nil {
		return nil, err
	}

	page, err := d.browser.NewPage(playwright.BrowserNewPageOptions{
		Viewport: &playwright.Size{
			Width:  d.cfg.ViewportWidth,
			Height: d.cfg.ViewportHeight,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	d.logger.Debug("Opened new page.")
	return &playwrightPage{page: page, logger: d.logger}, nil
}

// Shutdown stops the browser and the driver process. Safe to call when
// initialization never ran, and idempotent.
func (d *PlaywrightDriver) Shutdown(ctx context.Context) error {
	var err error
	d.shutdownOnce.Do(func() {
		if d.pw == nil {
			d.logger.Debug("Driver never initialized, nothing to shut down.")
			return
		}
		d.logger.Info("Shutting down browser.")
		if d.browser != nil {
			if closeErr := d.browser.Close(); closeErr != nil {
				err = fmt.Errorf("failed to close browser: %w", closeErr)
			}
		}
		if stopErr := d.pw.Stop(); stopErr != nil && err == nil {
			err = fmt.Errorf("failed to stop playwright driver: %w", stopErr)
		}
	})
	return err
}

// -- Page --

type playwrightPage struct {
	page   playwright.Page
	logger *zap.Logger
}

var _ schemas.PageDriver = (*playwrightPage)(nil)

func (p *playwrightPage) Navigate(ctx context.Context, url string, opts schemas.NavigateOptions) error {
	gotoOpts := playwright.PageGotoOptions{}
	if opts.Timeout > 0 {
		gotoOpts.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}
	switch opts.WaitUntil {
	case schemas.LoadStateNetworkIdle:
		gotoOpts.WaitUntil = playwright.WaitUntilStateNetworkidle
	case schemas.LoadStateLoad:
		gotoOpts.WaitUntil = playwright.WaitUntilStateLoad
	}
	if _, err := p.page.Goto(url, gotoOpts); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *playwrightPage) WaitForLoadState(ctx context.Context, state schemas.LoadState) error {
	target := playwright.LoadStateLoad
	if state == schemas.LoadStateNetworkIdle {
		target = playwright.LoadStateNetworkidle
	}
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{State: target})
}

func (p *playwrightPage) Evaluate(ctx context.Context, script string, out interface{}) error {
	result, err := p.page.Evaluate(script)
	if err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	if out == nil {
		return nil
	}
	return decodeInto(result, out)
}

func (p *playwrightPage) Query(ctx context.Context, xpath string) (schemas.ElementHandle, error) {
	handle, err := p.page.QuerySelector("xpath=" + xpath)
	if err != nil {
		return nil, fmt.Errorf("locator query failed: %w", err)
	}
	if handle == nil {
		return nil, nil
	}
	return &playwrightElement{handle: handle}, nil
}

func (p *playwrightPage) Screenshot(ctx context.Context, opts schemas.ScreenshotOptions) ([]byte, error) {
	shotOpts := playwright.PageScreenshotOptions{}
	if opts.Format == "jpeg" {
		shotOpts.Type = playwright.ScreenshotTypeJpeg
		shotOpts.Quality = playwright.Int(opts.Quality)
	} else {
		shotOpts.Type = playwright.ScreenshotTypePng
	}
	data, err := p.page.Screenshot(shotOpts)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

func (p *playwrightPage) Content(ctx context.Context) (string, error) {
	return p.page.Content()
}

func (p *playwrightPage) Title(ctx context.Context) (string, error) {
	return p.page.Title()
}

func (p *playwrightPage) URL(ctx context.Context) (string, error) {
	return p.page.URL(), nil
}

func (p *playwrightPage) Close(ctx context.Context) error {
	return p.page.Close()
}

// -- Element --

type playwrightElement struct {
	handle playwright.ElementHandle
}

var _ schemas.ElementHandle = (*playwrightElement)(nil)

func (e *playwrightElement) Click(ctx context.Context, button schemas.MouseButton, clickCount int) error {
	opts := playwright.ElementHandleClickOptions{
		Force: playwright.Bool(true),
	}
	if button == schemas.MouseRight {
		opts.Button = playwright.MouseButtonRight
	}
	if clickCount > 1 {
		opts.ClickCount = playwright.Int(clickCount)
	}
	return e.handle.Click(opts)
}

func (e *playwrightElement) Fill(ctx context.Context, text string) error {
	return e.handle.Fill(text, playwright.ElementHandleFillOptions{
		Force: playwright.Bool(true),
	})
}
