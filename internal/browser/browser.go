package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/fiscusdev/grocery-price-scraper/internal/scraper"
)

// Browser owns the playwright runtime and one launched Chromium
// instance. Store scrapes never share it directly: each one gets a
// Session with its own BrowserContext, so cookies and localStorage set
// for one store can never leak into another store's scrape.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "uk-UA,uk;q=0.9,en;q=0.8",
		TimezoneID:     "Europe/Kyiv",
		Locale:         "uk-UA",
	}
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultOptions().UserAgent
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--window-size=1920,1080",
			"--user-agent=" + opts.UserAgent,
		},
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		opts:    opts,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

// NewSession opens an isolated BrowserContext with a single page. The
// caller owns the session for the duration of one store scrape and must
// close it on every exit path.
func (b *Browser) NewSession(ctx context.Context) (scraper.Session, error) {
	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &b.opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &b.opts.Locale,
		TimezoneId:        &b.opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  b.opts.ViewportWidth,
			Height: b.opts.ViewportHeight,
		},
		ExtraHttpHeaders: map[string]string{
			"Accept-Language": b.opts.AcceptLanguage,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"DNT":             "1",
		},
	}

	browserCtx, err := b.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return &Session{
		context: browserCtx,
		page:    page,
		timeout: b.opts.Timeout,
		logger:  b.logger,
	}, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// Session is one isolated browsing surface backing a single store
// scrape. Implements the scraper.Session contract.
type Session struct {
	context playwright.BrowserContext
	page    playwright.Page
	timeout time.Duration
	logger  *slog.Logger
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

func (s *Session) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

func (s *Session) SetCookie(ctx context.Context, name, value, domain string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.context.AddCookies([]playwright.OptionalCookie{{
		Name:   name,
		Value:  value,
		Domain: playwright.String(domain),
		Path:   playwright.String("/"),
	}})
	if err != nil {
		return fmt.Errorf("add cookie %s: %w", name, err)
	}
	return nil
}

func (s *Session) Evaluate(ctx context.Context, script string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := s.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("evaluate script: %w", err)
	}
	return result, nil
}

func (s *Session) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.page.Locator(selector).First().Click(); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (s *Session) Fill(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.page.Locator(selector).First().Fill(text); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

// Scroll triggers lazy loading with staggered scroll steps.
func (s *Session) Scroll(ctx context.Context, times, distance int) error {
	for i := 0; i < times; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := s.page.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", distance)); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		time.Sleep(time.Duration(400+i*100) * time.Millisecond)
	}
	return nil
}

func (s *Session) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	content, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("page content: %w", err)
	}
	return content, nil
}

func (s *Session) Close() error {
	var errs []error

	if s.page != nil {
		if err := s.page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close page: %w", err))
		}
	}

	if s.context != nil {
		if err := s.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("errors closing context: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during session close: %v", errs)
	}

	return nil
}
