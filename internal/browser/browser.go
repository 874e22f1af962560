// Package browser owns the lifecycle of one automation session against Ozon:
// stealth launch, warm-up, navigation, teardown. At most one session is live
// per controller and it is never shared across worker loops.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/playwright-community/playwright-go"
)

const homepage = "https://www.ozon.ru"

// Init script masking the most common automation signals. Mirrors what the
// rendered site probes for before serving the challenge page.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['ru-RU', 'ru', 'en-US', 'en'] });
window.chrome = { runtime: {} };
`

type Options struct {
	Headless       bool
	NavTimeout     time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ProxyUsername  string
	ProxyPassword  string
	WarmupMin      time.Duration
	WarmupMax      time.Duration
}

// proxy builds the launch-time proxy option. Chromium does not answer proxy
// auth challenges on its own, so credentials must ride along with the server.
func (o *Options) proxy() *playwright.Proxy {
	if o.ProxyServer == "" {
		return nil
	}
	p := &playwright.Proxy{Server: o.ProxyServer}
	if o.ProxyUsername != "" {
		p.Username = playwright.String(o.ProxyUsername)
		p.Password = playwright.String(o.ProxyPassword)
	}
	return p
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		NavTimeout:     25 * time.Second,
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7",
		TimezoneID:     "Europe/Moscow",
		Locale:         "ru-RU",
		WarmupMin:      3 * time.Second,
		WarmupMax:      5 * time.Second,
	}
}

// Session drives one browser context bound to one egress identity.
type Session struct {
	opts    *Options
	logger  *slog.Logger
	rng     *rand.Rand
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page
}

func NewSession(opts *Options, logger *slog.Logger) *Session {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		opts:   opts,
		logger: logger.With("component", "browser"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetProxy changes the proxy used by the next launched session, credentials
// included. Has no effect on a session that is already live.
func (s *Session) SetProxy(server, username, password string) {
	s.opts.ProxyServer = server
	s.opts.ProxyUsername = username
	s.opts.ProxyPassword = password
}

// Live reports whether a browser is currently running.
func (s *Session) Live() bool {
	return s.browser != nil
}

// Acquire launches a browser if none is live. Idempotent. The warm-up
// navigation against the homepage may fail under a bad proxy; that is logged
// and swallowed, and the block detector decides on the first real fetch.
func (s *Session) Acquire(ctx context.Context) error {
	if s.Live() {
		return nil
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-infobars",
			"--window-size=1920,1080",
			"--lang=ru-RU",
			"--user-agent=" + s.opts.UserAgent,
		},
	}
	if p := s.opts.proxy(); p != nil {
		launchOpts.Proxy = p
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return fmt.Errorf("launch browser: %w", err)
	}

	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:  playwright.String(s.opts.UserAgent),
		Locale:     playwright.String(s.opts.Locale),
		TimezoneId: playwright.String(s.opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  s.opts.ViewportWidth,
			Height: s.opts.ViewportHeight,
		},
		ExtraHttpHeaders: map[string]string{
			"Accept-Language": s.opts.AcceptLanguage,
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		},
	})
	if err != nil {
		b.Close()
		pw.Stop()
		return fmt.Errorf("create browser context: %w", err)
	}

	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		s.logger.Warn("failed to install stealth script", "error", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		b.Close()
		pw.Stop()
		return fmt.Errorf("create page: %w", err)
	}
	page.SetDefaultTimeout(float64(s.opts.NavTimeout.Milliseconds()))

	s.pw = pw
	s.browser = b
	s.context = bctx
	s.page = page

	s.warmup(ctx)
	return nil
}

func (s *Session) warmup(ctx context.Context) {
	_, err := s.page.Goto(homepage, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.opts.NavTimeout.Milliseconds())),
	})
	if err != nil {
		s.logger.Warn("homepage warm-up failed, continuing", "error", err)
		return
	}
	s.settle(ctx, s.opts.WarmupMin, s.opts.WarmupMax)
}

func (s *Session) settle(ctx context.Context, min, max time.Duration) {
	d := min
	if max > min {
		d += time.Duration(s.rng.Int63n(int64(max - min)))
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Navigate loads url and waits a short randomized settle interval.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if !s.Live() {
		return fmt.Errorf("session not acquired")
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.opts.NavTimeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	s.settle(ctx, 1500*time.Millisecond, 3*time.Second)
	return nil
}

// PlainText returns the literal pre-formatted block when present (the
// entrypoint API responds with JSON inside <pre>), else the page body text.
func (s *Session) PlainText() (string, error) {
	if !s.Live() {
		return "", fmt.Errorf("session not acquired")
	}
	v, err := s.page.Evaluate(`() => {
		const pre = document.querySelector('pre');
		if (pre) return pre.textContent;
		return document.body ? document.body.textContent : '';
	}`)
	if err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	text, _ := v.(string)
	return text, nil
}

// Content returns the full rendered HTML of the current page.
func (s *Session) Content() (string, error) {
	if !s.Live() {
		return "", fmt.Errorf("session not acquired")
	}
	html, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("read page content: %w", err)
	}
	return html, nil
}

// Release tears the session down on every exit path. Safe to call repeatedly
// and on a session that never launched.
func (s *Session) Release() {
	if s.context != nil {
		if err := s.context.Close(); err != nil {
			s.logger.Warn("context close failed", "error", err)
		}
		s.context = nil
		s.page = nil
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("browser close failed", "error", err)
		}
		s.browser = nil
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			s.logger.Warn("playwright stop failed", "error", err)
		}
		s.pw = nil
	}
}
