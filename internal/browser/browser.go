// Package browser manages a single headless Chromium session through chromedp.
// It owns the allocator → browser → tab context chain, performs the one-time
// authentication navigation that seeds the site's session cookies, and exposes
// the narrow set of page operations the search engine needs: navigate,
// evaluate, capture HTML, and snapshot/restore cookies.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"
)

// settleDelay is how long a page gets to finish client-side rendering after
// the body becomes ready. Result rows are injected by script, so waiting for
// body alone is not enough.
const settleDelay = 1500 * time.Millisecond

// Config holds browser session settings.
type Config struct {
	// Headless controls whether a locally launched browser runs headless.
	Headless bool
	// RemoteURL is the CDP endpoint of a remote browser.
	// If empty, a local browser is launched.
	RemoteURL string
	// UserAgent overrides the browser's User-Agent when non-empty.
	UserAgent string
	// NavTimeout is the per-operation timeout.
	NavTimeout time.Duration
}

// Session wraps one browser instance and its single working tab.
// All operations are serialized; the session is safe for concurrent use.
type Session struct {
	mu  sync.Mutex
	cfg Config

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	tabCtx        context.Context
	tabCancel     context.CancelFunc

	authURL       string
	authenticated bool
	started       bool

	logger zerolog.Logger
}

// NewSession creates a browser session. No browser process is launched until
// Start is called.
func NewSession(cfg Config, logger zerolog.Logger) *Session {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	return &Session{
		cfg:    cfg,
		logger: logger,
	}
}

// Start launches the browser (or attaches to a remote one) and prepares the
// working tab. It is an error to start an already started session.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("browser session already started")
	}
	return s.startLocked()
}

func (s *Session) startLocked() error {
	var allocCtx context.Context
	if s.cfg.RemoteURL != "" {
		allocCtx, s.allocCancel = chromedp.NewRemoteAllocator(context.Background(), s.cfg.RemoteURL)
		s.logger.Info().
			Str("url", s.cfg.RemoteURL).
			Msg("Connecting to remote browser")
	} else {
		// Copy default options to avoid mutating the package-level slice.
		opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
		copy(opts, chromedp.DefaultExecAllocatorOptions[:])
		opts = append(opts,
			chromedp.Flag("headless", s.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(1280, 720),
		)
		if s.cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(s.cfg.UserAgent))
		}
		allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
		s.logger.Info().
			Bool("headless", s.cfg.Headless).
			Msg("Launching local browser")
	}

	s.browserCtx, s.browserCancel = chromedp.NewContext(allocCtx)
	s.tabCtx, s.tabCancel = chromedp.NewContext(s.browserCtx)

	// Start the browser by running the first action on the raw tab context.
	// The CDP session binds to the context passed to the first Run, so it
	// must not be wrapped in a timeout; the deadline is enforced via select.
	startDone := make(chan error, 1)
	go func() {
		startDone <- chromedp.Run(s.tabCtx,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers(map[string]interface{}{
				"Accept-Language": "en-US,en;q=0.9",
			})),
		)
	}()
	select {
	case err := <-startDone:
		if err != nil {
			s.closeLocked()
			return fmt.Errorf("start browser: %w", err)
		}
	case <-time.After(s.cfg.NavTimeout):
		s.closeLocked()
		return fmt.Errorf("start browser: timed out after %v", s.cfg.NavTimeout)
	}

	s.started = true
	s.logger.Info().Msg("Browser started")
	return nil
}

// withTimeout creates a timeout-derived context from the tab context,
// bounded by the caller's context. Caller must hold mu.
func (s *Session) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(s.tabCtx, s.cfg.NavTimeout)
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

// Authenticate navigates to the auth URL so the site sets session cookies in
// the browser context. The URL is remembered for Restart.
func (s *Session) Authenticate(ctx context.Context, authURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return fmt.Errorf("browser session not started")
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.logger.Info().Msg("Navigating to authentication URL")
	if err := chromedp.Run(tctx,
		chromedp.Navigate(authURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settleDelay),
	); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	s.authURL = authURL
	s.authenticated = true
	s.logger.Info().Msg("Browser session authenticated")
	return nil
}

// MarkAuthenticated records the session as authenticated without navigating,
// used after restoring a cookie snapshot. The auth URL is still remembered so
// Restart can re-authenticate from scratch.
func (s *Session) MarkAuthenticated(authURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authURL = authURL
	s.authenticated = true
}

// Authenticated reports whether the session has established authentication.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Navigate loads the given URL in the working tab and waits for the page to
// render.
func (s *Session) Navigate(ctx context.Context, pageURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return fmt.Errorf("browser session not started")
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	s.logger.Debug().Str("url", pageURL).Msg("Navigating")
	if err := chromedp.Run(tctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settleDelay),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	return nil
}

// ExtractResults evaluates js in the current page and unmarshals the returned
// value into out.
func (s *Session) ExtractResults(ctx context.Context, js string, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return fmt.Errorf("browser session not started")
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := chromedp.Run(tctx, chromedp.Evaluate(js, out)); err != nil {
		return fmt.Errorf("extract results: %w", err)
	}
	return nil
}

// HTML returns the outer HTML of the current page's document element.
func (s *Session) HTML(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return "", fmt.Errorf("browser session not started")
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var pageHTML string
	if err := chromedp.Run(tctx, chromedp.OuterHTML("html", &pageHTML)); err != nil {
		return "", fmt.Errorf("capture html: %w", err)
	}
	return pageHTML, nil
}

// Cookies returns all cookies of the browser context.
func (s *Session) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, fmt.Errorf("browser session not started")
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var cookies []*network.Cookie
	err := chromedp.Run(tctx, chromedp.ActionFunc(func(actx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(actx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return cookies, nil
}

// SetCookies installs cookies into the browser context, used to restore a
// persisted authentication snapshot.
func (s *Session) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return fmt.Errorf("browser session not started")
	}
	if len(cookies) == 0 {
		return fmt.Errorf("no cookies to set")
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := chromedp.Run(tctx, chromedp.ActionFunc(func(actx context.Context) error {
		return storage.SetCookies(cookies).Do(actx)
	}))
	if err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

// Restart tears the browser down completely and brings it back up, including
// re-authentication when an auth URL is known. Used between failed search
// attempts, when the page state is assumed wedged.
func (s *Session) Restart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Warn().Msg("Restarting browser session")
	authURL := s.authURL
	s.closeLocked()

	if err := s.startLocked(); err != nil {
		return fmt.Errorf("restart: %w", err)
	}

	if authURL == "" {
		return nil
	}

	tctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := chromedp.Run(tctx,
		chromedp.Navigate(authURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(settleDelay),
	); err != nil {
		return fmt.Errorf("restart: re-authenticate: %w", err)
	}
	s.authURL = authURL
	s.authenticated = true
	return nil
}

// Close shuts the browser down. Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

// closeLocked cancels tab, browser, and allocator contexts in order.
// Caller must hold mu.
func (s *Session) closeLocked() {
	if s.tabCancel != nil {
		s.tabCancel()
		s.tabCancel = nil
	}
	if s.browserCancel != nil {
		s.browserCancel()
		s.browserCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	if s.started {
		s.logger.Info().Msg("Browser closed")
	}
	s.started = false
	s.authenticated = false
}
