// Package search orchestrates browser-backed searches: session restore and
// authentication, per-query retry with full browser re-initialization, rate
// limiting, circuit breaking, result caching, and history recording.
package search

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/kagibridge/kagi-search-mcp-server/internal/cache"
	"github.com/kagibridge/kagi-search-mcp-server/internal/config"
	"github.com/kagibridge/kagi-search-mcp-server/internal/history"
	"github.com/kagibridge/kagi-search-mcp-server/internal/metrics"
	"github.com/kagibridge/kagi-search-mcp-server/internal/scrape"
	"github.com/kagibridge/kagi-search-mcp-server/internal/session"
)

// Retry backoff bounds, doubling per attempt.
const (
	initialRetryDelay = 1 * time.Second
	maxRetryDelay     = 60 * time.Second
)

// Browser is the subset of the browser session the engine drives.
type Browser interface {
	Start() error
	Authenticate(ctx context.Context, authURL string) error
	MarkAuthenticated(authURL string)
	Authenticated() bool
	Navigate(ctx context.Context, pageURL string) error
	ExtractResults(ctx context.Context, js string, out interface{}) error
	HTML(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	SetCookies(ctx context.Context, cookies []*network.CookieParam) error
	Restart(ctx context.Context) error
	Close() error
}

// Engine performs searches against the configured site through a browser
// session. Queries within one call run sequentially; a failed query fails the
// whole call after its attempts are exhausted.
type Engine struct {
	cfg       *config.Config
	browser   Browser
	snapshots *session.Store      // nil disables cookie persistence
	results   *cache.ResultCache  // nil disables result caching
	searches  *history.Store      // nil disables history
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[[]scrape.Result]
	logger    zerolog.Logger

	idMu    sync.Mutex
	entropy io.Reader

	authURL     string
	baseURL     *url.URL
	initialized bool
}

// NewEngine creates a search engine. snapshots and searches may be nil to
// disable cookie persistence and history respectively.
func NewEngine(cfg *config.Config, br Browser, snapshots *session.Store, searches *history.Store, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:       cfg,
		browser:   br,
		snapshots: snapshots,
		results:   cache.NewResultCache(time.Duration(cfg.ResultCacheTTL) * time.Second),
		searches:  searches,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		logger:    logger,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}

	threshold := uint32(cfg.BreakerThreshold)
	e.breaker = gobreaker.NewCircuitBreaker[[]scrape.Result](gobreaker.Settings{
		Name:        "browser-search",
		MaxRequests: 1, // allow 1 probe in half-open state
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	})

	return e
}

// Initialize resolves the auth URL, starts the browser, and establishes the
// authenticated session, reusing a persisted cookie snapshot when one is
// still fresh.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.initialized {
		return fmt.Errorf("engine already initialized")
	}

	authURL := e.cfg.ResolveAuthURL()
	if authURL == "" {
		return fmt.Errorf("no session token or auth URL configured: set SESSION_TOKEN or auth_url")
	}
	base, err := url.Parse(authURL)
	if err != nil {
		return fmt.Errorf("invalid auth URL: %w", err)
	}
	e.authURL = authURL
	e.baseURL = base

	if err := e.browser.Start(); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}

	if !e.restoreSession(ctx) {
		if err := e.browser.Authenticate(ctx, authURL); err != nil {
			return fmt.Errorf("failed to authenticate browser session: %w", err)
		}
		e.saveSnapshot(ctx)
	}

	e.initialized = true
	return nil
}

// restoreSession tries to seed the browser from a persisted cookie snapshot
// and verify it by loading the search page. Any failure falls back to a full
// authentication; snapshot errors are logged, never fatal.
func (e *Engine) restoreSession(ctx context.Context) bool {
	if e.snapshots == nil {
		return false
	}

	host := e.baseURL.Hostname()
	maxAge := time.Duration(e.cfg.SessionMaxAge) * time.Hour

	valid, err := e.snapshots.IsValid(host, maxAge)
	if err != nil {
		e.logger.Warn().Err(err).Str("host", host).Msg("Cookie snapshot unreadable, re-authenticating")
		return false
	}
	if !valid {
		return false
	}

	snap, err := e.snapshots.Load(host)
	if err != nil {
		e.logger.Warn().Err(err).Str("host", host).Msg("Cookie snapshot load failed, re-authenticating")
		return false
	}

	if err := e.browser.SetCookies(ctx, snap.Params()); err != nil {
		e.logger.Warn().Err(err).Str("host", host).Msg("Cookie restore failed, re-authenticating")
		return false
	}

	// Verify the restored session renders the search page.
	if err := e.browser.Navigate(ctx, e.cfg.SearchBaseURL); err != nil {
		e.logger.Warn().Err(err).Str("host", host).Msg("Restored session verification failed, re-authenticating")
		return false
	}

	e.browser.MarkAuthenticated(e.authURL)
	e.logger.Info().
		Str("host", host).
		Int("cookies", len(snap.Cookies)).
		Time("saved_at", snap.SavedAt).
		Msg("Session restored from cookie snapshot")
	return true
}

// saveSnapshot persists the browser's current cookies, best effort.
func (e *Engine) saveSnapshot(ctx context.Context) {
	if e.snapshots == nil {
		return
	}

	cookies, err := e.browser.Cookies(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Cookie snapshot capture failed")
		return
	}
	host := e.baseURL.Hostname()
	if err := e.snapshots.Save(host, e.authURL, session.FromNetwork(cookies)); err != nil {
		e.logger.Warn().Err(err).Str("host", host).Msg("Cookie snapshot save failed")
		return
	}
	e.logger.Debug().Str("host", host).Int("cookies", len(cookies)).Msg("Cookie snapshot saved")
}

// SearchAll runs every query sequentially and returns the filtered, capped
// result rows per query, in query order. A query that exhausts its attempts
// fails the whole call; a query with zero extracted rows is a success.
func (e *Engine) SearchAll(ctx context.Context, queries []string) ([][]scrape.Result, error) {
	if !e.initialized {
		return nil, fmt.Errorf("engine not initialized, call Initialize() first")
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("search called with no queries")
	}

	callID := e.newID()
	log := e.logger.With().Str("call_id", callID).Logger()
	log.Info().Strs("queries", queries).Msg("Search call started")

	out := make([][]scrape.Result, 0, len(queries))
	for _, query := range queries {
		if rows, ok := e.results.Get(query); ok {
			log.Debug().Str("query", query).Int("rows", len(rows)).Msg("Result cache hit")
			out = append(out, rows)
			continue
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		start := time.Now()
		rows, err := e.searchQuery(ctx, log, query)
		duration := time.Since(start)

		if err != nil {
			metrics.SearchesTotal.WithLabelValues("error").Inc()
			metrics.SearchDuration.Observe(duration.Seconds())
			e.recordSearch(ctx, query, "error", 0, duration)
			log.Error().Err(err).Str("query", query).Msg("Search failed")
			return nil, fmt.Errorf("search for %q failed: %w", query, err)
		}

		rows = scrape.FilterWeb(rows)
		if len(rows) > e.cfg.MaxResults {
			rows = rows[:e.cfg.MaxResults]
		}

		metrics.SearchesTotal.WithLabelValues("ok").Inc()
		metrics.SearchDuration.Observe(duration.Seconds())
		metrics.ResultsReturned.Observe(float64(len(rows)))
		e.recordSearch(ctx, query, "ok", len(rows), duration)
		e.results.Put(query, rows)

		log.Info().
			Str("query", query).
			Int("rows", len(rows)).
			Dur("duration", duration).
			Msg("Search completed")
		out = append(out, rows)
	}

	return out, nil
}

// searchQuery runs one query with the attempt loop. Each failed attempt tears
// the browser down and re-initializes it (relaunch plus re-authentication)
// before the next try. An open circuit fails fast without a restart.
func (e *Engine) searchQuery(ctx context.Context, log zerolog.Logger, query string) ([]scrape.Result, error) {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(math.Pow(2, float64(attempt-2))) * initialRetryDelay
			if delay > maxRetryDelay {
				delay = maxRetryDelay
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		log.Debug().
			Str("query", query).
			Int("attempt", attempt).
			Int("max_attempts", e.cfg.MaxAttempts).
			Msg("Search attempt")

		rows, err := e.breaker.Execute(func() ([]scrape.Result, error) {
			return e.runSearch(ctx, query)
		})
		if err == nil {
			return rows, nil
		}
		lastErr = err

		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("search circuit open: %w", err)
		}

		log.Warn().
			Err(err).
			Str("query", query).
			Int("attempt", attempt).
			Msg("Search attempt failed")

		if attempt < e.cfg.MaxAttempts {
			if rerr := e.browser.Restart(ctx); rerr != nil {
				return nil, fmt.Errorf("browser restart failed: %w", rerr)
			}
			metrics.BrowserRestarts.Inc()
		}
	}

	return nil, fmt.Errorf("all %d attempts failed: %w", e.cfg.MaxAttempts, lastErr)
}

// runSearch performs a single navigate-and-extract pass for one query.
// When in-page evaluation yields nothing, the captured HTML is parsed
// server-side with the same selector tiers.
func (e *Engine) runSearch(ctx context.Context, query string) ([]scrape.Result, error) {
	searchURL, err := e.buildSearchURL(query)
	if err != nil {
		return nil, err
	}

	if err := e.browser.Navigate(ctx, searchURL); err != nil {
		return nil, err
	}

	var rows []scrape.Result
	if err := e.browser.ExtractResults(ctx, scrape.ResultsJS, &rows); err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		pageHTML, err := e.browser.HTML(ctx)
		if err != nil {
			// The evaluation pass already succeeded with zero rows; treat
			// the page as genuinely empty.
			return rows, nil
		}
		rows = scrape.Parse(pageHTML, e.baseURL)
	}

	return rows, nil
}

// buildSearchURL attaches the query to the auth URL, so the token parameter
// rides along on every search.
func (e *Engine) buildSearchURL(query string) (string, error) {
	u, err := url.Parse(e.authURL)
	if err != nil {
		return "", fmt.Errorf("invalid auth URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Refresh re-authenticates the browser session from scratch and persists a
// fresh cookie snapshot. trigger labels the refresh in metrics ("scheduled"
// for the cron refresher).
func (e *Engine) Refresh(ctx context.Context, trigger string) error {
	if !e.initialized {
		return fmt.Errorf("engine not initialized")
	}

	e.logger.Info().Str("trigger", trigger).Msg("Refreshing browser session")
	if err := e.browser.Restart(ctx); err != nil {
		return fmt.Errorf("session refresh failed: %w", err)
	}
	metrics.SessionRefreshes.WithLabelValues(trigger).Inc()
	e.saveSnapshot(ctx)
	return nil
}

// recordSearch writes a history row, best effort.
func (e *Engine) recordSearch(ctx context.Context, query, status string, results int, duration time.Duration) {
	if e.searches == nil {
		return
	}
	err := e.searches.Record(ctx, history.Entry{
		ID:       e.newID(),
		Query:    query,
		Status:   status,
		Results:  results,
		Duration: duration,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("query", query).Msg("History record failed")
	}
}

// newID returns a ULID for log correlation and history rows.
func (e *Engine) newID() string {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), e.entropy).String()
}

// Close shuts the browser down.
func (e *Engine) Close() error {
	return e.browser.Close()
}
