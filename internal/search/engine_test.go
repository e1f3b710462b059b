package search

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/rs/zerolog"

	"github.com/kagibridge/kagi-search-mcp-server/internal/config"
	"github.com/kagibridge/kagi-search-mcp-server/internal/scrape"
)

// mockBrowser is a scriptable Browser for engine tests.
type mockBrowser struct {
	started       bool
	authenticated bool
	authURL       string
	navigations   []string
	restarts      int
	closed        bool

	startErr error
	authErr  error
	navErr   error

	// extractFn fills out with result rows; defaults to no rows
	extractFn func(out interface{}) error
	// htmlFn returns the captured page HTML for the fallback parse
	htmlFn func() (string, error)
}

func (m *mockBrowser) Start() error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *mockBrowser) Authenticate(ctx context.Context, authURL string) error {
	if m.authErr != nil {
		return m.authErr
	}
	m.authenticated = true
	m.authURL = authURL
	return nil
}

func (m *mockBrowser) MarkAuthenticated(authURL string) {
	m.authenticated = true
	m.authURL = authURL
}

func (m *mockBrowser) Authenticated() bool { return m.authenticated }

func (m *mockBrowser) Navigate(ctx context.Context, pageURL string) error {
	if m.navErr != nil {
		return m.navErr
	}
	m.navigations = append(m.navigations, pageURL)
	return nil
}

func (m *mockBrowser) ExtractResults(ctx context.Context, js string, out interface{}) error {
	if m.extractFn != nil {
		return m.extractFn(out)
	}
	return nil
}

func (m *mockBrowser) HTML(ctx context.Context) (string, error) {
	if m.htmlFn != nil {
		return m.htmlFn()
	}
	return "<html><body></body></html>", nil
}

func (m *mockBrowser) Cookies(ctx context.Context) ([]*network.Cookie, error) { return nil, nil }

func (m *mockBrowser) SetCookies(ctx context.Context, cookies []*network.CookieParam) error {
	return nil
}

func (m *mockBrowser) Restart(ctx context.Context) error {
	m.restarts++
	return nil
}

func (m *mockBrowser) Close() error {
	m.closed = true
	return nil
}

// fillRows returns an extractFn that always yields the given rows.
func fillRows(rows []scrape.Result) func(out interface{}) error {
	return func(out interface{}) error {
		*(out.(*[]scrape.Result)) = append([]scrape.Result(nil), rows...)
		return nil
	}
}

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.SessionToken = "test-token"
	cfg.ResultCacheTTL = 0 // caching exercised in its own test
	cfg.RateLimit = 1000   // keep tests fast
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, br *mockBrowser) *Engine {
	t.Helper()
	e := NewEngine(cfg, br, nil, nil, zerolog.Nop())
	if err := e.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return e
}

// TestInitialize verifies the browser is started and authenticated with the
// token-bearing URL
func TestInitialize(t *testing.T) {
	br := &mockBrowser{}
	newTestEngine(t, testConfig(), br)

	if !br.started {
		t.Error("Expected browser to be started")
	}
	if !br.authenticated {
		t.Error("Expected browser to be authenticated")
	}
	if br.authURL != "https://kagi.com/search?token=test-token" {
		t.Errorf("Unexpected auth URL %q", br.authURL)
	}
}

// TestInitializeWithoutCredentials verifies a clear error without a token
func TestInitializeWithoutCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.SessionToken = ""

	e := NewEngine(cfg, &mockBrowser{}, nil, nil, zerolog.Nop())
	err := e.Initialize(context.Background())
	if err == nil {
		t.Fatal("Expected error without credentials, got nil")
	}
	if !strings.Contains(err.Error(), "SESSION_TOKEN") {
		t.Errorf("Expected actionable error, got %q", err.Error())
	}
}

// TestInitializeTwice verifies double initialization is rejected
func TestInitializeTwice(t *testing.T) {
	e := newTestEngine(t, testConfig(), &mockBrowser{})
	if err := e.Initialize(context.Background()); err == nil {
		t.Error("Expected error on second Initialize, got nil")
	}
}

// TestSearchAllNotInitialized verifies searching before Initialize fails
func TestSearchAllNotInitialized(t *testing.T) {
	e := NewEngine(testConfig(), &mockBrowser{}, nil, nil, zerolog.Nop())
	if _, err := e.SearchAll(context.Background(), []string{"q"}); err == nil {
		t.Error("Expected error before Initialize, got nil")
	}
}

// TestSearchAllEmptyQueries verifies an empty query list is rejected
func TestSearchAllEmptyQueries(t *testing.T) {
	e := newTestEngine(t, testConfig(), &mockBrowser{})
	if _, err := e.SearchAll(context.Background(), nil); err == nil {
		t.Error("Expected error for no queries, got nil")
	}
}

// TestSearchAllSuccess verifies the navigate-extract-filter pipeline
func TestSearchAllSuccess(t *testing.T) {
	br := &mockBrowser{
		extractFn: fillRows([]scrape.Result{
			{T: 0, Title: "Go", URL: "https://go.dev/", Snippet: "the language"},
			{T: 1, Title: "related searches", Snippet: "noise"},
			{T: 0, Title: "Docs", URL: "https://go.dev/doc/", Snippet: "docs"},
		}),
	}
	e := newTestEngine(t, testConfig(), br)

	out, err := e.SearchAll(context.Background(), []string{"golang"})
	if err != nil {
		t.Fatalf("SearchAll failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Expected 1 query result set, got %d", len(out))
	}

	rows := out[0]
	if len(rows) != 2 {
		t.Fatalf("Expected 2 web rows after filtering, got %d", len(rows))
	}
	if rows[0].Title != "Go" || rows[1].Title != "Docs" {
		t.Errorf("Unexpected rows: %v", rows)
	}

	// Query rides on the authenticated URL, token intact
	last := br.navigations[len(br.navigations)-1]
	if !strings.Contains(last, "q=golang") || !strings.Contains(last, "token=test-token") {
		t.Errorf("Unexpected search URL %q", last)
	}
}

// TestSearchAllCapsResults verifies the per-query result cap
func TestSearchAllCapsResults(t *testing.T) {
	var many []scrape.Result
	for i := 0; i < 10; i++ {
		many = append(many, scrape.Result{T: 0, Title: fmt.Sprintf("r%d", i), URL: "https://x/", Snippet: "s"})
	}

	cfg := testConfig()
	cfg.MaxResults = 3
	e := newTestEngine(t, cfg, &mockBrowser{extractFn: fillRows(many)})

	out, err := e.SearchAll(context.Background(), []string{"q"})
	if err != nil {
		t.Fatalf("SearchAll failed: %v", err)
	}
	if len(out[0]) != 3 {
		t.Errorf("Expected 3 rows after capping, got %d", len(out[0]))
	}
}

// TestSearchAllEmptyPageIsSuccess verifies zero extracted rows are not an error
func TestSearchAllEmptyPageIsSuccess(t *testing.T) {
	e := newTestEngine(t, testConfig(), &mockBrowser{})

	out, err := e.SearchAll(context.Background(), []string{"obscure"})
	if err != nil {
		t.Fatalf("SearchAll failed: %v", err)
	}
	if len(out[0]) != 0 {
		t.Errorf("Expected zero rows, got %d", len(out[0]))
	}
}

// TestSearchAllHTMLFallback verifies the server-side parse runs when in-page
// evaluation yields nothing but the DOM carries results
func TestSearchAllHTMLFallback(t *testing.T) {
	br := &mockBrowser{
		htmlFn: func() (string, error) {
			return `<html><body>
<div class="search-result">
  <div class="heading"><a href="https://go.dev/">Go</a></div>
  <div class="snippet">From the fallback parse.</div>
</div>
</body></html>`, nil
		},
	}
	e := newTestEngine(t, testConfig(), br)

	out, err := e.SearchAll(context.Background(), []string{"golang"})
	if err != nil {
		t.Fatalf("SearchAll failed: %v", err)
	}
	if len(out[0]) != 1 || out[0][0].Title != "Go" {
		t.Errorf("Expected fallback-parsed row, got %v", out[0])
	}
}

// TestSearchRetriesWithRestart verifies a failed attempt restarts the browser
// before the next try
func TestSearchRetriesWithRestart(t *testing.T) {
	attempts := 0
	br := &mockBrowser{}
	br.extractFn = func(out interface{}) error {
		attempts++
		if attempts == 1 {
			return fmt.Errorf("page render hung")
		}
		*(out.(*[]scrape.Result)) = []scrape.Result{{T: 0, Title: "recovered", URL: "https://x/", Snippet: "s"}}
		return nil
	}

	cfg := testConfig()
	cfg.MaxAttempts = 2
	e := newTestEngine(t, cfg, br)

	out, err := e.SearchAll(context.Background(), []string{"q"})
	if err != nil {
		t.Fatalf("SearchAll failed after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	if br.restarts != 1 {
		t.Errorf("Expected 1 browser restart, got %d", br.restarts)
	}
	if out[0][0].Title != "recovered" {
		t.Errorf("Unexpected rows %v", out[0])
	}
}

// TestSearchExhaustsAttempts verifies the whole call fails once attempts run out
func TestSearchExhaustsAttempts(t *testing.T) {
	br := &mockBrowser{
		extractFn: func(out interface{}) error { return fmt.Errorf("persistent failure") },
	}

	cfg := testConfig()
	cfg.MaxAttempts = 1
	e := newTestEngine(t, cfg, br)

	_, err := e.SearchAll(context.Background(), []string{"doomed"})
	if err == nil {
		t.Fatal("Expected error after exhausted attempts, got nil")
	}
	if !strings.Contains(err.Error(), "all 1 attempts failed") {
		t.Errorf("Expected exhaustion error, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "persistent failure") {
		t.Errorf("Expected wrapped cause, got %q", err.Error())
	}
}

// TestSearchCircuitOpens verifies the breaker fails fast after consecutive failures
func TestSearchCircuitOpens(t *testing.T) {
	br := &mockBrowser{
		extractFn: func(out interface{}) error { return fmt.Errorf("site down") },
	}

	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.BreakerThreshold = 2
	e := newTestEngine(t, cfg, br)

	ctx := context.Background()
	// Two failing calls trip the breaker
	for i := 0; i < 2; i++ {
		if _, err := e.SearchAll(ctx, []string{"q"}); err == nil {
			t.Fatalf("Expected failure on call %d", i+1)
		}
	}

	_, err := e.SearchAll(ctx, []string{"q"})
	if err == nil {
		t.Fatal("Expected circuit-open failure, got nil")
	}
	if !strings.Contains(err.Error(), "circuit open") {
		t.Errorf("Expected circuit open error, got %q", err.Error())
	}
}

// TestResultCacheHit verifies a repeated query is served without navigation
func TestResultCacheHit(t *testing.T) {
	br := &mockBrowser{
		extractFn: fillRows([]scrape.Result{{T: 0, Title: "cached", URL: "https://x/", Snippet: "s"}}),
	}

	cfg := testConfig()
	cfg.ResultCacheTTL = 300
	e := newTestEngine(t, cfg, br)

	ctx := context.Background()
	if _, err := e.SearchAll(ctx, []string{"repeat"}); err != nil {
		t.Fatalf("First SearchAll failed: %v", err)
	}
	navsAfterFirst := len(br.navigations)

	out, err := e.SearchAll(ctx, []string{"repeat"})
	if err != nil {
		t.Fatalf("Second SearchAll failed: %v", err)
	}
	if len(br.navigations) != navsAfterFirst {
		t.Errorf("Expected cache hit without navigation; navigations grew from %d to %d",
			navsAfterFirst, len(br.navigations))
	}
	if out[0][0].Title != "cached" {
		t.Errorf("Unexpected cached rows %v", out[0])
	}
}

// TestRefresh verifies session refresh restarts the browser
func TestRefresh(t *testing.T) {
	br := &mockBrowser{}
	e := newTestEngine(t, testConfig(), br)

	if err := e.Refresh(context.Background(), "scheduled"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if br.restarts != 1 {
		t.Errorf("Expected 1 restart, got %d", br.restarts)
	}
}

// TestClose verifies Close tears the browser down
func TestClose(t *testing.T) {
	br := &mockBrowser{}
	e := newTestEngine(t, testConfig(), br)

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !br.closed {
		t.Error("Expected browser to be closed")
	}
}
