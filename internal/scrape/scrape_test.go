package scrape

import (
	"net/url"
	"testing"
)

const primaryPage = `
<html><body>
<div class="search-result">
  <div class="heading"><a href="https://go.dev/">The Go Programming Language</a></div>
  <div class="url"><a href="https://go.dev/">go.dev</a></div>
  <div class="snippet">Build simple, secure, scalable systems with Go.</div>
  <div class="published">2024-01-15</div>
</div>
<div class="search-result">
  <div class="heading"><a href="/docs/effective_go">Effective Go</a></div>
  <div class="snippet">Tips for writing clear, idiomatic Go code.</div>
</div>
<div class="search-result">
  <div class="snippet">No title here, must be skipped.</div>
</div>
</body></html>`

const genericPage = `
<html><body>
<article>
  <h3><a href="https://example.com/one">First Article</a></h3>
  <p>Snippet for the first article.</p>
</article>
<article>
  <h2>Heading Without Link</h2>
  <a href="https://example.com/two">read</a>
  <p>Snippet for the second article.</p>
</article>
<article>
  <h3><a href="https://example.com/three">No Snippet</a></h3>
</article>
</body></html>`

// TestParsePrimaryTier verifies extraction from the known result markup
func TestParsePrimaryTier(t *testing.T) {
	base, _ := url.Parse("https://kagi.com/search?q=go")
	rows := Parse(primaryPage, base)

	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.Title != "The Go Programming Language" {
		t.Errorf("Expected title 'The Go Programming Language', got %q", first.Title)
	}
	if first.Snippet != "Build simple, secure, scalable systems with Go." {
		t.Errorf("Unexpected snippet %q", first.Snippet)
	}
	if first.Published != "2024-01-15" {
		t.Errorf("Expected published '2024-01-15', got %q", first.Published)
	}
	if first.T != 0 {
		t.Errorf("Expected type tag 0, got %d", first.T)
	}

	second := rows[1]
	if second.Title != "Effective Go" {
		t.Errorf("Expected title 'Effective Go', got %q", second.Title)
	}
	// Relative href resolved against the base URL
	if second.URL != "https://kagi.com/docs/effective_go" {
		t.Errorf("Expected resolved URL 'https://kagi.com/docs/effective_go', got %q", second.URL)
	}
	if second.Published != "" {
		t.Errorf("Expected empty published, got %q", second.Published)
	}
}

// TestParseGenericTier verifies the fallback pass runs when the primary
// selectors match nothing
func TestParseGenericTier(t *testing.T) {
	rows := Parse(genericPage, nil)

	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}

	if rows[0].Title != "First Article" {
		t.Errorf("Expected title 'First Article', got %q", rows[0].Title)
	}
	if rows[0].URL != "https://example.com/one" {
		t.Errorf("Expected URL 'https://example.com/one', got %q", rows[0].URL)
	}

	// Heading without a link still yields a row via the first anchor
	if rows[1].Title != "Heading Without Link" {
		t.Errorf("Expected title 'Heading Without Link', got %q", rows[1].Title)
	}
	if rows[1].URL != "https://example.com/two" {
		t.Errorf("Expected URL 'https://example.com/two', got %q", rows[1].URL)
	}
}

// TestParsePrimaryWinsOverGeneric verifies the generic tier does not run when
// the primary markup matched
func TestParsePrimaryWinsOverGeneric(t *testing.T) {
	page := `
<html><body>
<div class="search-result">
  <div class="heading"><a href="https://go.dev/">Go</a></div>
  <div class="snippet">Primary row.</div>
</div>
<article>
  <h3><a href="https://example.com/x">Generic Row</a></h3>
  <p>Should not appear.</p>
</article>
</body></html>`

	rows := Parse(page, nil)
	if len(rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(rows))
	}
	if rows[0].Title != "Go" {
		t.Errorf("Expected primary row, got %q", rows[0].Title)
	}
}

// TestParseEmptyAndInvalid verifies graceful handling of unusable input
func TestParseEmptyAndInvalid(t *testing.T) {
	if rows := Parse("", nil); len(rows) != 0 {
		t.Errorf("Expected no rows for empty input, got %d", len(rows))
	}
	if rows := Parse("<html><body><p>nothing here</p></body></html>", nil); len(rows) != 0 {
		t.Errorf("Expected no rows for page without results, got %d", len(rows))
	}
}

// TestFilterWeb verifies that only type-0 rows survive filtering
func TestFilterWeb(t *testing.T) {
	rows := []Result{
		{T: 0, Title: "web one"},
		{T: 1, Title: "related searches"},
		{T: 0, Title: "web two"},
		{T: 3, Title: "news block"},
	}

	filtered := FilterWeb(rows)
	if len(filtered) != 2 {
		t.Fatalf("Expected 2 rows after filtering, got %d", len(filtered))
	}
	if filtered[0].Title != "web one" || filtered[1].Title != "web two" {
		t.Errorf("Filtering changed row order: %v", filtered)
	}

	if got := FilterWeb(nil); len(got) != 0 {
		t.Errorf("Expected empty result for nil input, got %v", got)
	}
}
