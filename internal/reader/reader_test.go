package reader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// TestValidateURL verifies URL format and scheme checks
func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid https", "https://example.com/page", false},
		{"valid http", "http://example.com/page", false},
		{"with query", "https://example.com/page?a=1", false},
		{"ftp scheme", "ftp://example.com/file", true},
		{"file scheme", "file:///etc/passwd", true},
		{"javascript scheme", "javascript:alert(1)", true},
		{"no hostname", "https:///path", true},
		{"relative path", "/just/a/path", true},
		{"too long", "https://example.com/" + strings.Repeat("a", maxURLLength), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateURL(tt.url)
			if tt.wantErr && err == nil {
				t.Errorf("Expected error for %q, got nil", tt.url)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error for %q, got %v", tt.url, err)
			}
		})
	}
}

// TestCheckSSRF verifies private targets are refused and resolution failures pass through
func TestCheckSSRF(t *testing.T) {
	ctx := context.Background()

	if err := checkSSRF(ctx, "127.0.0.1"); err == nil {
		t.Error("Expected loopback address to be refused")
	}
	if err := checkSSRF(ctx, "192.168.1.10"); err == nil {
		t.Error("Expected private address to be refused")
	}
	if err := checkSSRF(ctx, "169.254.169.254"); err == nil {
		t.Error("Expected link-local address to be refused")
	}
	if err := checkSSRF(ctx, "::1"); err == nil {
		t.Error("Expected IPv6 loopback to be refused")
	}

	// Unresolvable names are not fatal here; the HTTP client reports them
	if err := checkSSRF(ctx, "definitely-not-a-real-host.invalid"); err != nil {
		t.Errorf("Expected resolution failure to pass through, got %v", err)
	}
}

// TestFetchRefusesPrivateTargets verifies Fetch never reaches servers on
// private addresses, using a local test server as the target
func TestFetchRefusesPrivateTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Request reached the private server")
	}))
	defer srv.Close()

	r := NewReader(5*time.Second, zerolog.Nop())
	_, err := r.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("Expected private target to be refused, got nil error")
	}
	if !strings.Contains(err.Error(), "private IP") {
		t.Errorf("Expected private IP refusal, got %v", err)
	}
}

// TestFetchInvalidURL verifies malformed URLs never produce a request
func TestFetchInvalidURL(t *testing.T) {
	r := NewReader(5*time.Second, zerolog.Nop())

	for _, bad := range []string{
		"ftp://example.com/x",
		"not a url at all",
		"",
	} {
		if _, err := r.Fetch(context.Background(), bad); err == nil {
			t.Errorf("Expected error for %q, got nil", bad)
		}
	}
}

// TestNewReaderDefaultTimeout verifies a non-positive timeout falls back
func TestNewReaderDefaultTimeout(t *testing.T) {
	r := NewReader(0, zerolog.Nop())
	if r.client.Timeout != 30*time.Second {
		t.Errorf("Expected default 30s timeout, got %v", r.client.Timeout)
	}

	r = NewReader(10*time.Second, zerolog.Nop())
	if r.client.Timeout != 10*time.Second {
		t.Errorf("Expected 10s timeout, got %v", r.client.Timeout)
	}
}
