// Package reader fetches a web page and extracts its readable content for the
// read_page tool.
package reader

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/rs/zerolog"
)

const (
	maxBodySize  = 1 * 1024 * 1024 // 1MB
	maxURLLength = 2000
)

// Private IP ranges blocked for SSRF protection.
var privateIPBlocks []*net.IPNet

func init() {
	cidrs := []string{
		"127.0.0.0/8",    // Loopback
		"10.0.0.0/8",     // Private Class A
		"172.16.0.0/12",  // Private Class B
		"192.168.0.0/16", // Private Class C
		"169.254.0.0/16", // Link-local
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 private
	}
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		privateIPBlocks = append(privateIPBlocks, block)
	}
}

// Page is the extracted content of a fetched page.
type Page struct {
	Title    string
	URL      string
	Excerpt  string
	SiteName string
	Content  string // extracted plain text
}

// Reader fetches pages over plain HTTP and extracts their main content.
type Reader struct {
	client *http.Client
	logger zerolog.Logger
}

// NewReader creates a reader with the given request timeout.
func NewReader(timeout time.Duration, logger zerolog.Logger) *Reader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Reader{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Fetch retrieves targetURL and extracts its readable content.
// Private-network targets, non-HTML content, and bodies over the size cap
// are refused.
func (r *Reader) Fetch(ctx context.Context, targetURL string) (*Page, error) {
	parsedURL, err := validateURL(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	if err := checkSSRF(ctx, parsedURL.Hostname()); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Browser-like headers; some sites refuse unadorned clients.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	r.logger.Debug().Str("url", targetURL).Msg("Fetching page")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error().Err(err).Str("url", targetURL).Msg("Page fetch failed")
		return nil, fmt.Errorf("fetch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") {
		return nil, fmt.Errorf("unsupported content type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) >= maxBodySize {
		return nil, fmt.Errorf("content too large (max %d bytes)", maxBodySize)
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract content: %w", err)
	}

	r.logger.Info().
		Str("url", targetURL).
		Str("title", article.Title).
		Int("content_size", len(article.TextContent)).
		Msg("Page fetched and extracted")

	return &Page{
		Title:    article.Title,
		URL:      targetURL,
		Excerpt:  article.Excerpt,
		SiteName: article.SiteName,
		Content:  article.TextContent,
	}, nil
}

// validateURL validates a URL for security and format.
func validateURL(targetURL string) (*url.URL, error) {
	if len(targetURL) > maxURLLength {
		return nil, fmt.Errorf("URL too long (max %d characters)", maxURLLength)
	}

	parsedURL, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme (only http and https allowed)")
	}

	if parsedURL.Hostname() == "" {
		return nil, fmt.Errorf("missing hostname in URL")
	}

	return parsedURL, nil
}

// checkSSRF refuses hostnames that resolve to a private IP address.
// Resolution failures are not fatal; the HTTP client surfaces them.
func checkSSRF(ctx context.Context, hostname string) error {
	resolveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ips, err := net.DefaultResolver.LookupIPAddr(resolveCtx, hostname)
	if err != nil {
		return nil
	}

	for _, ipAddr := range ips {
		for _, block := range privateIPBlocks {
			if block.Contains(ipAddr.IP) {
				return fmt.Errorf("cannot fetch from private IP address: %s", ipAddr.IP.String())
			}
		}
	}

	return nil
}
