// Package config provides configuration management for the Kagi Search MCP Server.
// It supports loading configuration from multiple sources: command-line flags, config files,
// and environment variables, with proper precedence handling.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the Kagi Search MCP Server.
// It includes server settings, browser settings, and search settings.
type Config struct {
	// Server settings
	LogLevel      string // Log level: debug, info, warn, error (default: info)
	TransportType string // Transport type: stdio, sse, streamablehttp (default: stdio)
	Host          string // Host for network transports (default: localhost)
	Port          int    // Port for network transports (default: 0, must be set for sse/streamablehttp)
	MetricsAddr   string // Listen address for the Prometheus /metrics endpoint (default: empty, disabled)

	// Authentication settings
	SessionToken  string // Kagi session token obtained from a session link (default: empty)
	AuthURL       string // Full authentication URL; overrides SessionToken when set (default: empty)
	SearchBaseURL string // Base URL for searches (default: https://kagi.com/search)

	// Browser settings
	Headless         bool   // Run the local browser headless (default: true)
	RemoteBrowserURL string // CDP endpoint of a remote browser; empty launches a local one (default: empty)
	UserAgent        string // User-Agent override for the browser (default: empty, browser default)
	NavTimeout       int    // Navigation timeout in seconds (default: 30)

	// Search settings
	MaxAttempts      int // Attempts per query before the call fails (default: 3)
	MaxResults       int // Maximum number of results per query (default: 50)
	RateLimit        int // Maximum searches per second (default: 1)
	BreakerThreshold int // Consecutive failures before the circuit opens (default: 5)
	ResultCacheTTL   int // Result cache TTL in seconds; 0 disables caching (default: 300)

	// Session persistence settings
	CacheDir       string // Directory for cookie snapshots (default: empty, no persistence)
	SessionMaxAge  int    // Maximum cookie snapshot age in hours (default: 24)
	SessionRefresh string // Cron spec or duration for periodic re-authentication (default: empty, disabled)

	// History settings
	HistoryPath string // Path to the SQLite search history database (default: empty, disabled)
}

// NewConfig creates a new Config with default values for all optional parameters.
// This ensures that the server can run with sensible defaults without requiring
// explicit configuration beyond the session token.
func NewConfig() *Config {
	return &Config{
		// Server defaults
		LogLevel:      "info",
		TransportType: "stdio",
		Host:          "localhost",
		Port:          0,
		MetricsAddr:   "",

		// Authentication defaults
		SessionToken:  "",
		AuthURL:       "",
		SearchBaseURL: "https://kagi.com/search",

		// Browser defaults
		Headless:         true,
		RemoteBrowserURL: "",
		UserAgent:        "",
		NavTimeout:       30,

		// Search defaults
		MaxAttempts:      3,
		MaxResults:       50,
		RateLimit:        1,
		BreakerThreshold: 5,
		ResultCacheTTL:   300,

		// Session persistence defaults
		CacheDir:       "",
		SessionMaxAge:  24,
		SessionRefresh: "",

		// History defaults
		HistoryPath: "",
	}
}

// Load loads configuration from environment variables with defaults.
// Returns a Config with values from environment variables or defaults.
func Load() (*Config, error) {
	cfg := NewConfig()

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file, with environment variables
// as fallback, and defaults as final fallback.
// The precedence order is: config file > environment variables > defaults.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := NewConfig()

	loadFromEnv(cfg)

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyFile(cfg, v)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWithFlags loads configuration from command-line flags, config file,
// environment variables, and defaults.
// The precedence order is: flags > config file > environment variables > defaults.
func LoadWithFlags(configPath string, flags map[string]interface{}) (*Config, error) {
	cfg := NewConfig()

	loadFromEnv(cfg)

	if configPath != "" {
		v := viper.New()
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		applyFile(cfg, v)
	}

	applyFlags(cfg, flags)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFile overrides config values with settings from the config file
// (only if they exist in the file).
func applyFile(cfg *Config, v *viper.Viper) {
	if v.IsSet("log_level") {
		cfg.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("transport") {
		cfg.TransportType = v.GetString("transport")
	}
	if v.IsSet("host") {
		cfg.Host = v.GetString("host")
	}
	if v.IsSet("port") {
		cfg.Port = v.GetInt("port")
	}
	if v.IsSet("metrics_addr") {
		cfg.MetricsAddr = v.GetString("metrics_addr")
	}
	if v.IsSet("session_token") {
		cfg.SessionToken = v.GetString("session_token")
	}
	if v.IsSet("auth_url") {
		cfg.AuthURL = v.GetString("auth_url")
	}
	if v.IsSet("search_base_url") {
		cfg.SearchBaseURL = v.GetString("search_base_url")
	}
	if v.IsSet("headless") {
		cfg.Headless = v.GetBool("headless")
	}
	if v.IsSet("remote_browser_url") {
		cfg.RemoteBrowserURL = v.GetString("remote_browser_url")
	}
	if v.IsSet("user_agent") {
		cfg.UserAgent = v.GetString("user_agent")
	}
	if v.IsSet("nav_timeout") {
		cfg.NavTimeout = v.GetInt("nav_timeout")
	}
	if v.IsSet("max_attempts") {
		cfg.MaxAttempts = v.GetInt("max_attempts")
	}
	if v.IsSet("max_results") {
		cfg.MaxResults = v.GetInt("max_results")
	}
	if v.IsSet("rate_limit") {
		cfg.RateLimit = v.GetInt("rate_limit")
	}
	if v.IsSet("breaker_threshold") {
		cfg.BreakerThreshold = v.GetInt("breaker_threshold")
	}
	if v.IsSet("result_cache_ttl") {
		cfg.ResultCacheTTL = v.GetInt("result_cache_ttl")
	}
	if v.IsSet("cache_dir") {
		cfg.CacheDir = v.GetString("cache_dir")
	}
	if v.IsSet("session_max_age") {
		cfg.SessionMaxAge = v.GetInt("session_max_age")
	}
	if v.IsSet("session_refresh") {
		cfg.SessionRefresh = v.GetString("session_refresh")
	}
	if v.IsSet("history_path") {
		cfg.HistoryPath = v.GetString("history_path")
	}
}

// applyFlags overrides config values with command-line flags (highest precedence).
func applyFlags(cfg *Config, flags map[string]interface{}) {
	setString := func(key string, dst *string) {
		if val, ok := flags[key]; ok && val != nil {
			if strVal, ok := val.(string); ok {
				*dst = strVal
			}
		}
	}
	setInt := func(key string, dst *int) {
		if val, ok := flags[key]; ok && val != nil {
			if intVal, ok := val.(int); ok {
				*dst = intVal
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if val, ok := flags[key]; ok && val != nil {
			if boolVal, ok := val.(bool); ok {
				*dst = boolVal
			}
		}
	}

	setString("log_level", &cfg.LogLevel)
	setString("transport", &cfg.TransportType)
	setString("host", &cfg.Host)
	setInt("port", &cfg.Port)
	setString("metrics_addr", &cfg.MetricsAddr)
	setString("session_token", &cfg.SessionToken)
	setString("auth_url", &cfg.AuthURL)
	setString("search_base_url", &cfg.SearchBaseURL)
	setBool("headless", &cfg.Headless)
	setString("remote_browser_url", &cfg.RemoteBrowserURL)
	setString("user_agent", &cfg.UserAgent)
	setInt("nav_timeout", &cfg.NavTimeout)
	setInt("max_attempts", &cfg.MaxAttempts)
	setInt("max_results", &cfg.MaxResults)
	setInt("rate_limit", &cfg.RateLimit)
	setInt("breaker_threshold", &cfg.BreakerThreshold)
	setInt("result_cache_ttl", &cfg.ResultCacheTTL)
	setString("cache_dir", &cfg.CacheDir)
	setInt("session_max_age", &cfg.SessionMaxAge)
	setString("session_refresh", &cfg.SessionRefresh)
	setString("history_path", &cfg.HistoryPath)
}

// loadFromEnv loads configuration from environment variables into the provided Config
func loadFromEnv(cfg *Config) {
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	if val := os.Getenv("TRANSPORT"); val != "" {
		cfg.TransportType = val
	}
	if val := os.Getenv("HOST"); val != "" {
		cfg.Host = val
	}
	if val := os.Getenv("PORT"); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			cfg.Port = intVal
		}
	}
	if val := os.Getenv("METRICS_ADDR"); val != "" {
		cfg.MetricsAddr = val
	}
	if val := os.Getenv("SESSION_TOKEN"); val != "" {
		cfg.SessionToken = val
	}
	if val := os.Getenv("AUTH_URL"); val != "" {
		cfg.AuthURL = val
	}
	if val := os.Getenv("SEARCH_BASE_URL"); val != "" {
		cfg.SearchBaseURL = val
	}
	if val := os.Getenv("HEADLESS"); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			cfg.Headless = boolVal
		}
	}
	if val := os.Getenv("REMOTE_BROWSER_URL"); val != "" {
		cfg.RemoteBrowserURL = val
	}
	if val := os.Getenv("USER_AGENT"); val != "" {
		cfg.UserAgent = val
	}
	if val := os.Getenv("NAV_TIMEOUT"); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			cfg.NavTimeout = intVal
		}
	}
	if val := os.Getenv("MAX_ATTEMPTS"); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			cfg.MaxAttempts = intVal
		}
	}
	if val := os.Getenv("MAX_RESULTS"); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			cfg.MaxResults = intVal
		}
	}
	if val := os.Getenv("RATE_LIMIT"); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			cfg.RateLimit = intVal
		}
	}
	if val := os.Getenv("BREAKER_THRESHOLD"); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			cfg.BreakerThreshold = intVal
		}
	}
	if val := os.Getenv("RESULT_CACHE_TTL"); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			cfg.ResultCacheTTL = intVal
		}
	}
	if val := os.Getenv("CACHE_DIR"); val != "" {
		cfg.CacheDir = val
	}
	if val := os.Getenv("SESSION_MAX_AGE"); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			cfg.SessionMaxAge = intVal
		}
	}
	if val := os.Getenv("SESSION_REFRESH"); val != "" {
		cfg.SessionRefresh = val
	}
	if val := os.Getenv("HISTORY_PATH"); val != "" {
		cfg.HistoryPath = val
	}
}

// Validate validates all configuration values and returns descriptive errors
// for any invalid settings. This should be called after loading configuration
// to ensure the server doesn't start with invalid configuration.
func (c *Config) Validate() error {
	var errors []string

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel))
	}

	if c.NavTimeout <= 0 {
		errors = append(errors, fmt.Sprintf("nav_timeout must be positive, got: %d", c.NavTimeout))
	}
	if c.MaxAttempts <= 0 {
		errors = append(errors, fmt.Sprintf("max_attempts must be positive, got: %d", c.MaxAttempts))
	}
	if c.MaxResults <= 0 {
		errors = append(errors, fmt.Sprintf("max_results must be positive, got: %d", c.MaxResults))
	}
	if c.RateLimit <= 0 {
		errors = append(errors, fmt.Sprintf("rate_limit must be positive, got: %d", c.RateLimit))
	}
	if c.BreakerThreshold <= 0 {
		errors = append(errors, fmt.Sprintf("breaker_threshold must be positive, got: %d", c.BreakerThreshold))
	}
	if c.ResultCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("result_cache_ttl cannot be negative, got: %d", c.ResultCacheTTL))
	}
	if c.SessionMaxAge <= 0 {
		errors = append(errors, fmt.Sprintf("session_max_age must be positive, got: %d", c.SessionMaxAge))
	}

	if c.SearchBaseURL == "" {
		errors = append(errors, "search_base_url cannot be empty")
	} else if !isHTTPURL(c.SearchBaseURL) {
		errors = append(errors, fmt.Sprintf("search_base_url must be a valid http:// or https:// URL, got: %s", c.SearchBaseURL))
	}

	if c.AuthURL != "" && !isHTTPURL(c.AuthURL) {
		errors = append(errors, fmt.Sprintf("auth_url must be a valid http:// or https:// URL, got: %s", c.AuthURL))
	}

	if c.RemoteBrowserURL != "" {
		u, err := url.Parse(c.RemoteBrowserURL)
		if err != nil || u.Host == "" ||
			(u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("remote_browser_url must be a valid ws://, wss://, http:// or https:// URL, got: %s", c.RemoteBrowserURL))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// ValidateTransport validates the transport configuration.
// Network transports (sse, streamablehttp) require a port in the range 1-65535;
// stdio ignores host and port entirely.
func (c *Config) ValidateTransport() error {
	switch c.TransportType {
	case "stdio":
		return nil
	case "sse", "streamablehttp":
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535 for %s transport, got: %d", c.TransportType, c.Port)
		}
		return nil
	default:
		return fmt.Errorf("invalid transport type: %s (must be one of: stdio, sse, streamablehttp)", c.TransportType)
	}
}

// ResolveAuthURL returns the URL used to establish the authenticated browser
// session. An explicit auth_url override wins; otherwise the session token is
// attached to the search base URL. Returns an empty string when neither a
// token nor an override is configured — that absence is surfaced at engine
// initialization, not as a config validation error, so that tools like
// --version work without credentials.
func (c *Config) ResolveAuthURL() string {
	if c.AuthURL != "" {
		return c.AuthURL
	}
	if c.SessionToken == "" {
		return ""
	}
	u, err := url.Parse(c.SearchBaseURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("token", c.SessionToken)
	u.RawQuery = q.Encode()
	return u.String()
}

// GetTransportType returns the configured transport type.
func (c *Config) GetTransportType() string {
	return c.TransportType
}

// GetPort returns the configured port for network transports.
func (c *Config) GetPort() int {
	return c.Port
}

// GetTransportAddress returns the host:port address for network transports.
// Returns an empty string for the stdio transport, which has no address.
func (c *Config) GetTransportAddress() string {
	if c.TransportType == "stdio" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// isHTTPURL reports whether s parses as an absolute http or https URL with a host.
func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
