// Package server provides the MCP server core implementation, handling protocol
// communication, tool registration, and request routing.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/kagibridge/kagi-search-mcp-server/internal/browser"
	"github.com/kagibridge/kagi-search-mcp-server/internal/config"
	"github.com/kagibridge/kagi-search-mcp-server/internal/history"
	"github.com/kagibridge/kagi-search-mcp-server/internal/metrics"
	"github.com/kagibridge/kagi-search-mcp-server/internal/reader"
	"github.com/kagibridge/kagi-search-mcp-server/internal/search"
	"github.com/kagibridge/kagi-search-mcp-server/internal/session"
)

// Server represents the MCP server instance with all its dependencies.
// It coordinates the MCP protocol handling, the browser-backed search engine,
// and tool execution.
type Server struct {
	config      *config.Config
	engine      *search.Engine
	reader      *reader.Reader
	searches    *history.Store // nil when history is disabled
	refresher   *cron.Cron     // nil when session refresh is disabled
	logger      *slog.Logger
	mcpServer   *server.MCPServer
	transport   TransportStarter
	initialized bool
}

// NewServer creates a new MCP server instance with the provided configuration
// and logger. The browser is not launched until Initialize() is called.
//
// Returns an error if the transport configuration is invalid or a configured
// store cannot be opened.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	if err := cfg.ValidateTransport(); err != nil {
		return nil, fmt.Errorf("invalid transport configuration: %w", err)
	}

	mcpServer := server.NewMCPServer(
		"kagi-search-mcp-server",
		"1.0.0",
	)

	// Create zerolog logger for the browser/search pipeline (os.Stderr keeps
	// it clear of the stdio transport).
	pipelineLogger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	browserSession := browser.NewSession(browser.Config{
		Headless:   cfg.Headless,
		RemoteURL:  cfg.RemoteBrowserURL,
		UserAgent:  cfg.UserAgent,
		NavTimeout: time.Duration(cfg.NavTimeout) * time.Second,
	}, pipelineLogger)

	var snapshots *session.Store
	if cfg.CacheDir != "" {
		var err error
		snapshots, err = session.NewStore(cfg.CacheDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create session store: %w", err)
		}
	}

	var searches *history.Store
	if cfg.HistoryPath != "" {
		var err error
		searches, err = history.Open(cfg.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open search history: %w", err)
		}
	}

	engine := search.NewEngine(cfg, browserSession, snapshots, searches, pipelineLogger)
	pageReader := reader.NewReader(time.Duration(cfg.NavTimeout)*time.Second, pipelineLogger)

	transport, err := NewTransport(cfg, logger)
	if err != nil {
		if searches != nil {
			searches.Close()
		}
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	return &Server{
		config:      cfg,
		engine:      engine,
		reader:      pageReader,
		searches:    searches,
		logger:      logger,
		mcpServer:   mcpServer,
		transport:   transport,
		initialized: false,
	}, nil
}

// Initialize performs server initialization: launching and authenticating the
// browser session and scheduling the periodic session refresher when
// configured. This should be called before Start().
func (s *Server) Initialize(ctx context.Context) error {
	if s.initialized {
		return fmt.Errorf("server already initialized")
	}

	s.logger.Info("Starting server initialization")

	s.logger.Info("Initializing browser search engine", "search_base_url", s.config.SearchBaseURL)
	if err := s.engine.Initialize(ctx); err != nil {
		s.logger.Error("Failed to initialize search engine", "error", err)
		return fmt.Errorf("failed to initialize search engine: %w", err)
	}

	if s.config.SessionRefresh != "" {
		if err := s.startRefresher(ctx); err != nil {
			return fmt.Errorf("failed to schedule session refresh: %w", err)
		}
	}

	s.initialized = true
	s.logger.Info("Server initialization complete")
	return nil
}

// startRefresher schedules the periodic session re-authentication.
func (s *Server) startRefresher(ctx context.Context) error {
	schedule, err := parseRefreshSchedule(s.config.SessionRefresh)
	if err != nil {
		return fmt.Errorf("invalid session_refresh %q: %w", s.config.SessionRefresh, err)
	}

	c := cron.New()
	c.Schedule(schedule, cron.FuncJob(func() {
		refreshCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		if err := s.engine.Refresh(refreshCtx, "scheduled"); err != nil {
			s.logger.Warn("Scheduled session refresh failed", "error", err)
		} else {
			s.logger.Info("Scheduled session refresh complete")
		}
	}))
	c.Start()
	s.refresher = c

	s.logger.Info("Session refresher scheduled", "schedule", s.config.SessionRefresh)
	return nil
}

// parseRefreshSchedule accepts either a standard cron expression
// ("0 */6 * * *") or a duration string ("6h").
func parseRefreshSchedule(spec string) (cron.Schedule, error) {
	if d, err := time.ParseDuration(spec); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("duration must be positive")
		}
		return cron.Every(d), nil
	}
	return cron.ParseStandard(spec)
}

// RegisterTools registers all MCP tools with the server.
// This should be called after Initialize() and before Start().
func (s *Server) RegisterTools() error {
	if !s.initialized {
		return fmt.Errorf("server not initialized, call Initialize() first")
	}

	s.logger.Info("Registering MCP tools")

	searchTool := mcp.NewTool(
		"search",
		mcp.WithDescription("Perform web search based on one or more queries. Results are from all queries given. They are numbered continuously, so that a user may be able to refer to a result by a specific number."),
		mcp.WithArray("queries",
			mcp.Required(),
			mcp.Description("One or more concise, keyword-focused search queries. Include essential context within each query for standalone use."),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
	s.mcpServer.AddTool(searchTool, s.handleSearchTool)

	readTool := mcp.NewTool(
		"read_page",
		mcp.WithDescription("Fetch a web page and return its readable text content. Useful for reading a search result in full."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The http(s) URL of the page to read"),
		),
	)
	s.mcpServer.AddTool(readTool, s.handleReadPageTool)

	if s.searches != nil {
		historyTool := mcp.NewTool(
			"search_history",
			mcp.WithDescription("List recent searches performed by this server, newest first."),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of entries to return (default: 10)"),
			),
		)
		s.mcpServer.AddTool(historyTool, s.handleHistoryTool)
	}

	s.logger.Info("MCP tools registered successfully")
	return nil
}

// Start starts the MCP server and begins listening for client connections.
// This is a blocking call that runs until the context is cancelled or an
// error occurs.
func (s *Server) Start(ctx context.Context) error {
	if !s.initialized {
		return fmt.Errorf("server not initialized, call Initialize() first")
	}

	s.logger.Info("Starting MCP server", "transport", s.transport.Type())
	if addr := s.config.GetTransportAddress(); addr != "" {
		s.logger.Info("Transport address", "address", addr)
	}

	if err := s.transport.Start(ctx, s.mcpServer); err != nil {
		s.logger.Error("MCP server error", "error", err, "transport", s.transport.Type())
		return fmt.Errorf("MCP server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server: the refresher stops, the
// transport closes, the browser is torn down, and the history store closes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server", "transport", s.transport.Type())

	if s.refresher != nil {
		s.refresher.Stop()
	}

	var shutdownErr error
	if err := s.transport.Shutdown(ctx); err != nil {
		s.logger.Error("Error during transport shutdown", "error", err, "transport", s.transport.Type())
		shutdownErr = fmt.Errorf("transport shutdown error: %w", err)
	}

	if err := s.engine.Close(); err != nil {
		s.logger.Error("Error during browser shutdown", "error", err)
		if shutdownErr == nil {
			shutdownErr = fmt.Errorf("browser shutdown error: %w", err)
		}
	}

	if s.searches != nil {
		if err := s.searches.Close(); err != nil {
			s.logger.Error("Error closing search history", "error", err)
			if shutdownErr == nil {
				shutdownErr = fmt.Errorf("history close error: %w", err)
			}
		}
	}

	if shutdownErr != nil {
		return shutdownErr
	}

	s.logger.Info("Server shutdown complete", "transport", s.transport.Type())
	return nil
}

// parseQueries validates the raw queries argument: a non-empty array of
// non-empty strings.
func parseQueries(raw interface{}) ([]string, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("queries must be an array of strings")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("queries cannot be empty")
	}

	queries := make([]string, 0, len(list))
	for i, item := range list {
		q, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("queries[%d] must be a string", i)
		}
		if q == "" {
			return nil, fmt.Errorf("queries[%d] cannot be empty", i)
		}
		queries = append(queries, q)
	}
	return queries, nil
}

// handleSearchTool handles the search tool invocation.
func (s *Server) handleSearchTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	queries, err := parseQueries(args["queries"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid queries parameter: %v", err)), nil
	}

	rowsPerQuery, err := s.engine.SearchAll(ctx, queries)
	if err != nil {
		s.logger.Error("Search failed", "queries", queries, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	total := 0
	for _, rows := range rowsPerQuery {
		total += len(rows)
	}
	s.logger.Info("Search completed", "queries", len(queries), "results", total)

	return mcp.NewToolResultText(search.Format(queries, rowsPerQuery)), nil
}

// handleReadPageTool handles the read_page tool invocation.
func (s *Server) handleReadPageTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageURL, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url parameter is required and must be a non-empty string"), nil
	}

	page, err := s.reader.Fetch(ctx, pageURL)
	if err != nil {
		metrics.PageReads.WithLabelValues("error").Inc()
		s.logger.Error("Page read failed", "url", pageURL, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to read page: %v", err)), nil
	}
	metrics.PageReads.WithLabelValues("ok").Inc()

	var content strings.Builder
	content.WriteString(fmt.Sprintf("# %s\n\n", page.Title))
	content.WriteString(fmt.Sprintf("URL: %s\n", page.URL))
	if page.SiteName != "" {
		content.WriteString(fmt.Sprintf("Site: %s\n", page.SiteName))
	}
	if page.Excerpt != "" {
		content.WriteString(fmt.Sprintf("Excerpt: %s\n", page.Excerpt))
	}
	content.WriteString("\n")
	content.WriteString(page.Content)

	s.logger.Info("Page read", "url", pageURL, "title", page.Title)

	return mcp.NewToolResultText(content.String()), nil
}

// handleHistoryTool handles the search_history tool invocation.
// Only registered when history is enabled.
func (s *Server) handleHistoryTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 10)

	entries, err := s.searches.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("History query failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to read search history: %v", err)), nil
	}

	if len(entries) == 0 {
		return mcp.NewToolResultText("No searches recorded yet."), nil
	}

	var content strings.Builder
	content.WriteString(fmt.Sprintf("Last %d searches:\n\n", len(entries)))
	for _, e := range entries {
		content.WriteString(fmt.Sprintf("%s  %-5s  %3d results  %6dms  %q\n",
			e.CreatedAt.Format(time.RFC3339), e.Status, e.Results, e.Duration.Milliseconds(), e.Query))
	}

	return mcp.NewToolResultText(content.String()), nil
}
