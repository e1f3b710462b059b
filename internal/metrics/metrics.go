// Package metrics provides Prometheus collectors for the Kagi Search MCP
// Server and the handler serving them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SearchesTotal counts search queries by outcome.
	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kagi_mcp_searches_total",
			Help: "Total search queries",
		},
		[]string{"status"},
	)

	// SearchDuration records per-query search duration in seconds.
	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kagi_mcp_search_duration_seconds",
			Help:    "Search duration",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// ResultsReturned records the number of result rows rendered per query.
	ResultsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kagi_mcp_results_returned",
			Help:    "Result rows returned per query",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	// BrowserRestarts counts full browser teardown-and-relaunch cycles.
	BrowserRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kagi_mcp_browser_restarts_total",
			Help: "Browser restarts",
		},
	)

	// SessionRefreshes counts session re-authentications by trigger.
	SessionRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kagi_mcp_session_refreshes_total",
			Help: "Session re-authentications",
		},
		[]string{"trigger"},
	)

	// PageReads counts read_page fetches by outcome.
	PageReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kagi_mcp_page_reads_total",
			Help: "Page reads",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		SearchesTotal,
		SearchDuration,
		ResultsReturned,
		BrowserRestarts,
		SessionRefreshes,
		PageReads,
	)
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
