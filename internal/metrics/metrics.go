// Package metrics defines Prometheus metrics for ebay-mcp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ebay_mcp"

// HTTP metrics for the ops server.
var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HealthzUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "healthz_up",
		Help:      "Whether the last /healthz probe succeeded (1) or failed (0).",
	})

	ReadyzUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "readyz_up",
		Help:      "Whether the last /readyz probe succeeded (1) or failed (0).",
	})
)

// eBay REST metrics.
var (
	EbayAPICallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ebay_api_calls_total",
		Help:      "Total eBay REST calls by endpoint and status code.",
	}, []string{"endpoint", "status"})

	EbayAPICallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ebay_api_call_duration_seconds",
		Help:      "Duration of individual eBay REST attempts in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	EbayAPIRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ebay_api_retries_total",
		Help:      "Total eBay REST retries by endpoint and error category.",
	}, []string{"endpoint", "category"})

	EbayAPIErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ebay_api_errors_total",
		Help:      "Total eBay REST calls that failed after retries, by error category.",
	}, []string{"category"})
)

// Circuit breaker metrics.
var (
	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_state",
		Help:      "Circuit state per endpoint (0=closed, 1=half-open, 2=open).",
	}, []string{"endpoint"})

	CircuitTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "circuit_trips_total",
		Help:      "Total number of times a circuit opened.",
	}, []string{"endpoint"})
)

// Rate limit metrics.
var (
	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Total calls rejected by the local rate limiter.",
	}, []string{"bucket"})

	EbayDailyRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ebay_daily_remaining",
		Help:      "Calls available in the continuous daily token bucket.",
	})

	EbayQuotaLimit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ebay_quota_limit",
		Help:      "eBay-reported call limit by API resource.",
	}, []string{"resource"})

	EbayQuotaRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ebay_quota_remaining",
		Help:      "eBay-reported remaining calls by API resource.",
	}, []string{"resource"})
)

// OAuth metrics.
var (
	TokenRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_requests_total",
		Help:      "Total token endpoint calls by grant type and result.",
	}, []string{"grant", "result"})

	TokenCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_cache_total",
		Help:      "Token lookups served from cache (hit) or requiring the token endpoint (miss).",
	}, []string{"type", "result"})

	ConsentFlowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consent_flows_total",
		Help:      "User consent flow transitions by outcome.",
	}, []string{"outcome"})
)

// Response cache metrics.
var (
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Response cache lookups by tier and result.",
	}, []string{"tier", "result"})

	CacheErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_errors_total",
		Help:      "Shared cache tier failures by operation.",
	}, []string{"op"})
)

// MCP tool metrics.
var (
	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Total MCP tool invocations by tool and result.",
	}, []string{"tool", "result"})

	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_call_duration_seconds",
		Help:      "Duration of MCP tool invocations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})
)

// Maintenance metrics.
var (
	MaintenanceRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "maintenance_runs_total",
		Help:      "Scheduled maintenance job runs by job and result.",
	}, []string{"job", "result"})

	CachePurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_purged_total",
		Help:      "Expired shared cache rows deleted by maintenance.",
	})
)
