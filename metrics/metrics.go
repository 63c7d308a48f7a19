package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ara_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ara_http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	FunctionalityInsertions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ara_functionality_insertions_total",
			Help: "Total number of functionalities created or moved, by relative position",
		},
		[]string{"operation", "position"},
	)

	ScopeChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ara_scope_changes_total",
			Help: "Total number of user project scope mutations",
		},
		[]string{"operation", "outcome"},
	)

	Logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ara_logins_total",
			Help: "Total number of logins by provider and how the user was resolved",
		},
		[]string{"provider", "source"},
	)

	PatternQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ara_pattern_query_duration_seconds",
			Help:    "Time taken to evaluate problem patterns against errors",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	ProblemOccurrencesAssigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ara_problem_occurrences_assigned_total",
			Help: "Total number of error to problem pattern links created",
		},
	)

	APIPanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ara_api_panics_recovered_total",
			Help: "Total number of panics recovered by the API server",
		},
		[]string{"method", "route"},
	)

	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ara_rate_limit_exceeded_total",
			Help: "Total number of requests rejected by rate limiting",
		},
		[]string{"tier"},
	)

	TokensRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ara_tokens_revoked_total",
			Help: "Total number of access tokens revoked",
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ara_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ara_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ara_cache_errors_total",
			Help: "Total number of cache errors",
		},
		[]string{"cache", "operation"},
	)
)

// SQLite connection pool metrics, labelled by pool ("read" or "write")
var (
	SQLitePoolOpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ara_sqlite_pool_open_connections",
			Help: "Number of established connections",
		},
		[]string{"pool"},
	)

	SQLitePoolInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ara_sqlite_pool_in_use",
			Help: "Number of connections currently in use",
		},
		[]string{"pool"},
	)

	SQLitePoolIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ara_sqlite_pool_idle",
			Help: "Number of idle connections",
		},
		[]string{"pool"},
	)

	SQLitePoolWaitCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ara_sqlite_pool_wait_count_total",
			Help: "Total number of connections waited for",
		},
		[]string{"pool"},
	)
)
