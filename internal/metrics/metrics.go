// Package metrics provides Prometheus instrumentation for the SwiftRamp platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftramp",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "swiftramp",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// TradesTotal counts trades reaching a terminal status.
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftramp",
			Name:      "trades_total",
			Help:      "Total trades by terminal status.",
		},
		[]string{"status"},
	)

	// TradeCreatedTotal counts trades opened, by asset and fiat pair.
	TradeCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftramp",
			Name:      "trade_created_total",
			Help:      "Total trades created by asset and fiat currency.",
		},
		[]string{"asset", "fiat"},
	)

	TradeCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swiftramp",
		Name:      "trade_completed_total",
		Help:      "Total trades settled successfully.",
	})

	TradeDisputedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swiftramp",
		Name:      "trade_disputed_total",
		Help:      "Total trades escalated to dispute.",
	})

	TradeExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swiftramp",
		Name:      "trade_expired_total",
		Help:      "Total trades expired by the TTL sweeper.",
	})

	// TradeDuration observes time from trade creation to a terminal status.
	TradeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "swiftramp",
		Name:      "trade_duration_seconds",
		Help:      "Time from trade creation to terminal status in seconds.",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 900, 1800, 3600},
	})

	// AssignmentFallbackTotal counts assignments that fell back to the default operator.
	AssignmentFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "swiftramp",
		Name:      "assignment_fallback_total",
		Help:      "Total trade assignments routed to the default operator account.",
	})

	// ChatMessagesTotal counts chat messages appended, by sender role.
	ChatMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftramp",
			Name:      "chat_messages_total",
			Help:      "Total chat messages appended by sender role.",
		},
		[]string{"role"},
	)

	// RateLocksTotal counts rate locks by source freshness.
	RateLocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "swiftramp",
			Name:      "rate_locks_total",
			Help:      "Total rate locks issued, labeled fresh or stale.",
		},
		[]string{"source"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "swiftramp",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// OnlineAdmins tracks admins with a live heartbeat.
	OnlineAdmins = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swiftramp", Name: "online_admins",
		Help: "Number of admins currently considered online.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swiftramp", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swiftramp", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swiftramp", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swiftramp", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swiftramp", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "swiftramp", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TradesTotal,
		TradeCreatedTotal,
		TradeCompletedTotal,
		TradeDisputedTotal,
		TradeExpiredTotal,
		TradeDuration,
		AssignmentFallbackTotal,
		ChatMessagesTotal,
		RateLocksTotal,
		ActiveWebSocketClients,
		OnlineAdmins,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
