// Package metrics provides Prometheus instrumentation for the Offerflow service.
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
			Namespace: "offerflow",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "offerflow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OffersProcessed counts finished queue passes by action and result.
	OffersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offerflow",
			Name:      "offers_processed_total",
			Help:      "Total offer processing passes by chosen action and result.",
		},
		[]string{"action", "result"},
	)

	// ActionsTotal counts Gateway accept/decline calls by result.
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offerflow",
			Name:      "offer_actions_total",
			Help:      "Total Gateway offer actions by type and result.",
		},
		[]string{"action", "result"},
	)

	// ConfirmationsTotal counts detached confirmation attempts by result.
	ConfirmationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "offerflow",
			Name:      "offer_confirmations_total",
			Help:      "Total confirmation-acceptance attempts by result.",
		},
		[]string{"result"},
	)

	// FetchAttempts counts individual Gateway offer fetch attempts.
	FetchAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "offerflow",
		Name:      "offer_fetch_attempts_total",
		Help:      "Total Gateway offer fetch attempts, including retries.",
	})

	// FetchExhausted counts fetches that hit the attempt cap.
	FetchExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "offerflow",
		Name:      "offer_fetch_retries_exhausted_total",
		Help:      "Total offer fetches that exhausted the retry attempt cap.",
	})

	// QueueDepth tracks the number of offer ids awaiting processing.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offerflow",
		Name:      "queue_depth",
		Help:      "Number of offer ids currently in the processing queue.",
	})

	// ReservedItems tracks the number of asset ids committed to offers.
	ReservedItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offerflow",
		Name:      "reserved_items",
		Help:      "Number of asset ids currently reserved by in-flight offers.",
	})

	// ProcessingDuration observes end-to-end offer processing time, from
	// handling start to the terminal state change.
	ProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "offerflow",
		Name:      "offer_processing_duration_seconds",
		Help:      "Time from handling start to offer resolution in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	// PollSnapshots counts poll-state snapshots persisted.
	PollSnapshots = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "offerflow",
		Name:      "poll_snapshots_total",
		Help:      "Total poll-state snapshots persisted.",
	})

	// ActiveWebSocketClients tracks connected feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offerflow",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offerflow", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offerflow", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offerflow", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "offerflow", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OffersProcessed,
		ActionsTotal,
		ConfirmationsTotal,
		FetchAttempts,
		FetchExhausted,
		QueueDepth,
		ReservedItems,
		ProcessingDuration,
		PollSnapshots,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
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
