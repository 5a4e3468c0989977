package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pledge_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pledge_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pledge_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pledge_layer",
			Subsystem: "goals",
			Name:      "status_transitions_total",
			Help:      "Total number of applied goal status transitions.",
		},
		[]string{"to"},
	)

	completionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pledge_layer",
			Subsystem: "goals",
			Name:      "completion_attempts_total",
			Help:      "Total number of mark-complete requests.",
		},
		[]string{"outcome"},
	)

	// MonitorSessionsActive tracks currently armed balance monitoring
	// sessions.
	MonitorSessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pledge_layer",
			Subsystem: "monitor",
			Name:      "sessions_active",
			Help:      "Currently active balance monitoring sessions.",
		},
	)

	// BalanceChangesTotal counts observed wallet balance changes.
	BalanceChangesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pledge_layer",
			Subsystem: "monitor",
			Name:      "balance_changes_total",
			Help:      "Total number of detected wallet balance changes.",
		},
	)

	refundTransfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pledge_layer",
			Subsystem: "refunds",
			Name:      "transfers_total",
			Help:      "Total number of refund transfer attempts.",
		},
		[]string{"network", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		statusTransitions,
		completionAttempts,
		MonitorSessionsActive,
		BalanceChangesTotal,
		refundTransfers,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordStatusTransition records an applied goal status transition.
func RecordStatusTransition(to string) {
	statusTransitions.WithLabelValues(to).Inc()
}

// RecordCompletionAttempt records a mark-complete outcome: accepted,
// rejected, rate_limited, fallback or error.
func RecordCompletionAttempt(outcome string) {
	completionAttempts.WithLabelValues(outcome).Inc()
}

// RecordRefundTransfer records one wallet payout attempt.
func RecordRefundTransfer(network string, success bool) {
	refundTransfers.WithLabelValues(network, strconv.FormatBool(success)).Inc()
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack forwards hijacking to the wrapped ResponseWriter so handlers that
// upgrade the connection (e.g. websockets) keep working behind the wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

// canonicalPath collapses resource IDs so metric labels stay low-cardinality.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "goals", "wallets":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		if len(parts) == 2 {
			return "/" + parts[0] + "/:id"
		}
		return "/" + parts[0] + "/:id/" + parts[2]
	default:
		return "/" + parts[0]
	}
}
