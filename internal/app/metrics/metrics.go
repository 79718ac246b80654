package metrics

import (
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
			Namespace: "service_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "service_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by kind and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	ledgerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "service_layer",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Duration of ledger operations including lock wait.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"operation"},
	)

	ledgerRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "ledger",
			Name:      "version_conflicts_total",
			Help:      "Optimistic version conflicts that triggered a retry.",
		},
	)

	payrollRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "payroll",
			Name:      "runs_total",
			Help:      "Payroll runs by final status.",
		},
		[]string{"status"},
	)

	payrollCredits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "payroll",
			Name:      "credits_total",
			Help:      "Salary credits issued or skipped as already applied.",
		},
		[]string{"result"},
	)

	realtimeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "service_layer",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Currently registered realtime connections.",
		},
	)

	realtimeDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Realtime envelope deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	realtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Events dispatched by type and source.",
		},
		[]string{"type", "source"},
	)

	relayPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "service_layer",
			Subsystem: "realtime",
			Name:      "relay_publishes_total",
			Help:      "Cross-instance relay publishes by outcome (ok, failed, dropped).",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerOperations,
		ledgerDuration,
		ledgerRetries,
		payrollRuns,
		payrollCredits,
		realtimeConnections,
		realtimeDeliveries,
		realtimeEvents,
		relayPublishes,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InFlight adjusts the in-flight request gauge.
func InFlight(delta float64) {
	httpInFlight.Add(delta)
}

// RecordHTTPRequest records a completed request. path should be a route
// template, not a raw URL.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	method = strings.ToUpper(method)
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLedgerOperation records a ledger operation outcome such as "ok",
// "insufficient_balance" or "conflict".
func RecordLedgerOperation(operation, outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	ledgerOperations.WithLabelValues(operation, outcome).Inc()
	ledgerDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordVersionConflict counts one optimistic retry.
func RecordVersionConflict() {
	ledgerRetries.Inc()
}

// RecordPayrollRun records a finished payroll run.
func RecordPayrollRun(status string) {
	payrollRuns.WithLabelValues(status).Inc()
}

// RecordPayrollCredit records one per-account payroll outcome.
func RecordPayrollCredit(result string) {
	payrollCredits.WithLabelValues(result).Inc()
}

// SetRealtimeConnections sets the registered connection gauge.
func SetRealtimeConnections(n int) {
	realtimeConnections.Set(float64(n))
}

// RecordDelivery records one envelope write attempt.
func RecordDelivery(ok bool) {
	outcome := "failed"
	if ok {
		outcome = "delivered"
	}
	realtimeDeliveries.WithLabelValues(outcome).Inc()
}

// RecordEvent records an event handed to the distributor.
func RecordEvent(eventType, source string) {
	realtimeEvents.WithLabelValues(eventType, source).Inc()
}

// RecordRelayPublish records the outcome of forwarding an event to other
// instances.
func RecordRelayPublish(outcome string) {
	relayPublishes.WithLabelValues(outcome).Inc()
}

// CanonicalPath collapses a raw path into a low-cardinality label for requests
// that did not match a route.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) == 1 {
		return "/" + parts[0]
	}
	return "/" + parts[0] + "/" + parts[1]
}
