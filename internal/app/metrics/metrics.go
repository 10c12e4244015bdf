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
			Namespace: "serpifai",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serpifai",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "serpifai",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	gatewayRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serpifai",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total number of gateway action requests.",
		},
		[]string{"action", "outcome", "signed"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "serpifai",
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Duration of gateway action requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"action", "outcome"},
	)

	creditsDebited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "serpifai",
			Subsystem: "ledger",
			Name:      "credits_debited_total",
			Help:      "Total credits debited at authorization time.",
		},
	)

	creditsRefunded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "serpifai",
			Subsystem: "ledger",
			Name:      "credits_refunded_total",
			Help:      "Total credits refunded after failed transactions.",
		},
	)

	cachePurges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "serpifai",
			Subsystem: "cache",
			Name:      "purged_records_total",
			Help:      "Expired cache records removed, by trigger.",
		},
		[]string{"trigger"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		gatewayRequests,
		gatewayDuration,
		creditsDebited,
		creditsRefunded,
		cachePurges,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
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

// RecordGatewayRequest records one processed action request. The action label
// is the routing rule name rather than the raw action to keep cardinality
// bounded.
func RecordGatewayRequest(rule, outcome string, signed bool, duration time.Duration) {
	if rule == "" {
		rule = "unmatched"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	gatewayRequests.WithLabelValues(rule, outcome, strconv.FormatBool(signed)).Inc()
	gatewayDuration.WithLabelValues(rule, outcome).Observe(duration.Seconds())
}

// RecordDebit records credits reserved against an account.
func RecordDebit(cost int64) {
	if cost > 0 {
		creditsDebited.Add(float64(cost))
	}
}

// RecordRefund records credits returned after a failed transaction.
func RecordRefund(cost int64) {
	if cost > 0 {
		creditsRefunded.Add(float64(cost))
	}
}

// RecordCachePurge records expired cache records removed by a cleanup pass.
func RecordCachePurge(trigger string, removed int64) {
	if removed > 0 {
		cachePurges.WithLabelValues(trigger).Add(float64(removed))
	}
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

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "admin" {
		return "/" + parts[0]
	}
	if len(parts) < 3 {
		return "/admin"
	}
	if len(parts) == 3 {
		return "/admin/accounts/:account"
	}
	return "/admin/accounts/:account/" + parts[3]
}
