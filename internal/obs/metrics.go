package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// EntityMutations counts successful entity writes by operation.
	EntityMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_entity_mutations_total",
			Help: "Successful entity mutations.",
		},
		[]string{"op"},
	)

	// AccountMutations counts successful account writes by operation.
	AccountMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_account_mutations_total",
			Help: "Successful account mutations.",
		},
		[]string{"op"},
	)

	// Conflicts counts rejected writes by conflict kind.
	Conflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_conflicts_total",
			Help: "Writes rejected by uniqueness checks.",
		},
		[]string{"kind"},
	)

	// SessionsIssued counts successful sign-ins.
	SessionsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_sessions_issued_total",
		Help: "Sessions created by sign-in.",
	})

	// SignInFailures counts rejected sign-ins by reason.
	SignInFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_signin_failures_total",
			Help: "Rejected sign-in attempts.",
		},
		[]string{"reason"},
	)

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			EntityMutations, AccountMutations, Conflicts, SessionsIssued, SignInFailures,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight, count and latency for every request.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// CanonicalPath collapses numeric identifiers and DNI searches so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i > 0 && parts[i-1] == "dni" {
			parts[i] = ":search"
			continue
		}
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
