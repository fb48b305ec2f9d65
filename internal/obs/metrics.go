package obs

import (
	"net/http"
	"strconv"
	"strings"
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

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	tokensIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Signed tokens issued by type.",
		},
		[]string{"type"},
	)

	refreshRotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_rotations_total",
			Help: "Refresh token rotations by outcome.",
		},
		[]string{"outcome"},
	)

	mfaChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_mfa_checks_total",
			Help: "MFA code verifications by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
)

// Init registers all metrics in the default registry. Call once at startup.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		loginsTotal, tokensIssuedTotal, refreshRotationsTotal, mfaChecksTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountLogin records a login attempt outcome: ok, mfa_required, or rejected.
func CountLogin(outcome string) { loginsTotal.WithLabelValues(outcome).Inc() }

// CountTokenIssued records an issued token by type: access, refresh, or temp.
func CountTokenIssued(kind string) { tokensIssuedTotal.WithLabelValues(kind).Inc() }

// CountRotation records a refresh rotation outcome: ok, replayed, expired, invalid.
func CountRotation(outcome string) { refreshRotationsTotal.WithLabelValues(outcome).Inc() }

// CountMfaCheck records an MFA verification: method is totp or recovery.
func CountMfaCheck(method, outcome string) { mfaChecksTotal.WithLabelValues(method, outcome).Inc() }

// Instrument wraps a handler with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource ids so metric labels stay low-cardinality.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) >= 2 && parts[0] == "v1" && parts[1] == "roles" && len(parts) == 3:
		return "/v1/roles/:id"
	case len(parts) >= 2 && parts[0] == "v1" && parts[1] == "roles" && len(parts) == 4 && parts[3] == "permissions":
		return "/v1/roles/:id/permissions"
	case len(parts) >= 2 && parts[0] == "v1" && parts[1] == "permissions" && len(parts) == 3:
		return "/v1/permissions/:id"
	case len(parts) >= 2 && parts[0] == "v1" && parts[1] == "users" && len(parts) == 4 && parts[3] == "roles":
		return "/v1/users/:id/roles"
	case len(parts) >= 2 && parts[0] == "v1" && parts[1] == "users" && len(parts) == 4 && parts[3] == "permissions":
		return "/v1/users/:id/permissions"
	case len(parts) >= 2 && parts[0] == "v1" && parts[1] == "users" && len(parts) == 5 && parts[3] == "roles":
		return "/v1/users/:id/roles/:role_id"
	}
	return path
}

// statusWriter tracks the response code for metric labels.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
