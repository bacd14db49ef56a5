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

	otpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessgate_otp_requests_total",
			Help: "One-time passcode requests by outcome.",
		},
		[]string{"outcome"},
	)

	otpVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessgate_otp_verifications_total",
			Help: "One-time passcode verifications by outcome.",
		},
		[]string{"outcome"},
	)

	sessionValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "accessgate_session_validations_total",
			Help: "Portal session validations by outcome.",
		},
		[]string{"outcome"},
	)

	auditSinkFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "accessgate_audit_sink_failures_total",
		Help: "Audit events that could not be written to the sink.",
	})

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "accessgate_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

var initOnce sync.Once

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			otpRequests, otpVerifications, sessionValidations,
			auditSinkFailures, readyGauge,
		)
	})
}

// Handler exposes the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOTPRequest counts an OTP request outcome ("issued", "throttled", "not_found", "error").
func ObserveOTPRequest(outcome string) { otpRequests.WithLabelValues(outcome).Inc() }

// ObserveOTPVerification counts an OTP verification outcome.
func ObserveOTPVerification(outcome string) { otpVerifications.WithLabelValues(outcome).Inc() }

// ObserveSessionValidation counts a session validation outcome.
func ObserveSessionValidation(outcome string) { sessionValidations.WithLabelValues(outcome).Inc() }

// ObserveAuditSinkFailure counts an audit write that the sink rejected.
func ObserveAuditSinkFailure() { auditSinkFailures.Inc() }

// SetReady records the last readiness probe result.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument wraps next with request count, latency and in-flight metrics.
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

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// collection segments whose following segment is an identifier.
var idParents = map[string]struct{}{
	"links":      {},
	"resources":  {},
	"principals": {},
	"can-manage": {},
}

// CanonicalPath replaces identifier segments with ":id" to keep label cardinality bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		if _, ok := idParents[parts[i-1]]; ok {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
