// Package metrics exposes the kernel's Prometheus collectors: HTTP request
// metrics, claim-lease coordinator activity (claims, contention, lease
// expirations), and policy-gate decision counts, grounded on the teacher
// pack's pkg/metrics/metrics.go collector-registry idiom.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector this kernel registers, kept separate from
// the default global registry so tests can build a fresh one.
var Registry = prometheus.NewRegistry()

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentkernel",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled, labeled by method/route/status.",
	}, []string{"method", "route", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentkernel",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "route"})

	claimAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "claims",
		Name:      "attempts_total",
		Help:      "Claim attempts labeled by whether any run was claimed.",
	}, []string{"result"})

	claimBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agentkernel",
		Subsystem: "claims",
		Name:      "batch_size",
		Help:      "Number of runs claimed per successful Claim call.",
		Buckets:   prometheus.LinearBuckets(0, 2, 10),
	})

	activeClaims = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentkernel",
		Subsystem: "claims",
		Name:      "active",
		Help:      "Current number of runs holding an unexpired claim lease.",
	})

	leaseExpirations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "claims",
		Name:      "lease_expirations_total",
		Help:      "Total leases reclaimed by the background sweep.",
	})

	claimContention = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "claims",
		Name:      "heartbeat_rejected_total",
		Help:      "Heartbeat/release calls rejected with lease_lost (stale claim token or expired lease).",
	})

	policyDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "policy",
		Name:      "decisions_total",
		Help:      "Policy gate decisions, labeled by action/effect/reason_code.",
	}, []string{"action", "effect", "reason_code"})

	eventsAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkernel",
		Subsystem: "eventstore",
		Name:      "events_appended_total",
		Help:      "Events successfully appended, labeled by event_type.",
	}, []string{"event_type"})
)

func init() {
	Registry.MustRegister(
		httpInFlight, httpRequests, httpDuration,
		claimAttempts, claimBatchSize, activeClaims, leaseExpirations, claimContention,
		policyDecisions, eventsAppended,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus
// metrics, to be mounted at GET /metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware instruments every request with in-flight gauge, request
// counter and duration histogram, labeling by the matched gin route
// template (c.FullPath()) rather than the raw path, to keep cardinality
// bounded across path parameters.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := strings.ToUpper(c.Request.Method)

		httpInFlight.Inc()
		start := time.Now()
		c.Next()
		httpInFlight.Dec()

		status := strconv.Itoa(c.Writer.Status())
		httpRequests.WithLabelValues(method, route, status).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordClaimAttempt records the outcome of one claims.Coordinator.Claim
// call: claimedCount is the number of runs returned.
func RecordClaimAttempt(claimedCount int) {
	result := "empty"
	if claimedCount > 0 {
		result = "claimed"
	}
	claimAttempts.WithLabelValues(result).Inc()
	claimBatchSize.Observe(float64(claimedCount))
	if claimedCount > 0 {
		activeClaims.Add(float64(claimedCount))
	}
}

// RecordClaimReleased decrements the active-claims gauge when Release
// clears a run's claim fields.
func RecordClaimReleased() {
	activeClaims.Dec()
}

// RecordLeaseExpired records one run reclaimed by the background sweep.
func RecordLeaseExpired() {
	leaseExpirations.Inc()
	activeClaims.Dec()
}

// RecordClaimContention records a Heartbeat/Release call rejected for a
// stale claim token or an already-expired lease.
func RecordClaimContention() {
	claimContention.Inc()
}

// RecordPolicyDecision records one policy.Gate.Evaluate outcome.
func RecordPolicyDecision(action, effect, reasonCode string) {
	if action == "" {
		action = "unknown"
	}
	policyDecisions.WithLabelValues(action, effect, reasonCode).Inc()
}

// RecordEventAppended records one successfully appended event.
func RecordEventAppended(eventType string) {
	eventsAppended.WithLabelValues(eventType).Inc()
}
