// Package metrics exposes the Prometheus collectors of the protocol engine
// and its transports.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlink_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentlink_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// Protocol
	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentlink_agents_registered_total",
			Help: "Agents registered by this process",
		},
	)

	ConnectionRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentlink_connection_requests_total",
			Help: "Connection requests submitted",
		},
	)

	ConnectionsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlink_connections_accepted_total",
			Help: "Connections established, labelled by whether the accept duplicated an earlier one",
		},
		[]string{"duplicate"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlink_messages_sent_total",
			Help: "Messages sent on connection topics",
		},
		[]string{"data"}, // "inline" or "locator"
	)

	ChunksAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentlink_object_chunks_appended_total",
			Help: "Object store chunk submissions",
		},
	)

	AdvisoryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentlink_advisory_failures_total",
			Help: "Best-effort operations that failed and were not propagated",
		},
		[]string{"op"},
	)

	// Ledger collaborators
	LedgerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentlink_ledger_call_duration_seconds",
			Help:    "Ledger client and log reader call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"call", "result"},
	)

	LedgerRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentlink_ledger_retries_total",
			Help: "Retried mirror node requests",
		},
	)
)

// Handler serves the default registry in exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
