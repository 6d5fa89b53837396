// Package metrics provides Prometheus instrumentation for coordhub.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics, for the small admin/metrics listener coordhub exposes
// alongside the coordinator process.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordhub_http_requests_total",
		Help: "Total number of HTTP requests to the admin listener.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coordhub_http_request_duration_seconds",
		Help:    "Admin listener HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Transport metrics.
var (
	MessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordhub_messages_sent_total",
		Help: "Total number of coordination messages sent, by message type.",
	}, []string{"type"})

	MessagesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordhub_messages_received_total",
		Help: "Total number of coordination messages received, by message type.",
	}, []string{"type"})

	MessageParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordhub_message_parse_errors_total",
		Help: "Total number of inbox/room messages skipped for failing to parse.",
	})

	BusRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordhub_bus_retries_total",
		Help: "Total number of bus operation retry attempts, by op.",
	}, []string{"op"})
)

// Coordination state metrics.
var (
	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coordhub_active_agents",
		Help: "Number of agents tracked by the coordinator registry that are not dead.",
	})

	PendingPermissions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coordhub_pending_permissions",
		Help: "Number of permission requests awaiting a grant/deny decision.",
	})

	PermissionRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coordhub_permission_requests_total",
		Help: "Total number of permission requests resolved, by decision.",
	}, []string{"decision"})
)
