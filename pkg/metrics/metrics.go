// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// WebhookInboundTotal tracks inbound channel webhook deliveries.
	WebhookInboundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_inbound_total",
			Help: "Inbound channel webhook deliveries by outcome",
		},
		[]string{"channel", "outcome"},
	)

	// DispatchAttemptsTotal tracks bridge dispatch attempts.
	DispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_dispatch_attempts_total",
			Help: "Automation bridge dispatch attempts",
		},
		[]string{"tenant_id"},
	)

	// DispatchDuration tracks bridge dispatch call duration.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_dispatch_duration_seconds",
			Help:    "Automation bridge dispatch duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"status"},
	)

	// RunsCompletedTotal tracks automation runs by terminal status.
	RunsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_runs_completed_total",
			Help: "Automation runs reaching a terminal status",
		},
		[]string{"tenant_id", "status"},
	)

	// CallbacksTotal tracks workflow engine callbacks by outcome.
	CallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_callbacks_total",
			Help: "Workflow engine callbacks by outcome",
		},
		[]string{"outcome"},
	)

	// SuppressedRepliesTotal tracks AI replies suppressed by operator takeover.
	SuppressedRepliesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "automation_suppressed_replies_total",
			Help: "AI replies suppressed because an operator holds the conversation",
		},
	)

	// DeliveriesTotal tracks outbound channel deliveries.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "channel_deliveries_total",
			Help: "Outbound channel deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	// MessagesTotal tracks persisted messages.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Messages persisted by sender",
		},
		[]string{"tenant_id", "sender"},
	)

	// SystemEventsTotal tracks recorded system events.
	SystemEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "system_events_total",
			Help: "System events recorded by code and level",
		},
		[]string{"code", "level"},
	)

	// IncidentsOpenedTotal tracks incidents opened by the correlator.
	IncidentsOpenedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidents_opened_total",
			Help: "Incidents opened automatically by event escalation",
		},
		[]string{"code"},
	)

	// WidgetPollsTotal tracks widget message polls.
	WidgetPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_polls_total",
			Help: "Widget message poll requests by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordDispatch records metrics for a bridge dispatch outcome.
func RecordDispatch(tenantID, status string, duration float64) {
	DispatchDuration.WithLabelValues(status).Observe(duration)
	if status != "pending" {
		RunsCompletedTotal.WithLabelValues(tenantID, status).Inc()
	}
}
