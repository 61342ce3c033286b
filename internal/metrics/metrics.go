// Package metrics provides Prometheus instrumentation for the messaging
// core: session gauges, message/event counters, and a latency histogram for
// message creation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsActive tracks the current number of open WebSocket sessions.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autocareers_sessions_active",
		Help: "Current number of open WebSocket sessions",
	})

	// MessagesCreated counts messages persisted through the service.
	MessagesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autocareers_messages_created_total",
		Help: "Total number of messages persisted",
	})

	// EventsPushed counts events successfully written to live sessions.
	EventsPushed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autocareers_events_pushed_total",
		Help: "Total number of events delivered to live sessions",
	})

	// PushFailures counts failed writes to live sessions. Failures are
	// swallowed by the registry, so this counter is the only place they
	// surface besides the log.
	PushFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autocareers_push_failures_total",
		Help: "Total number of failed event writes to live sessions",
	})

	// CreateMessageDuration records end-to-end create-message handling
	// latency in seconds, persistence included.
	CreateMessageDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "autocareers_create_message_duration_seconds",
		Help:    "Create-message handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		SessionsActive,
		MessagesCreated,
		EventsPushed,
		PushFailures,
		CreateMessageDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
