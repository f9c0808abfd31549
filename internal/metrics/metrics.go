// Package metrics provides Prometheus metrics for the kiss-fs server and
// reconciliation engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ticksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kissfs_watch_ticks_total",
			Help: "Raw watch notifications received, by tick kind",
		},
		[]string{"kind"},
	)

	eventsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kissfs_events_emitted_total",
			Help: "Semantic events emitted, by kind",
		},
		[]string{"kind"},
	)

	eventsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kissfs_events_suppressed_total",
			Help: "Notifications suppressed before emission (self = own write echo, duplicate = no-op repeat, noise = empty-content transient)",
		},
		[]string{"reason"},
	)

	readRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kissfs_read_retries_total",
			Help: "Content read attempts beyond the first during reconciliation",
		},
	)

	storeOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kissfs_store_ops_total",
			Help: "Store operations, by operation and outcome",
		},
		[]string{"op", "status"},
	)

	storeOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kissfs_store_op_duration_seconds",
			Help:    "Store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kissfs_sse_connections_active",
			Help: "Currently connected SSE event subscribers",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kissfs_sse_events_total",
			Help: "Events relayed to SSE subscribers, by kind",
		},
		[]string{"kind"},
	)
)

// RecordTick counts one raw watch notification.
func RecordTick(kind string) {
	ticksTotal.WithLabelValues(kind).Inc()
}

// RecordEventEmitted counts one emitted semantic event.
func RecordEventEmitted(kind string) {
	eventsEmittedTotal.WithLabelValues(kind).Inc()
}

// RecordSuppressed counts one suppressed notification.
func RecordSuppressed(reason string) {
	eventsSuppressedTotal.WithLabelValues(reason).Inc()
}

// RecordReadRetry counts one read retry.
func RecordReadRetry() {
	readRetriesTotal.Inc()
}

// RecordStoreOp counts one store operation and its duration.
func RecordStoreOp(op string, err error, start time.Time) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	storeOpsTotal.WithLabelValues(op, status).Inc()
	storeOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// SetSSEConnectionsActive sets the active subscriber gauge.
func SetSSEConnectionsActive(n int64) {
	sseConnectionsActive.Set(float64(n))
}

// RecordSSEEvent counts one event relayed over SSE.
func RecordSSEEvent(kind string) {
	sseEventsTotal.WithLabelValues(kind).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
