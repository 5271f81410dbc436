// Package metrics provides counters, Prometheus collectors, and HTTP
// handlers for exporting notifyd runtime metrics.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connects     int64
	disconnects  int64
	reaps        int64
	delivered    int64
	suppressed   int64
	sendFailures int64
	connections  int64
)

var (
	promConnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifyd_connects_total",
			Help: "Total accepted websocket connections",
		},
	)
	promDisconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifyd_disconnects_total",
			Help: "Total closed websocket connections",
		},
	)
	promReaps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifyd_reaps_total",
			Help: "Total connections forcibly terminated by liveness probing or send failure",
		},
	)
	promDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifyd_events_delivered_total",
			Help: "Total events written to a live connection",
		},
	)
	promSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifyd_events_suppressed_total",
			Help: "Total deliveries denied by the preference gate",
		},
	)
	promSendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifyd_send_failures_total",
			Help: "Total per-connection send failures during fan-out",
		},
	)
	promConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifyd_connections",
			Help: "Current live websocket connections",
		},
	)
)

func init() {
	prometheus.MustRegister(
		promConnects,
		promDisconnects,
		promReaps,
		promDelivered,
		promSuppressed,
		promSendFailures,
		promConnections,
	)
}

// IncConnect records an accepted connection.
func IncConnect() {
	atomic.AddInt64(&connects, 1)
	atomic.AddInt64(&connections, 1)
	promConnects.Inc()
	promConnections.Inc()
}

// IncDisconnect records a closed connection, whatever the close path.
func IncDisconnect() {
	atomic.AddInt64(&disconnects, 1)
	atomic.AddInt64(&connections, -1)
	promDisconnects.Inc()
	promConnections.Dec()
}

// IncReap records a forced termination.
func IncReap() {
	atomic.AddInt64(&reaps, 1)
	promReaps.Inc()
}

// IncDelivered records one event written to one connection.
func IncDelivered() {
	atomic.AddInt64(&delivered, 1)
	promDelivered.Inc()
}

// IncSuppressed records a gate denial.
func IncSuppressed() {
	atomic.AddInt64(&suppressed, 1)
	promSuppressed.Inc()
}

// IncSendFailure records a failed write during fan-out.
func IncSendFailure() {
	atomic.AddInt64(&sendFailures, 1)
	promSendFailures.Inc()
}

// StatsSnapshot is a snapshot of counters for JSON encoding.
type StatsSnapshot struct {
	Connects     int64 `json:"connects"`
	Disconnects  int64 `json:"disconnects"`
	Reaps        int64 `json:"reaps"`
	Delivered    int64 `json:"events_delivered"`
	Suppressed   int64 `json:"events_suppressed"`
	SendFailures int64 `json:"send_failures"`
	Connections  int64 `json:"connections"`
}

// GetSnapshot returns the current values of all counters.
func GetSnapshot() StatsSnapshot {
	return StatsSnapshot{
		Connects:     atomic.LoadInt64(&connects),
		Disconnects:  atomic.LoadInt64(&disconnects),
		Reaps:        atomic.LoadInt64(&reaps),
		Delivered:    atomic.LoadInt64(&delivered),
		Suppressed:   atomic.LoadInt64(&suppressed),
		SendFailures: atomic.LoadInt64(&sendFailures),
		Connections:  atomic.LoadInt64(&connections),
	}
}

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }

// JSONHandler returns an HTTP handler that serves the current counters as
// a JSON-encoded StatsSnapshot.
func JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetSnapshot())
	})
}
