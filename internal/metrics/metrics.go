// Package metrics declares the Prometheus collectors shared by the console
// and the simulator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StreamConnects counts successful WebSocket handshakes per stream.
	StreamConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opconsole_stream_connects_total",
			Help: "Successful WebSocket connections per stream",
		},
		[]string{"stream"},
	)

	// StreamReconnects counts reconnect timers scheduled after a socket closed.
	StreamReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opconsole_stream_reconnects_total",
			Help: "Reconnect attempts scheduled per stream",
		},
		[]string{"stream"},
	)

	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opconsole_stream_messages_total",
			Help: "WebSocket messages received per stream",
		},
		[]string{"stream"},
	)

	StreamParseErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opconsole_stream_parse_errors_total",
			Help: "WebSocket messages that failed to decode per stream",
		},
		[]string{"stream"},
	)

	ToastsShown = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opconsole_toasts_shown_total",
			Help: "Toasts displayed per tone",
		},
		[]string{"tone"},
	)

	// ToastsSuppressed counts toasts dropped by visible dedup or cooldown.
	ToastsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opconsole_toasts_suppressed_total",
			Help: "Toasts suppressed as duplicates or within cooldown",
		},
	)

	// Requests counts REST calls by endpoint path and outcome (ok or error).
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opconsole_requests_total",
			Help: "Backend REST requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	// SimClients tracks connected WebSocket clients on the simulator.
	SimClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opsim_ws_clients",
			Help: "Connected WebSocket clients per simulator stream",
		},
		[]string{"stream"},
	)
)

// RecordRequest increments Requests for endpoint using err to pick the outcome.
func RecordRequest(endpoint string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	Requests.WithLabelValues(endpoint, outcome).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
