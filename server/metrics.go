package server

import (
	"fmt"
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

// Connection lifecycle counters
var (
	connectionsOpened = metrics.NewCounter("tenkv_connections_opened_total")
	connectionsClosed = metrics.NewCounter("tenkv_connections_closed_total")
)

// commandCounter returns the per-command dispatch counter.
func commandCounter(command string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`tenkv_commands_total{command=%q}`, command))
}

// commandErrorCounter returns the per-command taxonomy-error counter.
func commandErrorCounter(command string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`tenkv_command_errors_total{command=%q}`, command))
}

// sweptKeysCounter counts keys removed by the periodic expiry sweep.
var sweptKeysCounter = metrics.NewCounter("tenkv_swept_keys_total")

// serveMetrics exposes all counters in Prometheus text format.
func serveMetrics(endpoint string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	return http.ListenAndServe(endpoint, mux)
}
