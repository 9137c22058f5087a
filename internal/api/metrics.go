package api

import (
	"net/http"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/metrics"
)

// RegisterMetrics registers the Prometheus handler in provided mux
func RegisterMetrics(mux *http.ServeMux, m *metrics.Metrics) {
	mux.Handle("GET /metrics", m.Handler())
}
