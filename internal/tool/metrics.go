package tool

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler exposes the shared Prometheus registry at /metrics on the
// tool-call transport, wrapped into gin via gin.WrapH.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
