// Package metrics exposes operator counters in Prometheus text format.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
)

// RecordRequest counts a finished operation by envelope code.
func RecordRequest(operation string, code int) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`zkml_requests_total{operation=%q,code="%d"}`, operation, code)).Inc()
}

// ObserveToolDuration tracks how long the external tool ran.
func ObserveToolDuration(subcommand string, d time.Duration) {
	metrics.GetOrCreateSummary(fmt.Sprintf(`zkml_tool_duration_seconds{subcommand=%q}`, subcommand)).Update(d.Seconds())
}

// RegisterAdmissionGauge publishes the number of requests queued for the
// proving slot. Calling it twice panics, as with any duplicate metric.
func RegisterAdmissionGauge(waiting func() int64) {
	metrics.NewGauge("zkml_admission_waiting", func() float64 {
		return float64(waiting())
	})
}

// MetricsServer serves /metrics on a dedicated listener.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for addr. An empty addr yields a server that
// is never started.
func New(addr string) *MetricsServer {
	r := chi.NewRouter()
	r.Get("/metrics", Handler)

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler writes all registered metrics, including process metrics.
func Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	metrics.WritePrometheus(w, true)
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
