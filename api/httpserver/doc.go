// Package httpserver provides the HTTP server shell shared by the operator's
// API: routing, middleware, health endpoints, metrics and lifecycle.
//
// # Middleware
//
// Every request passes through, in order:
//
//   - RequestID and RealIP from chi
//   - Recoverer, which converts panics into a 500 envelope
//   - CORS, allowing the configured origins with GET and POST
//   - Timeout, which attaches the blanket request deadline to the context
//   - structured access logging through httplogger
//
// Handlers learn about an expired deadline from their context and answer with
// a 408 envelope themselves; see WriteTransportError.
//
// # Health and Diagnostics
//
//   - Liveness Check: /livez
//   - Readiness Check: /readyz, toggled by /drain and /undrain
//   - Metrics: Prometheus text format on a separate listener when MetricsAddr is set
//   - Profiling: pprof under /debug when EnablePprof is set
//
// # Usage
//
//	srv := httpserver.New(cfg, handler)
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
