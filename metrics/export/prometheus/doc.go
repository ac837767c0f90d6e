// Package prometheus provides Prometheus collectors for goidx metrics.
//
// [NewPrometheusExporter] accepts a [goidx.Client] and exposes an [http.Handler]
// that renders all goidx counters and histograms in Prometheus text exposition format.
// Counter names are prefixed goidx_*_total; the single histogram is
// goidx_run_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate client state.
package prometheus
