// Package prometheus provides Prometheus collectors for tfa metrics.
//
// [NewPrometheusExporter] accepts an [tfa.Engine] and exposes an [http.Handler]
// that renders all tfa counters and histograms in Prometheus text exposition format.
// Counter names are prefixed tfa_*_total; the single histogram is
// tfa_decide_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate engine state.
package prometheus
