// Package prometheus exposes credsync metrics to Prometheus.
//
// [NewPrometheusExporter] accepts a [credsync.Engine]. Its [PrometheusExporter.Handler]
// renders every counter and histogram in text exposition format, and
// [PrometheusExporter.Collector] adapts the same snapshot to a client_golang
// registry. Counter names are prefixed credsync_*_total; the single histogram
// is credsync_save_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the
//     Handler or register the Collector themselves.
//   - Mutate engine state.
package prometheus
