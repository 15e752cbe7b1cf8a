// Package otel binds credsync counters and histograms to OpenTelemetry
// instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter for each credsync
// metric and an Int64ObservableGauge per histogram bucket. A single callback
// reads [credsync.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
