// Package observability provides an OpenTelemetry metrics extension for
// Shepherd. The MetricsExtension implements the state and server hooks to
// record system-wide counters for applied transitions, materialized
// recurring jobs, leadership changes and fatal stops. It can also publish
// the aggregate job counts of a store.Notifier as gauges.
//
// For per-run tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
