// Package observability provides an OpenTelemetry metrics extension for
// the process engine. MetricsExtension implements the ext lifecycle hooks
// and records engine-wide counters for creations, leases, transitions,
// retries, failures and abandoned results, each labeled by entity type.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
