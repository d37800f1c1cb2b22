/*
Package observability provides metrics, tracing and lifecycle hook helpers for
the weave engine.

Metrics are Prometheus collectors registered on a caller supplied registerer.
Tracing uses OpenTelemetry and defaults to a no-op tracer. Every helper is safe
to use on a nil receiver so that instrumentation stays optional.
*/
package observability
