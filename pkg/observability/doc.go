// Package observability provides structured logging, Prometheus metrics,
// health checks, and graceful shutdown for the estateloop services.
package observability
