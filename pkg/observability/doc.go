// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for the deployment orchestrator.
//
// Logging is JSON via stdlib slog with context plumbing for request and
// operation ids. Metrics cover the deployment lifecycle: submissions,
// polls, convergence outcomes, self-registrations and catalog syncs.
// Tracing is initialized once in the server binary; spans are created at
// the AWS boundary (pkg/awscloud).
package observability
