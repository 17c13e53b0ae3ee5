// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, and common HTTP middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteSuccess(w, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteAccepted(w, operation)
//
// Error responses:
//
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteNotFound(w, "Operation not found")
//	httputil.WriteConflict(w, "Deployment already exists")
//	httputil.WriteInternalError(w, err)
//
// # Request Parsing
//
// JSON parsing:
//
//	var req DeployRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path and query parameters:
//
//	orgID, ok := httputil.ParsePathStringOrError(w, r, "orgID")
//	timeout, err := httputil.ParseQueryDuration(r, "timeout", 15*time.Minute)
//
// # Middleware
//
//	httputil.Chain(handler,
//		httputil.RequestIDMiddleware(),
//		httputil.LoggingMiddleware(log),
//		httputil.RecoveryMiddleware(log),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// # Related Packages
//
//   - pkg/api: HTTP handlers built on these helpers
package httputil
