// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, and common HTTP middleware.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteSuccess(w, data)
//	httputil.WriteCreated(w, resource)
//
// Error responses:
//
//	httputil.WriteBadRequest(w, "Invalid input")
//	httputil.WriteNotFoundError(w, "subscription not found")
//	httputil.WriteTypedError(w, http.StatusForbidden, "STORAGE_QUOTA_EXCEEDED", details)
//
// # Request Parsing
//
// JSON parsing:
//
//	var req ChangePlanRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Path and query parameters:
//
//	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
//	limit, err := httputil.ParseQueryInt(r, "limit", 50)
//
// # Middleware
//
//	router.Use(httputil.RequestIDMiddleware)
//	router.Use(httputil.LoggingMiddleware(logger, metrics))
//	router.Use(httputil.RecoveryMiddleware(logger))
//
// # Related Packages
//
//   - pkg/api: HTTP handlers built on these helpers
package httputil
