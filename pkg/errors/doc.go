// Package errors provides structured error handling with error codes for trustcore.
//
// Errors carry a typed code, a human-readable message, optional structured
// details, and a wrapped cause. Codes map to HTTP status codes so API
// handlers can surface service errors without switch statements of their own.
//
// Device-rejection errors are deliberately generic at the API surface: the
// caller is never told which trust branch fired. The detailed cause is
// recorded in the audit trail instead.
package errors
