// Package errs defines the error types the API returns to clients:
// HTTPError for response bodies, FieldError for per-field validation
// failures, and Action for client instructions such as redirects.
package errs
