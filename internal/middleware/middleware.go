// Package middleware stores global and route-specific middleware.
//
// These intercept requests to handle cross-cutting concerns: Clerk
// authentication for experimenter routes, participant session
// resolution, request logging, CORS, rate limiting, tracing and panic
// recovery.
package middleware
