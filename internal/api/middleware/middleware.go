// Package middleware holds the HTTP middleware stack the router wires in a
// fixed order: request id, logging (internal/logger.Middleware), metrics,
// user-id extraction/validation, and per-user rate limiting.
package middleware

// UserIDHeader is the mandatory user-identity header required on every
// inference and lifecycle route.
const UserIDHeader = "x_user_id"
