// Package middleware provides HTTP middleware for the media vault server.
//
// It includes:
//   - Structured access logging
//   - Prometheus request metrics keyed by route template
//   - Per-client rate limiting for the stream endpoints
package middleware
