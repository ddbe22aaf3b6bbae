// Package middleware exposes net/http adapters over the authcore Engine:
// bearer token enforcement, rate limiting with X-RateLimit headers, CSRF
// protection, and trusted-proxy client IP resolution.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement security logic itself; all decisions are delegated to the
// Engine.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly.
//   - Access Redis.
//   - Reveal rejection detail to clients beyond status codes and the
//     documented headers.
package middleware
