// Package httpapi exposes the engine's operations as Gin endpoints: login,
// refresh, logout, logout-all, password change, and CSRF token retrieval.
// Refresh tokens travel in an HttpOnly cookie; error bodies are opaque and
// identical for unknown accounts and wrong passwords.
package httpapi
