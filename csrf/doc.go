// Package csrf protects the cookie-authenticated endpoints against
// cross-site request forgery. Each browser session gets a random token held
// in Redis; state-changing requests must echo it in a header or form field.
// When no token is presented the guard falls back to Origin/Referer checking
// against the trusted origin set. Bearer-authenticated requests are exempt,
// a cross-site page cannot attach an Authorization header.
package csrf
