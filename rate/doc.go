// Package rate implements the Redis-backed request limiter used in front of
// the authentication endpoints. Counting is a fixed window anchored at the
// first request; once the cap is hit the key is blocked until the window
// ends, and blocked traffic does not extend the block.
package rate
