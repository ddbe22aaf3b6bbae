package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers both unknown accounts and wrong
	// passwords; callers cannot tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is open.
	// Returned errors carry a retry hint via LockoutError.
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenExpired is returned for a well-formed token past its lifetime.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for any other token rejection.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrRefreshReuse marks a reuse-detection hit. It is always joined with
	// ErrTokenInvalid so external callers see a generic rejection.
	ErrRefreshReuse = errors.New("refresh token reuse detected")
	// ErrPasswordReuse is returned when a password change submits the
	// current password as the new one.
	ErrPasswordReuse = errors.New("new password must differ from current")
	// ErrRateLimited is returned when a request budget is exhausted.
	// Returned errors carry a retry hint via RateLimitError.
	ErrRateLimited = errors.New("rate limited")
	// ErrCSRFRejected is returned when the cross-site request guard fires.
	ErrCSRFRejected = errors.New("csrf rejected")
	// ErrAccountNotFound is returned by AccountStore implementations.
	ErrAccountNotFound = errors.New("account not found")
	// ErrStoreUnavailable is returned when the shared store could not be
	// reached, after the configured retry.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineClosed is returned after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// LockoutError wraps ErrAccountLocked with the remaining lockout duration.
type LockoutError struct {
	Until      time.Time
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LockoutError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RateLimitError wraps ErrRateLimited with the limiter's verdict so HTTP
// layers can emit Retry-After and the X-RateLimit headers.
type RateLimitError struct {
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
