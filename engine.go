package authcore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/visaflow/authcore/csrf"
	"github.com/visaflow/authcore/internal/metrics"
	"github.com/visaflow/authcore/ledger"
	"github.com/visaflow/authcore/password"
	"github.com/visaflow/authcore/rate"
	"github.com/visaflow/authcore/token"
)

// RateClass names one of the configured request budgets.
type RateClass string

const (
	// RateClassAuth covers the credential endpoints (login, refresh).
	RateClassAuth RateClass = "auth"
	// RateClassAPI covers authenticated application traffic.
	RateClassAPI RateClass = "api"
)

// Engine is the session security core: credential verification with
// lockout, token issuance and rotation, rate limiting, and the CSRF guard.
// Build one with a Builder; all methods are safe for concurrent use.
type Engine struct {
	config    Config
	redis     redis.UniversalClient
	accounts  AccountStore
	tokens    *token.Manager
	hasher    *password.Hasher
	ledger    *ledger.Store
	limiter   *rate.Limiter
	csrfStore *csrf.Store
	csrfGuard *csrf.Guard
	metrics   *metrics.Metrics
	audit     *auditDispatcher
	closed    atomic.Bool
}

// Close drains the audit dispatcher. The Redis client is owned by the
// caller and is not closed here.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.audit.Close()
	return nil
}

// MetricsSnapshot returns a point-in-time copy of the security counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	return e.metrics.TakeSnapshot()
}

// AuditDropped reports how many security events were shed because the audit
// buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// CheckRate consumes one request from the class budget for this caller.
// Authenticated callers are keyed by account, anonymous ones by client IP.
// Exhausted budgets return a RateLimitError carrying the header values.
func (e *Engine) CheckRate(ctx context.Context, class RateClass, accountID string) (*rate.Result, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	limit := e.config.RateLimit.API
	if class == RateClassAuth {
		limit = e.config.RateLimit.Auth
	}

	key := rate.Key(string(class), ClientIP(ctx), accountID)
	res, err := storeCall(e, ctx, func(ctx context.Context) (*rate.Result, error) {
		return e.limiter.Check(ctx, key, limit)
	})
	if err != nil {
		return nil, err
	}

	if !res.Allowed {
		e.metrics.Inc(MetricRateLimitBlocked)
		e.emitAudit(ctx, EventRateLimited, accountID, false, "", map[string]string{
			"class": string(class),
		})
		return res, &RateLimitError{
			Limit:      res.Limit,
			Remaining:  res.Remaining,
			Reset:      res.Reset,
			RetryAfter: res.RetryAfter,
		}
	}

	return res, nil
}

// ProtectRequest runs the CSRF guard over an incoming request. A rejection
// returns ErrCSRFRejected; the reason goes to the audit trail only.
func (e *Engine) ProtectRequest(ctx context.Context, r *http.Request) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	verdict := e.csrfGuard.Protect(ctx, r)
	if verdict.Allowed {
		return nil
	}

	if verdict.Reason == csrf.ReasonStoreFailure {
		e.metrics.Inc(MetricStoreTimeout)
		return ErrStoreUnavailable
	}

	e.metrics.Inc(MetricCSRFRejected)
	e.emitAudit(ctx, EventCSRFRejected, "", false, verdict.Reason, map[string]string{
		"origin": verdict.Origin,
		"method": r.Method,
		"path":   r.URL.Path,
	})
	return ErrCSRFRejected
}

// IssueCSRFToken mints a token for the browser session, superseding any
// previous one.
func (e *Engine) IssueCSRFToken(ctx context.Context, sessionID string) (string, error) {
	if e.closed.Load() {
		return "", ErrEngineClosed
	}
	return storeCall(e, ctx, func(ctx context.Context) (string, error) {
		return e.csrfStore.Issue(ctx, sessionID)
	})
}

// DropCSRFToken removes the session's token. Called on logout.
func (e *Engine) DropCSRFToken(ctx context.Context, sessionID string) error {
	_, err := storeCall(e, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.csrfStore.Drop(ctx, sessionID)
	})
	return err
}

// SweepLedger trims the account's refresh token index of rows Redis already
// expired. Row data reaps itself by TTL; this is bookkeeping only.
func (e *Engine) SweepLedger(ctx context.Context, accountID string) (int, error) {
	return storeCall(e, ctx, func(ctx context.Context) (int, error) {
		return e.ledger.Sweep(ctx, accountID)
	})
}

// ActiveSessions reports how many unconsumed refresh tokens the account
// holds.
func (e *Engine) ActiveSessions(ctx context.Context, accountID string) (int, error) {
	return storeCall(e, ctx, func(ctx context.Context) (int, error) {
		return e.ledger.ActiveCount(ctx, accountID)
	})
}

// storeCall bounds one shared-store operation with the configured timeout
// and, when enabled, retries exactly once after a timeout. Anything that
// still fails on timeout surfaces as ErrStoreUnavailable.
func storeCall[T any](e *Engine, ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	run := func() (T, error, bool) {
		callCtx, cancel := context.WithTimeout(ctx, e.config.Store.Timeout)
		defer cancel()
		out, err := op(callCtx)
		timedOut := err != nil &&
			(errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded))
		return out, err, timedOut
	}

	out, err, timedOut := run()
	if !timedOut {
		return out, err
	}

	e.metrics.Inc(MetricStoreTimeout)
	e.emitAudit(ctx, EventStoreTimeout, "", false, err.Error(), nil)

	if e.config.Store.RetryOnTimeout && ctx.Err() == nil {
		out, err, timedOut = run()
		if !timedOut {
			return out, err
		}
		e.metrics.Inc(MetricStoreTimeout)
	}

	var zero T
	return zero, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
