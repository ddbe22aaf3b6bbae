package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/visaflow/authcore/ledger"
	"github.com/visaflow/authcore/rate"
)

// Login verifies credentials and, on success, issues a fresh token pair.
//
// Unknown accounts and wrong passwords are indistinguishable to the caller:
// both cost one password verification and both return
// ErrInvalidCredentials. A locked account refuses even the correct password
// until the lockout window closes.
func (e *Engine) Login(ctx context.Context, email, pass string) (*AuthResult, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	account, err := storeCall(e, ctx, func(ctx context.Context) (*Account, error) {
		return e.accounts.FindByEmail(ctx, email)
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.hasher.DummyVerify(pass)
			e.metrics.Inc(MetricLoginFailure)
			e.emitAudit(ctx, EventLoginFailure, "", false, "unknown account", nil)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := time.Now()
	if account.LockedUntil.After(now) {
		e.metrics.Inc(MetricLoginLocked)
		e.emitAudit(ctx, EventLoginLocked, account.ID, false, "", nil)
		return nil, &LockoutError{
			Until:      account.LockedUntil,
			RetryAfter: account.LockedUntil.Sub(now),
		}
	}

	ok, err := e.hasher.Verify(pass, account.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.recordLoginFailure(ctx, account, now)
	}

	if account.Disabled {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, EventLoginFailure, account.ID, false, "account disabled", nil)
		return nil, ErrInvalidCredentials
	}

	e.maybeUpgradeHash(ctx, account, pass)

	// Once the password checked out the bookkeeping must land even if the
	// caller walks away mid-request.
	saveCtx := context.WithoutCancel(ctx)
	if _, err := storeCall(e, saveCtx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.accounts.SaveLoginSuccess(ctx, account.ID, now, ClientIP(ctx))
	}); err != nil {
		return nil, err
	}

	pair, err := e.issuePair(saveCtx, account.ID, account.Email, account.Role)
	if err != nil {
		return nil, err
	}

	// A successful login forgives earlier fumbles at the rate limiter.
	_ = e.limiter.Clear(saveCtx, rate.Key(string(RateClassAuth), ClientIP(ctx), ""))

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, EventLoginSuccess, account.ID, true, "", nil)

	return &AuthResult{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
		Tokens:    *pair,
	}, nil
}

func (e *Engine) recordLoginFailure(ctx context.Context, account *Account, now time.Time) error {
	// The increment and the threshold check both happen inside the store,
	// atomically per account. Re-deriving the count here from the row read
	// before the slow password verify would let parallel guesses lose
	// increments and outrun the lockout.
	saveCtx := context.WithoutCancel(ctx)
	lockedUntil := now.Add(e.config.Lockout.Duration)
	failures, err := storeCall(e, saveCtx, func(ctx context.Context) (int, error) {
		return e.accounts.RecordLoginFailure(ctx, account.ID, e.config.Lockout.MaxFailures, lockedUntil)
	})
	if err != nil {
		return err
	}

	e.metrics.Inc(MetricLoginFailure)
	if failures >= e.config.Lockout.MaxFailures {
		e.metrics.Inc(MetricLockoutTriggered)
		e.emitAudit(ctx, EventLockoutTriggered, account.ID, false, "", map[string]string{
			"failures": strconv.Itoa(failures),
		})
		return &LockoutError{
			Until:      lockedUntil,
			RetryAfter: e.config.Lockout.Duration,
		}
	}

	e.emitAudit(ctx, EventLoginFailure, account.ID, false, "wrong password", map[string]string{
		"failures": strconv.Itoa(failures),
	})
	return ErrInvalidCredentials
}

// maybeUpgradeHash re-hashes the password under current cost parameters when
// the stored hash is weaker. Best effort; a store hiccup here must not fail
// the login.
func (e *Engine) maybeUpgradeHash(ctx context.Context, account *Account, pass string) {
	up, err := e.hasher.NeedsUpgrade(account.PasswordHash)
	if err != nil || !up {
		return
	}

	newHash, err := e.hasher.Hash(pass)
	if err != nil {
		return
	}

	saveCtx := context.WithoutCancel(ctx)
	_, _ = storeCall(e, saveCtx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.accounts.UpdatePasswordHash(ctx, account.ID, newHash)
	})
}

// ChangePassword verifies the current password and swaps in the new one.
// Every refresh token the account holds is revoked, so other devices must
// log in again with the new password.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	account, err := storeCall(e, ctx, func(ctx context.Context) (*Account, error) {
		return e.accounts.FindByID(ctx, accountID)
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metrics.Inc(MetricPasswordChangeFailure)
			return ErrInvalidCredentials
		}
		return err
	}

	now := time.Now()
	if account.LockedUntil.After(now) {
		e.metrics.Inc(MetricPasswordChangeFailure)
		return &LockoutError{
			Until:      account.LockedUntil,
			RetryAfter: account.LockedUntil.Sub(now),
		}
	}

	ok, err := e.hasher.Verify(current, account.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.metrics.Inc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, EventLoginFailure, account.ID, false, "password change with wrong password", nil)
		return ErrInvalidCredentials
	}

	if next == current {
		e.metrics.Inc(MetricPasswordChangeFailure)
		return ErrPasswordReuse
	}

	newHash, err := e.hasher.Hash(next)
	if err != nil {
		e.metrics.Inc(MetricPasswordChangeFailure)
		return err
	}

	saveCtx := context.WithoutCancel(ctx)
	if _, err := storeCall(e, saveCtx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.accounts.UpdatePasswordHash(ctx, account.ID, newHash)
	}); err != nil {
		e.metrics.Inc(MetricPasswordChangeFailure)
		return err
	}

	if _, err := storeCall(e, saveCtx, func(ctx context.Context) (int, error) {
		return e.ledger.RevokeAll(ctx, account.ID)
	}); err != nil {
		return err
	}

	e.metrics.Inc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, EventPasswordChanged, account.ID, true, "", nil)
	return nil
}

// issuePair mints an access/refresh pair and records the refresh token in
// the ledger. The pair is only returned once the ledger row is durable.
func (e *Engine) issuePair(ctx context.Context, accountID, email, role string) (*TokenPair, error) {
	now := time.Now()

	access, err := e.tokens.IssueAccess(accountID, email, role)
	if err != nil {
		return nil, err
	}
	refresh, err := e.tokens.IssueRefresh(accountID, email, role)
	if err != nil {
		return nil, err
	}

	refreshExpiry := now.Add(e.tokens.RefreshTTL())
	rec := ledger.Record{
		AccountID: accountID,
		IssuedAt:  now.Unix(),
		ExpiresAt: refreshExpiry.Unix(),
	}
	if _, err := storeCall(e, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.ledger.Insert(ctx, ledger.HashToken(refresh), rec)
	}); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(e.tokens.AccessTTL()),
		RefreshExpiresAt: refreshExpiry,
	}, nil
}
