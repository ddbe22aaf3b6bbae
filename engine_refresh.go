package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/visaflow/authcore/ledger"
	"github.com/visaflow/authcore/token"
)

// Refresh exchanges a refresh token for a fresh pair. Each refresh token is
// exchangeable exactly once; presenting one that was already exchanged or
// revoked is treated as theft and revokes every session the account holds.
// The caller only ever sees ErrTokenInvalid for that case.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	claims, err := e.tokens.Verify(refreshToken, token.ClassRefresh)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			e.metrics.Inc(MetricTokenExpired)
			e.metrics.Inc(MetricRefreshFailure)
			e.emitAudit(ctx, EventTokenExpired, "", false, "refresh token expired", nil)
			return nil, ErrTokenExpired
		}
		e.metrics.Inc(MetricTokenInvalid)
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, EventTokenInvalid, "", false, "refresh token rejected", nil)
		return nil, ErrTokenInvalid
	}

	now := time.Now()
	newAccess, err := e.tokens.IssueAccess(claims.AccountID, claims.Email, claims.Role)
	if err != nil {
		return nil, err
	}
	newRefresh, err := e.tokens.IssueRefresh(claims.AccountID, claims.Email, claims.Role)
	if err != nil {
		return nil, err
	}

	refreshExpiry := now.Add(e.tokens.RefreshTTL())
	newRec := ledger.Record{
		AccountID: claims.AccountID,
		IssuedAt:  now.Unix(),
		ExpiresAt: refreshExpiry.Unix(),
	}

	// Rotation must complete once started; a cancelled caller cannot be
	// allowed to leave the old row consumed without its replacement.
	saveCtx := context.WithoutCancel(ctx)
	old, err := storeCall(e, saveCtx, func(ctx context.Context) (*ledger.Record, error) {
		return e.ledger.Rotate(ctx,
			ledger.HashToken(refreshToken),
			ledger.HashToken(newRefresh),
			newRec,
		)
	})
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrRecordExpired):
		e.metrics.Inc(MetricTokenExpired)
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, EventTokenExpired, claims.AccountID, false, "ledger row expired", nil)
		return nil, ErrTokenExpired
	case errors.Is(err, ledger.ErrRecordRevoked):
		if old != nil && old.ReplacedBy == "" {
			// Revoked without being rotated: a logout, a password change,
			// or an earlier mass revocation. Rejected, but not the
			// rotation replay that marks theft.
			e.metrics.Inc(MetricTokenInvalid)
			e.metrics.Inc(MetricRefreshFailure)
			e.emitAudit(ctx, EventTokenInvalid, claims.AccountID, false, "revoked refresh token", nil)
			return nil, ErrTokenInvalid
		}
		return nil, e.handleRefreshReuse(ctx, claims.AccountID)
	case errors.Is(err, ledger.ErrNotFound):
		// A well-signed refresh token with no ledger row: revocations leave
		// tombstones, so the row either aged out past its retention grace
		// or the store was wiped. Treat as theft; the cost of a false
		// positive is one forced re-login.
		return nil, e.handleRefreshReuse(ctx, claims.AccountID)
	default:
		return nil, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, EventRefreshSuccess, claims.AccountID, true, "", nil)

	return &AuthResult{
		AccountID: claims.AccountID,
		Email:     claims.Email,
		Role:      claims.Role,
		Tokens: TokenPair{
			AccessToken:      newAccess,
			RefreshToken:     newRefresh,
			AccessExpiresAt:  now.Add(e.tokens.AccessTTL()),
			RefreshExpiresAt: refreshExpiry,
		},
	}, nil
}

// handleRefreshReuse is the theft response: every session the account holds
// is revoked so both the thief and the victim must re-authenticate. The
// returned error satisfies errors.Is for ErrTokenInvalid and ErrRefreshReuse.
func (e *Engine) handleRefreshReuse(ctx context.Context, accountID string) error {
	e.metrics.Inc(MetricRefreshReuseDetected)
	e.metrics.Inc(MetricRefreshFailure)
	e.emitAudit(ctx, EventRefreshReuse, accountID, false, "", nil)

	saveCtx := context.WithoutCancel(ctx)
	revoked, err := storeCall(e, saveCtx, func(ctx context.Context) (int, error) {
		return e.ledger.RevokeAll(ctx, accountID)
	})
	if err != nil {
		return err
	}

	e.metrics.Inc(MetricMassRevocation)
	e.emitAudit(ctx, EventMassRevocation, accountID, true, "", map[string]string{
		"revoked": strconv.Itoa(revoked),
		"trigger": "refresh_reuse",
	})

	return errors.Join(ErrTokenInvalid, ErrRefreshReuse)
}

// Logout revokes a single refresh token. Revoking a token that is already
// dead is not an error; logout is idempotent.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	claims, err := e.tokens.Verify(refreshToken, token.ClassRefresh)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			// Nothing left to revoke.
			return nil
		}
		e.metrics.Inc(MetricTokenInvalid)
		return ErrTokenInvalid
	}

	saveCtx := context.WithoutCancel(ctx)
	if _, err := storeCall(e, saveCtx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.ledger.RevokeOne(ctx, ledger.HashToken(refreshToken))
	}); err != nil {
		return err
	}

	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, EventLogout, claims.AccountID, true, "", nil)
	return nil
}

// LogoutAll revokes every refresh token the account holds.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int, error) {
	if e.closed.Load() {
		return 0, ErrEngineClosed
	}

	saveCtx := context.WithoutCancel(ctx)
	revoked, err := storeCall(e, saveCtx, func(ctx context.Context) (int, error) {
		return e.ledger.RevokeAll(ctx, accountID)
	})
	if err != nil {
		return 0, err
	}

	e.metrics.Inc(MetricLogoutAll)
	e.emitAudit(ctx, EventLogoutAll, accountID, true, "", map[string]string{
		"revoked": strconv.Itoa(revoked),
	})
	return revoked, nil
}
