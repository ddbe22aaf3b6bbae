package authcore

import (
	"context"
	"errors"

	"github.com/visaflow/authcore/token"
)

// ValidateAccess verifies an access token and re-resolves the account, so a
// token minted before an account was disabled or deleted stops working
// immediately rather than at expiry.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*AccessIdentity, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	claims, err := e.tokens.Verify(accessToken, token.ClassAccess)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			e.metrics.Inc(MetricTokenExpired)
			return nil, ErrTokenExpired
		}
		e.metrics.Inc(MetricTokenInvalid)
		e.emitAudit(ctx, EventTokenInvalid, "", false, "access token rejected", nil)
		return nil, ErrTokenInvalid
	}

	account, err := storeCall(e, ctx, func(ctx context.Context) (*Account, error) {
		return e.accounts.FindByID(ctx, claims.AccountID)
	})
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metrics.Inc(MetricTokenInvalid)
			e.emitAudit(ctx, EventTokenInvalid, claims.AccountID, false, "account gone", nil)
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if account.Disabled {
		e.metrics.Inc(MetricTokenInvalid)
		e.emitAudit(ctx, EventTokenInvalid, account.ID, false, "account disabled", nil)
		return nil, ErrTokenInvalid
	}

	return &AccessIdentity{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
