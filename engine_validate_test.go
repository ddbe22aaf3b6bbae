package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestValidateAccess(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	res := login(t, h)

	id, err := h.engine.ValidateAccess(ctx, res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if id.AccountID != res.AccountID || id.Email != res.Email || id.Role != res.Role {
		t.Errorf("identity = %+v", id)
	}
	if id.TokenID == "" {
		t.Error("missing token id")
	}
	if !id.ExpiresAt.After(time.Now()) {
		t.Errorf("ExpiresAt = %v", id.ExpiresAt)
	}
}

func TestValidateAccessRejections(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	res := login(t, h)

	if _, err := h.engine.ValidateAccess(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("garbage: %v", err)
	}
	// Refresh tokens carry the other class and secret.
	if _, err := h.engine.ValidateAccess(ctx, res.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("refresh as access: %v", err)
	}
}

func TestValidateAccessExpired(t *testing.T) {
	h := newTestHarness(t, func(cfg *Config) {
		cfg.Token.AccessTTL = time.Millisecond
		cfg.Token.RefreshTTL = time.Hour
		cfg.Token.Leeway = 0
	})
	ctx := context.Background()
	res := login(t, h)

	time.Sleep(10 * time.Millisecond)

	if _, err := h.engine.ValidateAccess(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired access: %v", err)
	}
}

func TestValidateAccessReflectsAccountState(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	res := login(t, h)

	// Disable the account mid-lifetime; the still-valid token stops
	// working immediately.
	h.accounts.mu.Lock()
	h.accounts.byID[res.AccountID].Disabled = true
	h.accounts.mu.Unlock()

	if _, err := h.engine.ValidateAccess(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("disabled account: %v", err)
	}

	// Deleted account behaves the same.
	h.accounts.mu.Lock()
	delete(h.accounts.byID, res.AccountID)
	h.accounts.mu.Unlock()

	if _, err := h.engine.ValidateAccess(ctx, res.Tokens.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("deleted account: %v", err)
	}
}

func TestEngineClosed(t *testing.T) {
	h := newTestHarness(t, nil)
	res := login(t, h)
	_ = h.engine.Close()

	if _, err := h.engine.Login(context.Background(), "applicant@example.com", "correct horse battery"); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Login after Close: %v", err)
	}
	if _, err := h.engine.Refresh(context.Background(), res.Tokens.RefreshToken); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Refresh after Close: %v", err)
	}
	if _, err := h.engine.ValidateAccess(context.Background(), res.Tokens.AccessToken); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("ValidateAccess after Close: %v", err)
	}
}
