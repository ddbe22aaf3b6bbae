package authcore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Security event types emitted by the engine.
const (
	EventLoginSuccess     = "login.success"
	EventLoginFailure     = "login.failure"
	EventLoginLocked      = "login.locked"
	EventLockoutTriggered = "lockout.triggered"
	EventRefreshSuccess   = "refresh.success"
	EventRefreshReuse     = "refresh.reuse"
	EventMassRevocation   = "revocation.mass"
	EventTokenInvalid     = "token.invalid"
	EventTokenExpired     = "token.expired"
	EventLogout           = "logout"
	EventLogoutAll        = "logout.all"
	EventRateLimited      = "rate.limited"
	EventCSRFRejected     = "csrf.rejected"
	EventPasswordChanged  = "password.changed"
	EventStoreTimeout     = "store.timeout"
)

func (e *Engine) emitAudit(ctx context.Context, eventType, accountID string, success bool, errText string, metadata map[string]string) {
	if e.audit == nil {
		return
	}

	e.audit.Emit(ctx, AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		AccountID: accountID,
		IP:        ClientIP(ctx),
		Success:   success,
		Error:     errText,
		Metadata:  metadata,
	})
}
