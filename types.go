package authcore

import (
	"context"
	"io"
	"time"

	"github.com/visaflow/authcore/internal/audit"
	"github.com/visaflow/authcore/internal/metrics"
)

// Roles known to the intake platform. The engine treats the role as an
// opaque claim; these constants exist so callers and policy checks agree on
// spelling.
const (
	RoleApplicant = "applicant"
	RoleOfficer   = "officer"
	RoleAdmin     = "admin"
)

// Account is the engine's view of a credentialed principal. Persistence
// lives behind AccountStore; the engine never writes these fields directly.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	Disabled     bool

	FailedLogins int
	LockedUntil  time.Time

	LastLoginAt time.Time
	LastLoginIP string
}

// AccountStore is the persistence boundary for accounts.
//
// FindByEmail matches case-insensitively and, like FindByID, returns
// ErrAccountNotFound when no account matches.
//
// RecordLoginFailure increments the account's failed-login counter and
// returns the new count; when the new count reaches threshold it also sets
// LockedUntil to lockedUntil. The increment, the threshold comparison, and
// the lock write must be one atomic step per account, so concurrent wrong
// guesses cannot lose increments. SaveLoginSuccess must atomically zero the
// counter and clear the lock.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockedUntil time.Time) (int, error)
	SaveLoginSuccess(ctx context.Context, id string, at time.Time, ip string) error
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
}

// TokenPair is one issued access/refresh pair.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AuthResult is returned by Login and Refresh.
type AuthResult struct {
	AccountID string
	Email     string
	Role      string
	Tokens    TokenPair
}

// AccessIdentity is the verified principal attached to a request after
// ValidateAccess.
type AccessIdentity struct {
	AccountID string
	Email     string
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

// Audit types re-exported so embedders configure sinks without importing
// internal packages.
type (
	AuditEvent = audit.Event
	AuditSink  = audit.Sink
	NoOpSink   = audit.NoOpSink
)

// NewChannelAuditSink returns a sink that forwards events into a buffered
// channel, for tests and embedders that fan out themselves.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONAuditSink returns a sink that writes one JSON event per line.
func NewJSONAuditSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// Metric identifiers re-exported for snapshot consumers.
type (
	MetricID        = metrics.MetricID
	MetricsSnapshot = metrics.Snapshot
)

const (
	MetricLoginSuccess          = metrics.MetricLoginSuccess
	MetricLoginFailure          = metrics.MetricLoginFailure
	MetricLoginLocked           = metrics.MetricLoginLocked
	MetricLockoutTriggered      = metrics.MetricLockoutTriggered
	MetricRefreshSuccess        = metrics.MetricRefreshSuccess
	MetricRefreshFailure        = metrics.MetricRefreshFailure
	MetricRefreshReuseDetected  = metrics.MetricRefreshReuseDetected
	MetricMassRevocation        = metrics.MetricMassRevocation
	MetricTokenInvalid          = metrics.MetricTokenInvalid
	MetricTokenExpired          = metrics.MetricTokenExpired
	MetricRateLimitBlocked      = metrics.MetricRateLimitBlocked
	MetricCSRFRejected          = metrics.MetricCSRFRejected
	MetricLogout                = metrics.MetricLogout
	MetricLogoutAll             = metrics.MetricLogoutAll
	MetricPasswordChangeSuccess = metrics.MetricPasswordChangeSuccess
	MetricPasswordChangeFailure = metrics.MetricPasswordChangeFailure
	MetricStoreTimeout          = metrics.MetricStoreTimeout
)
