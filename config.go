package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/visaflow/authcore/password"
	"github.com/visaflow/authcore/rate"
	"github.com/visaflow/authcore/token"
)

// LockoutConfig controls credential-stuffing lockout. After MaxFailures
// consecutive failures the account refuses logins for Duration, correct
// password included.
type LockoutConfig struct {
	MaxFailures int
	Duration    time.Duration
}

// RateLimitConfig holds the two request budgets the engine enforces: a tight
// one on the credential endpoints and a looser one for authenticated API
// traffic.
type RateLimitConfig struct {
	Auth rate.Limit
	API  rate.Limit
}

// CSRFConfig controls the cross-site request guard.
type CSRFConfig struct {
	TrustedOrigins []string
	TokenTTL       time.Duration
}

// LedgerConfig controls the refresh token ledger.
type LedgerConfig struct {
	Prefix string
	// Grace keeps consumed rows around past token expiry so late replays
	// are still recognized as replays.
	Grace time.Duration
}

// StoreConfig bounds calls into the shared store. When RetryOnTimeout is
// set, a call that hits Timeout is retried once before surfacing
// ErrStoreUnavailable.
type StoreConfig struct {
	Timeout        time.Duration
	RetryOnTimeout bool
}

// AuditConfig controls the async security event dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of blocking request paths when the
	// buffer is full. Dropped counts are visible via Engine.AuditDropped.
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// Config is the full engine configuration. Zero value is not usable; start
// from DefaultConfig.
type Config struct {
	Token     token.Config
	Lockout   LockoutConfig
	Password  password.Config
	RateLimit RateLimitConfig
	CSRF      CSRFConfig
	Ledger    LedgerConfig
	Store     StoreConfig
	Audit     AuditConfig
	Metrics   MetricsConfig

	// KeyPrefix namespaces every Redis key the engine writes.
	KeyPrefix string

	// Production tightens validation: weak lockout settings and an empty
	// trusted origin set become configuration errors instead of warnings.
	Production bool
}

// DefaultConfig returns the settings used by the hosted intake platform.
// Signing secrets are intentionally absent and must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: token.Config{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "visaflow",
			Leeway:     30 * time.Second,
		},
		Lockout: LockoutConfig{
			MaxFailures: 5,
			Duration:    15 * time.Minute,
		},
		Password: password.Config{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		RateLimit: RateLimitConfig{
			Auth: rate.Limit{MaxRequests: 10, Window: time.Minute},
			API:  rate.Limit{MaxRequests: 120, Window: time.Minute},
		},
		CSRF: CSRFConfig{
			TokenTTL: 24 * time.Hour,
		},
		Ledger: LedgerConfig{
			Prefix: "ldg",
			Grace:  24 * time.Hour,
		},
		Store: StoreConfig{
			Timeout:        2 * time.Second,
			RetryOnTimeout: true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics:   MetricsConfig{Enabled: true},
		KeyPrefix: "ac",
	}
}

// Validate checks everything that does not need a live dependency. Token
// secret checks happen again inside token.NewManager; they run here too so
// misconfiguration fails before any Redis connection is made.
func (c *Config) Validate() error {
	if c.Lockout.MaxFailures < 1 {
		return errors.New("lockout max failures must be >= 1")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("lockout duration must be positive")
	}
	if c.RateLimit.Auth.MaxRequests <= 0 || c.RateLimit.Auth.Window <= 0 {
		return errors.New("auth rate limit must be positive")
	}
	if c.RateLimit.API.MaxRequests <= 0 || c.RateLimit.API.Window <= 0 {
		return errors.New("api rate limit must be positive")
	}
	if c.Store.Timeout <= 0 {
		return errors.New("store timeout must be positive")
	}
	if c.KeyPrefix == "" {
		return errors.New("key prefix must not be empty")
	}

	if _, err := token.NewManager(c.Token); err != nil {
		return fmt.Errorf("token config: %w", err)
	}

	if c.Production {
		if c.Lockout.MaxFailures > 10 {
			return errors.New("production: lockout max failures must be <= 10")
		}
		if c.Lockout.Duration < 5*time.Minute {
			return errors.New("production: lockout duration must be >= 5m")
		}
		if len(c.CSRF.TrustedOrigins) == 0 {
			return errors.New("production: at least one trusted origin required")
		}
		if c.RateLimit.Auth.MaxRequests > 100 {
			return errors.New("production: auth rate limit must be <= 100 per window")
		}
	}

	return nil
}
