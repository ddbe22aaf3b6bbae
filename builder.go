package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/visaflow/authcore/csrf"
	"github.com/visaflow/authcore/internal/metrics"
	"github.com/visaflow/authcore/ledger"
	"github.com/visaflow/authcore/password"
	"github.com/visaflow/authcore/rate"
	"github.com/visaflow/authcore/token"
)

// Builder assembles an Engine. Configure with the With methods, then call
// Build once.
type Builder struct {
	config    Config
	configSet bool
	redis     redis.UniversalClient
	accounts  AccountStore
	auditSink AuditSink
}

// New starts a Builder with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.configSet = true
	return b
}

// WithRedis sets the shared store client. Cluster and sentinel clients work
// as long as per-key operations land on one node, which they do for the
// engine's key shapes.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the account persistence backend.
func (b *Builder) WithAccountStore(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithAuditSink sets the destination for security events. Ignored when
// auditing is disabled in the config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store is required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(b.config.Token)
	if err != nil {
		return nil, err
	}
	hasher, err := password.NewHasher(b.config.Password)
	if err != nil {
		return nil, err
	}

	prefix := b.config.KeyPrefix
	ledgerPrefix := b.config.Ledger.Prefix
	if ledgerPrefix == "" {
		ledgerPrefix = "ldg"
	}

	csrfStore := csrf.NewStore(b.redis, prefix+":csrf", b.config.CSRF.TokenTTL)

	e := &Engine{
		config:    b.config,
		redis:     b.redis,
		accounts:  b.accounts,
		tokens:    tokens,
		hasher:    hasher,
		ledger:    ledger.NewStore(b.redis, prefix+":"+ledgerPrefix, b.config.Ledger.Grace),
		limiter:   rate.NewLimiter(b.redis, prefix+":rl"),
		csrfStore: csrfStore,
		csrfGuard: csrf.NewGuard(csrfStore, csrf.GuardConfig{
			TrustedOrigins: b.config.CSRF.TrustedOrigins,
		}),
		metrics: metrics.New(metrics.Config{Enabled: b.config.Metrics.Enabled}),
		audit:   newAuditDispatcher(b.config.Audit, b.auditSink),
	}

	return e, nil
}
