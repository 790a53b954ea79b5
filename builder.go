package authcore

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hireloop/authcore/internal"
	"github.com/hireloop/authcore/jwt"
	"github.com/hireloop/authcore/password"
	"github.com/hireloop/authcore/session"
)

// Builder assembles an Engine. Start from New, chain the With methods,
// finish with Build.
type Builder struct {
	cfg       Config
	cfgSet    bool
	rdb       redis.UniversalClient
	accounts  AccountStore
	policies  PolicyProvider
	auditSink AuditSink
}

// New returns a Builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	b.cfgSet = true
	return b
}

// WithRedis sets the Redis client backing sessions, lockout, the
// blacklist and IP reputation. Required.
func (b *Builder) WithRedis(rdb redis.UniversalClient) *Builder {
	b.rdb = rdb
	return b
}

// WithAccounts sets the account store adapter. Required.
func (b *Builder) WithAccounts(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithPolicyProvider installs per-tenant policy resolution. Optional;
// without it every tenant gets the configured default policy.
func (b *Builder) WithPolicyProvider(p PolicyProvider) *Builder {
	b.policies = p
	return b
}

// WithAuditSink installs the audit destination. Optional; defaults to
// NoOpSink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// Build validates the configuration, then the required collaborators,
// then constructs the derived components, in that order.
func (b *Builder) Build() (*Engine, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	if b.rdb == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrEngineNotReady)
	}
	if b.accounts == nil {
		return nil, fmt.Errorf("%w: account store is required", ErrEngineNotReady)
	}

	verifier, err := password.NewVerifier(b.cfg.Password)
	if err != nil {
		return nil, err
	}
	tokens, err := jwt.New(b.cfg.jwtManagerConfig())
	if err != nil {
		return nil, err
	}
	sealer, err := internal.NewSealer(b.cfg.MFA.SecretSealKey)
	if err != nil {
		return nil, err
	}

	sink := b.auditSink
	if sink == nil {
		sink = NoOpSink{}
	}
	var dispatcher *auditDispatcher
	if b.cfg.Audit.Enabled {
		dispatcher = newAuditDispatcher(sink, b.cfg.Audit)
	}

	prefix := b.cfg.Session.KeyPrefix
	store := session.NewStore(b.rdb, prefix)
	blacklist := session.NewBlacklist(b.rdb, prefix, b.cfg.JWT.Leeway)

	e := &Engine{
		config:    b.cfg,
		accounts:  b.accounts,
		tokens:    tokens,
		passwords: verifier,
		sessions:  store,
		blacklist: blacklist,
		lockout:   newLockoutTracker(b.rdb, prefix, b.cfg.Lockout),
		mfaLimit:  newMFAAttemptLimiter(b.rdb, prefix, b.cfg.MFA.MaxAttempts, b.cfg.JWT.PendingTTL),
		iprep:     newIPReputation(b.rdb, prefix, b.cfg.IPReputation),
		sealer:    sealer,
		audit:     dispatcher,
		metrics:   NewMetrics(b.cfg.Metrics),
	}
	e.policy = &policyEnforcer{
		store:     store,
		blacklist: blacklist,
		defaults:  b.cfg.Policy,
		provider:  b.policies,
	}
	return e, nil
}
