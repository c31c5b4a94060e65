package membrane

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/membrane-auth/membrane/internal/stores"
	"github.com/membrane-auth/membrane/logging"
	"github.com/membrane-auth/membrane/otp"
	"github.com/membrane-auth/membrane/password"
	"github.com/membrane-auth/membrane/session"
)

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and treat the result as immutable.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	creds     CredentialStore
	auditSink AuditSink
	logger    logging.Logger
	clock     Clock

	built bool
}

// New returns a Builder carrying the default configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client backing the session, reset-token, and
// login-challenge stores.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the durable account store.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.creds = store
	return b
}

// WithAuditSink sets the destination for audit events. Without one the
// dispatcher delivers into a no-op sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the operational logger.
func (b *Builder) WithLogger(log logging.Logger) *Builder {
	b.logger = log
	return b
}

// WithClock overrides the time source. Tests substitute a fake clock
// here; production builds leave it unset.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration, wires every component, and starts
// the audit dispatcher. A Builder builds at most once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.creds == nil {
		return nil, errors.New("credential store required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := b.clock
	if clock == nil {
		clock = SystemClock()
	}
	log := b.logger
	if log == nil {
		log = logging.Nop()
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	gen, err := otp.NewGenerator(otp.Config{
		Issuer: cfg.TwoFactor.Issuer,
		Digits: cfg.TwoFactor.Digits,
		Period: cfg.TwoFactor.Period,
		Skew:   cfg.TwoFactor.Skew,
	})
	if err != nil {
		return nil, err
	}

	sessions := session.NewStore(b.redis, cfg.Session.RedisPrefix)
	resets := stores.NewResetStore(b.redis, cfg.Reset.RedisPrefix)
	challenges := stores.NewChallengeStore(b.redis, cfg.TwoFactor.RedisPrefix)

	engine := &Engine{
		cfg:   cfg,
		creds: b.creds,
		clock: clock,
		log:   log,
	}
	engine.lockout = NewLockoutController(b.creds, clock, cfg.Lockout)
	engine.policy = NewPasswordPolicy(b.creds, hasher, clock, cfg.Policy)
	engine.authority = NewSessionAuthority(sessions, b.creds, clock, cfg.Session)
	engine.twoFactor = NewTwoFactorEngine(b.creds, gen, clock)
	engine.resets = NewResetTokenService(b.creds, resets, clock, cfg.Reset)
	engine.challenges = challenges
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, log)

	b.built = true

	return engine, nil
}
