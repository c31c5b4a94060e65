package membrane

import (
	"errors"
	"time"
)

// Config carries every policy constant the engine recognizes. It is
// assembled once, validated by [Config.Validate] during Build, and
// treated as immutable afterwards — no component reads mutable global
// state.
type Config struct {
	Lockout   LockoutConfig
	Policy    PolicyConfig
	Password  PasswordConfig
	Session   SessionConfig
	TwoFactor TwoFactorConfig
	Reset     ResetConfig
	Audit     AuditConfig
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig bounds the failed-attempt budget and the lockout window.
type LockoutConfig struct {
	// MaxFailedAttempts is the post-increment count at which the account
	// locks.
	MaxFailedAttempts int
	// LockoutDuration is the length of the lockout window measured from
	// the attempt that tripped the threshold.
	LockoutDuration time.Duration
}

/*
====================================
PASSWORD POLICY CONFIG
====================================
*/

// PolicyConfig drives the password lifecycle rules.
type PolicyConfig struct {
	// MinLength is the minimum candidate length in characters. Candidates
	// must additionally contain a lowercase letter, an uppercase letter,
	// a digit, and a symbol; all four classes are required, not scored.
	MinLength int
	// HistoryDepth is the number of most recent history entries checked
	// for reuse. Entries beyond the depth are exempt.
	HistoryDepth int
	// MinimumAge rejects a change attempted sooner than this after the
	// previous one. Zero disables the gate.
	MinimumAge time.Duration
	// MaximumAge sets PasswordExpiresAt on every commit. An expired
	// password blocks ordinary login. Zero disables expiry.
	MaximumAge time.Duration
}

/*
====================================
PASSWORD HASH CONFIG
====================================
*/

// PasswordConfig holds the argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig shapes the session authority.
type SessionConfig struct {
	// Timeout is the sliding validity window: every successful
	// validation extends expiry to now+Timeout. Pure sliding expiration,
	// no absolute cap.
	Timeout time.Duration
	// RedisPrefix namespaces session keys.
	RedisPrefix string
}

/*
====================================
TWO FACTOR CONFIG
====================================
*/

// TwoFactorConfig shapes TOTP generation and the login challenge.
type TwoFactorConfig struct {
	// Issuer labels provisioning URIs. Required once any account
	// enrolls.
	Issuer string
	Digits int
	// Period is the TOTP time step in seconds.
	Period int
	// Skew is the tolerance in adjacent steps accepted on either side of
	// the current one.
	Skew int
	// ChallengeTTL bounds how long a password-verified login may wait
	// for its second factor.
	ChallengeTTL time.Duration
	// ChallengeMaxAttempts caps code submissions per challenge. Failures
	// also count toward account lockout.
	ChallengeMaxAttempts int
	// RedisPrefix namespaces challenge keys.
	RedisPrefix string
}

/*
====================================
RESET TOKEN CONFIG
====================================
*/

// ResetConfig shapes single-use password-reset tokens.
type ResetConfig struct {
	// TokenTTL is the redemption deadline measured from issuance.
	TokenTTL time.Duration
	// RedisPrefix namespaces reset-token keys.
	RedisPrefix string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig shapes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Record non-blocking: a full buffer increments the
	// dropped counter instead of waiting. Drops are observable, never
	// silent.
	DropIfFull bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration a fresh Builder starts from.
func DefaultConfig() Config { return defaultConfig() }

func defaultConfig() Config {
	return Config{
		Lockout: LockoutConfig{
			MaxFailedAttempts: 3,
			LockoutDuration:   15 * time.Minute,
		},
		Policy: PolicyConfig{
			MinLength:    12,
			HistoryDepth: 2,
			MinimumAge:   24 * time.Hour,
			MaximumAge:   90 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Session: SessionConfig{
			Timeout:     30 * time.Minute,
			RedisPrefix: "ms",
		},
		TwoFactor: TwoFactorConfig{
			Issuer:               "",
			Digits:               6,
			Period:               30,
			Skew:                 1,
			ChallengeTTL:         3 * time.Minute,
			ChallengeMaxAttempts: 3,
			RedisPrefix:          "mc",
		},
		Reset: ResetConfig{
			TokenTTL:    24 * time.Hour,
			RedisPrefix: "mr",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cross-field consistency. Build refuses a config that
// fails validation.
func (c *Config) Validate() error {
	if c.Lockout.MaxFailedAttempts <= 0 {
		return errors.New("Lockout MaxFailedAttempts must be > 0")
	}
	if c.Lockout.LockoutDuration <= 0 {
		return errors.New("Lockout LockoutDuration must be > 0")
	}

	if c.Policy.MinLength < 8 {
		return errors.New("Policy MinLength must be >= 8")
	}
	if c.Policy.HistoryDepth < 0 {
		return errors.New("Policy HistoryDepth must be >= 0")
	}
	if c.Policy.MinimumAge < 0 {
		return errors.New("Policy MinimumAge must be >= 0")
	}
	if c.Policy.MaximumAge < 0 {
		return errors.New("Policy MaximumAge must be >= 0")
	}
	if c.Policy.MaximumAge > 0 && c.Policy.MinimumAge >= c.Policy.MaximumAge {
		return errors.New("Policy MinimumAge must be < MaximumAge")
	}

	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	if c.Session.Timeout <= 0 {
		return errors.New("Session Timeout must be > 0")
	}

	if c.TwoFactor.Digits != 6 && c.TwoFactor.Digits != 8 {
		return errors.New("TwoFactor Digits must be 6 or 8")
	}
	if c.TwoFactor.Period < 15 {
		return errors.New("TwoFactor Period must be >= 15 seconds")
	}
	if c.TwoFactor.Skew < 0 || c.TwoFactor.Skew > 2 {
		return errors.New("TwoFactor Skew must be between 0 and 2")
	}
	if c.TwoFactor.ChallengeTTL <= 0 {
		return errors.New("TwoFactor ChallengeTTL must be > 0")
	}
	if c.TwoFactor.ChallengeMaxAttempts <= 0 {
		return errors.New("TwoFactor ChallengeMaxAttempts must be > 0")
	}

	if c.Reset.TokenTTL <= 0 {
		return errors.New("Reset TokenTTL must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
