package membrane

import (
	"context"
	"strings"
	"time"
)

// Account is the per-account identity record owned by a [CredentialStore].
// All credential-affecting state lives here: the password hash, the
// security stamp whose rotation invalidates every outstanding session,
// lockout counters, second-factor secrets, and password lifecycle
// timestamps.
type Account struct {
	ID              string
	NormalizedEmail string
	PasswordHash    string

	// SecurityStamp is an opaque token rotated on every
	// credential-affecting change. A session is only valid while the
	// stamp it was issued under still matches.
	SecurityStamp string

	// FailedAttempts is mutated by exactly one code path:
	// LockoutController. It resets to zero on successful login or
	// explicit clear, never anywhere else.
	FailedAttempts int
	// LockoutUntil is zero when no lockout window is active. A window
	// in the past counts as unlocked without any explicit transition.
	LockoutUntil time.Time

	TwoFactorEnabled bool
	// TwoFactorSecret is present iff TwoFactorEnabled.
	TwoFactorSecret []byte
	// TwoFactorPendingSecret holds an enrollment secret that has been
	// issued but not yet confirmed with a valid code.
	TwoFactorPendingSecret []byte

	LastPasswordChangedAt time.Time
	PasswordExpiresAt     time.Time

	// Version is the optimistic-concurrency counter incremented by every
	// committed Update. Store implementations use it to serialize
	// per-account transitions.
	Version uint64

	CreatedAt time.Time
}

// PasswordHistoryEntry is one prior password hash for an account.
// History is append-only; reads are bounded to the configured depth and
// older entries are retained but never consulted.
type PasswordHistoryEntry struct {
	AccountID    string
	PasswordHash string
	CreatedAt    time.Time
}

// CredentialStore is the durable account-state collaborator callers must
// provide. Implementations return [ErrAccountNotFound] for unknown
// accounts or emails and wrap any backend failure in
// [ErrStorageUnavailable].
//
// Update must serialize concurrent transitions against the same account:
// the mutate callback observes a consistent snapshot and the commit
// either applies it atomically or re-reads and retries. An error
// returned from mutate aborts the update and is returned unchanged.
type CredentialStore interface {
	Create(ctx context.Context, account Account) error
	GetByID(ctx context.Context, accountID string) (Account, error)
	GetByEmail(ctx context.Context, normalizedEmail string) (Account, error)
	Update(ctx context.Context, accountID string, mutate func(*Account) error) (Account, error)

	AppendHistory(ctx context.Context, entry PasswordHistoryEntry) error
	RecentHistory(ctx context.Context, accountID string, depth int) ([]PasswordHistoryEntry, error)
}

// Clock supplies the current instant to every engine component. Injected
// so lockout windows, password ages, and TOTP steps are testable without
// sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns a Clock backed by time.Now in UTC.
func SystemClock() Clock { return systemClock{} }

// NormalizeEmail canonicalizes an email for case-insensitive lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LoginResult is returned by [Engine.Login] and
// [Engine.ConfirmLoginTwoFactor]. When the account has a confirmed
// second factor, Login instead sets TwoFactorRequired and returns the
// challenge the caller must confirm.
type LoginResult struct {
	AccountID    string
	SessionToken string

	TwoFactorRequired bool
	ChallengeID       string
}

// AttemptResult reports the lockout state after a recorded failure.
type AttemptResult struct {
	// Remaining is the number of further failures the account can absorb
	// before locking. Zero when the window just started or is active.
	Remaining int
	Locked    bool
	// LockedUntil is set iff Locked.
	LockedUntil time.Time
}

// SessionInfo is the validated view of an active session.
type SessionInfo struct {
	AccountID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TwoFactorEnrollment is returned by [Engine.BeginTwoFactorEnrollment].
// The secret is not active until confirmed with a valid code.
type TwoFactorEnrollment struct {
	SecretBase32    string
	ProvisioningURI string
}
