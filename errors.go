package membrane

import "errors"

var (
	// ErrAccountExists is returned when registration targets an email
	// that already has an account.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound is returned when no account matches the given
	// identifier. Login-shaped boundaries must surface it to end users as
	// a generic credential failure, never as "email not found".
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidCredentials is returned for a wrong password or an
	// unknown identifier at the login boundary.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrPasswordExpired is returned when the account's password is past
	// its maximum age. No session is issued; the caller redirects to the
	// forced-change flow.
	ErrPasswordExpired = errors.New("password expired")

	// ErrPasswordPolicy is returned when a candidate password fails the
	// strength rules. Violations wrap it with the specific rule.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a candidate password verifies
	// against one of the recent history entries.
	ErrPasswordReuse = errors.New("password was used recently")
	// ErrPasswordTooSoon is returned when a change is attempted before
	// the minimum password age has elapsed.
	ErrPasswordTooSoon = errors.New("password changed too recently")

	// ErrSessionNotFound is returned when the session record no longer
	// exists (expired out of the store or never issued).
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired is returned when a session has passed its sliding
	// expiry. Terminal: the session is never resurrected.
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionStale is returned when a session's issued stamp no longer
	// matches the account's current security stamp. Terminal.
	ErrSessionStale = errors.New("session stamp mismatch")

	// ErrResetTokenInvalid is returned when a reset token does not match
	// any issued record.
	ErrResetTokenInvalid = errors.New("reset token invalid")
	// ErrResetTokenExpired is returned when a reset token is past its
	// deadline.
	ErrResetTokenExpired = errors.New("reset token expired")
	// ErrResetTokenUsed is returned when a reset token has already been
	// redeemed. At most one concurrent redemption ever succeeds.
	ErrResetTokenUsed = errors.New("reset token already used")

	// ErrTwoFactorRequired is returned by Login when the account has a
	// confirmed second factor; the caller continues with
	// ConfirmLoginTwoFactor.
	ErrTwoFactorRequired = errors.New("second factor required")
	// ErrTwoFactorInvalid is returned for a wrong TOTP code.
	ErrTwoFactorInvalid = errors.New("invalid second factor code")
	// ErrTwoFactorNotEnrolled is returned when a 2FA operation targets an
	// account without a pending or confirmed secret.
	ErrTwoFactorNotEnrolled = errors.New("second factor not enrolled")
	// ErrChallengeExpired is returned when a login challenge has lapsed.
	ErrChallengeExpired = errors.New("login challenge expired")
	// ErrChallengeAttempts is returned when a login challenge has burned
	// all permitted code attempts.
	ErrChallengeAttempts = errors.New("login challenge attempts exceeded")

	// ErrStorageUnavailable wraps any collaborator failure that prevents
	// a security decision. Callers must fail closed.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrEngineNotReady is returned when the engine is used before Build
	// completed or with missing dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
)
