package membrane

import (
	"context"
	"errors"
	"fmt"

	"github.com/membrane-auth/membrane/internal/stores"
	"github.com/membrane-auth/membrane/internal/token"
)

// Login runs the full credential decision for one presentation:
// lookup, lockout gate, password verification, password-expiry gate,
// second-factor branch, then session issuance. Unknown emails and wrong
// passwords both come back as ErrInvalidCredentials; the distinction
// exists only in the audit stream.
func (e *Engine) Login(ctx context.Context, email, passwd string) (*LoginResult, error) {
	if e == nil || e.creds == nil {
		return nil, ErrEngineNotReady
	}

	norm := NormalizeEmail(email)
	account, err := e.creds.GetByEmail(ctx, norm)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.emit(ctx, AuditLoginFailure, "", norm, false, "unknown email")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := e.clock.Now()
	if e.lockout.lockedAt(account, now) {
		e.emit(ctx, AuditLoginLocked, account.ID, norm, false, "lockout window active")
		return nil, ErrAccountLocked
	}

	ok, err := e.policy.Hasher().Verify(passwd, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		return nil, e.recordLoginFailure(ctx, account, norm, "password mismatch")
	}

	if err := e.policy.CheckMaximumAge(account, now); err != nil {
		e.emit(ctx, AuditLoginPasswordExpired, account.ID, norm, false, "password past maximum age")
		return nil, err
	}

	if account.TwoFactorEnabled {
		challengeID, err := e.createLoginChallenge(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		e.emit(ctx, AuditTwoFactorRequired, account.ID, norm, true, "")
		return &LoginResult{
			AccountID:         account.ID,
			TwoFactorRequired: true,
			ChallengeID:       challengeID,
		}, nil
	}

	return e.completeLogin(ctx, account, norm)
}

// ConfirmLoginTwoFactor finishes a login whose password already
// verified. Code failures burn a challenge attempt and count toward
// account lockout — a second-factor failure is a credential failure.
func (e *Engine) ConfirmLoginTwoFactor(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			return nil, ErrChallengeExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	now := e.clock.Now()
	if now.Unix() >= record.ExpiresAt {
		_, _ = e.challenges.Delete(ctx, challengeID)
		return nil, ErrChallengeExpired
	}

	account, err := e.creds.GetByID(ctx, record.AccountID)
	if err != nil {
		return nil, err
	}
	if e.lockout.lockedAt(account, now) {
		e.emit(ctx, AuditLoginLocked, account.ID, account.NormalizedEmail, false, "lockout window active")
		return nil, ErrAccountLocked
	}

	if err := e.twoFactor.VerifyCode(ctx, account.ID, code); err != nil {
		if !errors.Is(err, ErrTwoFactorInvalid) {
			return nil, err
		}
		return nil, e.recordChallengeFailure(ctx, account, challengeID)
	}

	deleted, err := e.challenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !deleted {
		// A concurrent confirmation already consumed this challenge.
		return nil, ErrChallengeExpired
	}

	e.emit(ctx, AuditTwoFactorSuccess, account.ID, account.NormalizedEmail, true, "")
	return e.completeLogin(ctx, account, account.NormalizedEmail)
}

// recordLoginFailure routes one failed credential check through the
// lockout controller — the single increment per logical attempt — and
// maps the outcome to the caller-facing error.
func (e *Engine) recordLoginFailure(ctx context.Context, account Account, email, reason string) error {
	result, err := e.lockout.RecordFailure(ctx, account.ID)
	if err != nil {
		return err
	}

	if result.Locked {
		e.emit(ctx, AuditLoginFailure, account.ID, email, false, reason)
		e.emit(ctx, AuditLockoutStarted, account.ID, email, false,
			fmt.Sprintf("locked until %s", result.LockedUntil.UTC().Format("2006-01-02T15:04:05Z07:00")))
		return ErrAccountLocked
	}

	e.emit(ctx, AuditLoginFailure, account.ID, email, false,
		fmt.Sprintf("%s; %d attempts remaining", reason, result.Remaining))
	return ErrInvalidCredentials
}

func (e *Engine) recordChallengeFailure(ctx context.Context, account Account, challengeID string) error {
	exceeded, err := e.challenges.RecordFailure(ctx, challengeID, e.cfg.TwoFactor.ChallengeMaxAttempts)
	if err != nil && !errors.Is(err, stores.ErrChallengeNotFound) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.emit(ctx, AuditTwoFactorFailure, account.ID, account.NormalizedEmail, false, "code mismatch")

	result, lockErr := e.lockout.RecordFailure(ctx, account.ID)
	if lockErr != nil {
		return lockErr
	}
	if result.Locked {
		e.emit(ctx, AuditLockoutStarted, account.ID, account.NormalizedEmail, false,
			fmt.Sprintf("locked until %s", result.LockedUntil.UTC().Format("2006-01-02T15:04:05Z07:00")))
		return ErrAccountLocked
	}
	if exceeded {
		return ErrChallengeAttempts
	}
	return ErrTwoFactorInvalid
}

// completeLogin is the success tail shared by password-only and
// second-factor logins: clear the counter, rotate the stamp so stale
// sessions from previous logins elsewhere die, issue the new session.
func (e *Engine) completeLogin(ctx context.Context, account Account, email string) (*LoginResult, error) {
	if err := e.lockout.RecordSuccess(ctx, account.ID); err != nil {
		return nil, err
	}

	rotated, err := e.authority.RotateStamp(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	handle, _, err := e.authority.IssueSession(ctx, rotated)
	if err != nil {
		return nil, err
	}

	e.emit(ctx, AuditLoginSuccess, account.ID, email, true, "")
	return &LoginResult{
		AccountID:    account.ID,
		SessionToken: handle,
	}, nil
}

func (e *Engine) createLoginChallenge(ctx context.Context, accountID string) (string, error) {
	id, err := token.NewID()
	if err != nil {
		return "", err
	}

	ttl := e.cfg.TwoFactor.ChallengeTTL
	record := &stores.ChallengeRecord{
		AccountID: accountID,
		ExpiresAt: e.clock.Now().Add(ttl).Unix(),
	}
	if err := e.challenges.Save(ctx, id.String(), record, ttl); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return id.String(), nil
}
