package membrane

import (
	"context"
	"errors"
	"fmt"
)

// ChangePassword is the voluntary self-service change for an
// authenticated account. The current password must re-verify, but a
// mismatch here does not feed the lockout counter; the caller already
// holds a live session, so this is not a credential-guessing surface.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, replacement string) error {
	if e == nil || e.creds == nil {
		return ErrEngineNotReady
	}

	account, err := e.creds.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := e.policy.Hasher().Verify(current, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		e.emit(ctx, AuditPasswordChangeRejected, account.ID, account.NormalizedEmail, false, "current password mismatch")
		return ErrInvalidCredentials
	}

	if err := e.policy.CheckMinimumAge(account, e.clock.Now()); err != nil {
		e.emit(ctx, AuditPasswordChangeRejected, account.ID, account.NormalizedEmail, false, "minimum age not reached")
		return err
	}

	if err := e.validateReplacement(ctx, account, replacement); err != nil {
		return err
	}

	return e.commitPassword(ctx, account, replacement)
}

// ChangeExpiredPassword is the forced-change flow a caller routes to
// after Login returned ErrPasswordExpired. The account has no session,
// so the current password is a full credential presentation: lockout
// gates apply and a mismatch burns an attempt. An expired password is
// exempt from the minimum-age check, since it must be replaceable
// immediately; a password still inside its maximum age keeps the same
// gate as the voluntary flow.
func (e *Engine) ChangeExpiredPassword(ctx context.Context, email, current, replacement string) error {
	if e == nil || e.creds == nil {
		return ErrEngineNotReady
	}

	norm := NormalizeEmail(email)
	account, err := e.creds.GetByEmail(ctx, norm)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.emit(ctx, AuditPasswordChangeRejected, "", norm, false, "unknown email")
			return ErrInvalidCredentials
		}
		return err
	}

	now := e.clock.Now()
	if e.lockout.lockedAt(account, now) {
		e.emit(ctx, AuditLoginLocked, account.ID, norm, false, "lockout window active")
		return ErrAccountLocked
	}

	ok, err := e.policy.Hasher().Verify(current, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		return e.recordLoginFailure(ctx, account, norm, "password mismatch on expired-password change")
	}

	if e.policy.CheckMaximumAge(account, now) == nil {
		if err := e.policy.CheckMinimumAge(account, now); err != nil {
			e.emit(ctx, AuditPasswordChangeRejected, account.ID, norm, false, "minimum age not reached")
			return err
		}
	}

	if err := e.validateReplacement(ctx, account, replacement); err != nil {
		return err
	}

	if err := e.commitPassword(ctx, account, replacement); err != nil {
		return err
	}
	return e.lockout.RecordSuccess(ctx, account.ID)
}

// RequestPasswordReset issues a single-use reset token for the email's
// account and returns the opaque token for out-of-band delivery.
// ErrAccountNotFound is returned so the delivery layer can skip the
// send, but the caller-facing boundary must respond identically for
// known and unknown emails.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if e == nil || e.resets == nil {
		return "", ErrEngineNotReady
	}

	norm := NormalizeEmail(email)
	accountID, raw, err := e.resets.IssueToken(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.emit(ctx, AuditResetRequested, "", norm, false, "unknown email")
			return "", ErrAccountNotFound
		}
		return "", err
	}

	e.emit(ctx, AuditResetRequested, accountID, norm, true, "")
	return raw, nil
}

// ResetPassword redeems a token and installs the replacement password.
// The replacement is validated before the token is consumed, so a weak
// or reused candidate does not burn the token's single use. A
// successful reset proves mailbox control, so any active lockout is
// cleared along with the commit.
func (e *Engine) ResetPassword(ctx context.Context, rawToken, replacement string) error {
	if e == nil || e.resets == nil {
		return ErrEngineNotReady
	}

	accountID, err := e.resets.Peek(ctx, rawToken)
	if err != nil {
		e.emit(ctx, AuditResetRejected, "", "", false, err.Error())
		return err
	}

	account, err := e.creds.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	if err := e.validateReplacement(ctx, account, replacement); err != nil {
		return err
	}

	// Consume only after the replacement passed every check. Concurrent
	// redemptions race here; the store guarantees a single winner.
	if _, err := e.resets.Redeem(ctx, rawToken); err != nil {
		e.emit(ctx, AuditResetRejected, account.ID, account.NormalizedEmail, false, err.Error())
		return err
	}

	hash, err := e.policy.Hasher().Hash(replacement)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	// Commit before touching the lockout: if storage fails here the
	// token is burned but the account stays locked with the old
	// password, which fails closed.
	if _, err := e.policy.CommitChange(ctx, account.ID, hash); err != nil {
		e.emit(ctx, AuditResetRejected, account.ID, account.NormalizedEmail, false, "token consumed but password commit failed")
		return err
	}

	if err := e.lockout.Clear(ctx, account.ID); err != nil {
		return err
	}

	e.emit(ctx, AuditResetRedeemed, account.ID, account.NormalizedEmail, true, "")
	e.emit(ctx, AuditStampRotated, account.ID, account.NormalizedEmail, true, "password reset")
	return nil
}

// validateReplacement runs the candidate checks shared by every change
// flow: strength, then reuse against the recent history.
func (e *Engine) validateReplacement(ctx context.Context, account Account, replacement string) error {
	if err := e.policy.ValidateStrength(replacement); err != nil {
		e.emit(ctx, AuditPasswordChangeRejected, account.ID, account.NormalizedEmail, false, "strength check failed")
		return err
	}
	if err := e.policy.CheckReuse(ctx, account.ID, replacement); err != nil {
		if errors.Is(err, ErrPasswordReuse) {
			e.emit(ctx, AuditPasswordChangeRejected, account.ID, account.NormalizedEmail, false, "replacement matches recent history")
		}
		return err
	}
	return nil
}

// commitPassword hashes and commits a validated replacement and emits
// the success events. CommitChange rotates the security stamp in the
// same update, so outstanding sessions die with the old password.
func (e *Engine) commitPassword(ctx context.Context, account Account, replacement string) error {
	hash, err := e.policy.Hasher().Hash(replacement)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if _, err := e.policy.CommitChange(ctx, account.ID, hash); err != nil {
		return err
	}

	e.emit(ctx, AuditPasswordChanged, account.ID, account.NormalizedEmail, true, "")
	e.emit(ctx, AuditStampRotated, account.ID, account.NormalizedEmail, true, "password change")
	return nil
}
