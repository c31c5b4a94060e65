package membrane

import (
	"context"
	"errors"
	"fmt"
)

// BeginTwoFactorEnrollment re-verifies the account password and then
// generates a pending shared secret for an authenticator app. The
// secret is inert for login until confirmed.
func (e *Engine) BeginTwoFactorEnrollment(ctx context.Context, accountID, passwd string) (*TwoFactorEnrollment, error) {
	if e == nil || e.twoFactor == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.creds.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	ok, err := e.policy.Hasher().Verify(passwd, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	return e.twoFactor.BeginEnrollment(ctx, accountID)
}

// ConfirmTwoFactorEnrollment activates the pending secret after the
// holder proves possession with one valid code. Activation rotates the
// security stamp, so sessions issued before enrollment die.
func (e *Engine) ConfirmTwoFactorEnrollment(ctx context.Context, accountID, code string) error {
	if e == nil || e.twoFactor == nil {
		return ErrEngineNotReady
	}

	account, err := e.creds.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	if err := e.twoFactor.ConfirmEnrollment(ctx, accountID, code); err != nil {
		if errors.Is(err, ErrTwoFactorInvalid) {
			e.emit(ctx, AuditTwoFactorFailure, account.ID, account.NormalizedEmail, false, "enrollment code mismatch")
		}
		return err
	}

	e.emit(ctx, AuditTwoFactorEnrolled, account.ID, account.NormalizedEmail, true, "")
	e.emit(ctx, AuditStampRotated, account.ID, account.NormalizedEmail, true, "second factor enabled")
	return nil
}

// DisableTwoFactor turns the second factor off after re-verifying both
// the password and a current code — losing a session must not be enough
// to strip the factor.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, passwd, code string) error {
	if e == nil || e.twoFactor == nil {
		return ErrEngineNotReady
	}

	account, err := e.creds.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.TwoFactorEnabled {
		return ErrTwoFactorNotEnrolled
	}

	ok, err := e.policy.Hasher().Verify(passwd, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if err := e.twoFactor.VerifyCode(ctx, accountID, code); err != nil {
		if errors.Is(err, ErrTwoFactorInvalid) {
			e.emit(ctx, AuditTwoFactorFailure, account.ID, account.NormalizedEmail, false, "disable code mismatch")
		}
		return err
	}

	if err := e.twoFactor.Disable(ctx, accountID); err != nil {
		return err
	}

	e.emit(ctx, AuditTwoFactorDisabled, account.ID, account.NormalizedEmail, true, "")
	e.emit(ctx, AuditStampRotated, account.ID, account.NormalizedEmail, true, "second factor disabled")
	return nil
}
