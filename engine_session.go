package membrane

import "context"

// ValidateSession resolves a session handle, extends the sliding window
// on success, and reports stale or expired sessions with terminal
// errors.
func (e *Engine) ValidateSession(ctx context.Context, handle string) (*SessionInfo, error) {
	if e == nil || e.authority == nil {
		return nil, ErrEngineNotReady
	}
	return e.authority.ValidateSession(ctx, handle)
}

// Logout revokes the single session behind the handle. Other devices'
// sessions stay live.
func (e *Engine) Logout(ctx context.Context, handle string) error {
	if e == nil || e.authority == nil {
		return ErrEngineNotReady
	}

	if err := e.authority.Revoke(ctx, handle); err != nil {
		return err
	}
	e.emit(ctx, AuditSessionRevoked, "", "", true, "single session revoked")
	return nil
}

// LogoutAll rotates the account's security stamp, turning every
// outstanding session stale at once. No per-session deletion happens;
// the records age out of the store on their own.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if e == nil || e.authority == nil {
		return ErrEngineNotReady
	}

	account, err := e.authority.RotateStamp(ctx, accountID)
	if err != nil {
		return err
	}
	e.emit(ctx, AuditStampRotated, account.ID, account.NormalizedEmail, true, "all-device logout")
	return nil
}

// ClearLockout is the administrative reset of an account's failed
// counter and lockout window.
func (e *Engine) ClearLockout(ctx context.Context, accountID string) error {
	if e == nil || e.lockout == nil {
		return ErrEngineNotReady
	}

	if err := e.lockout.Clear(ctx, accountID); err != nil {
		return err
	}
	e.emit(ctx, AuditLockoutCleared, accountID, "", true, "")
	return nil
}
