package membrane

import (
	"context"
	"time"
)

// LockoutController owns the failed-attempt counter and the lockout
// window. It is the only code path that increments the counter: one
// logical failed attempt, one increment, regardless of whether the
// failure was a password or a second-factor code. A duplicate increment
// site would silently halve the configured attempt budget.
type LockoutController struct {
	store CredentialStore
	clock Clock
	cfg   LockoutConfig
}

// NewLockoutController creates a controller over the given store.
func NewLockoutController(store CredentialStore, clock Clock, cfg LockoutConfig) *LockoutController {
	if clock == nil {
		clock = SystemClock()
	}
	return &LockoutController{store: store, clock: clock, cfg: cfg}
}

// RecordFailure increments the counter by exactly one and starts a
// lockout window when the post-increment count reaches the threshold.
// A failure recorded after an earlier window has lapsed restarts the
// count at one, so the counter never exceeds the threshold.
func (l *LockoutController) RecordFailure(ctx context.Context, accountID string) (AttemptResult, error) {
	var result AttemptResult
	now := l.clock.Now()

	_, err := l.store.Update(ctx, accountID, func(a *Account) error {
		if !a.LockoutUntil.IsZero() && !now.Before(a.LockoutUntil) {
			// Lapsed window: the lazy unlock left the counter behind.
			a.FailedAttempts = 0
			a.LockoutUntil = time.Time{}
		}

		a.FailedAttempts++
		if a.FailedAttempts >= l.cfg.MaxFailedAttempts {
			a.FailedAttempts = l.cfg.MaxFailedAttempts
			a.LockoutUntil = now.Add(l.cfg.LockoutDuration)
			result = AttemptResult{Remaining: 0, Locked: true, LockedUntil: a.LockoutUntil}
			return nil
		}

		result = AttemptResult{Remaining: l.cfg.MaxFailedAttempts - a.FailedAttempts}
		return nil
	})
	if err != nil {
		return AttemptResult{}, err
	}
	return result, nil
}

// CheckLocked reports whether a lockout window is currently active. A
// window in the past counts as unlocked immediately — the unlock is
// lazy, no state transition happens here and the counter stays until
// the next success, explicit clear, or post-window failure.
func (l *LockoutController) CheckLocked(ctx context.Context, accountID string) (bool, error) {
	account, err := l.store.GetByID(ctx, accountID)
	if err != nil {
		return false, err
	}
	return l.lockedAt(account, l.clock.Now()), nil
}

func (l *LockoutController) lockedAt(account Account, now time.Time) bool {
	return !account.LockoutUntil.IsZero() && now.Before(account.LockoutUntil)
}

// RecordSuccess resets the counter to zero and clears any window. Called
// on successful login; Clear is the explicit administrative equivalent.
func (l *LockoutController) RecordSuccess(ctx context.Context, accountID string) error {
	_, err := l.store.Update(ctx, accountID, func(a *Account) error {
		a.FailedAttempts = 0
		a.LockoutUntil = time.Time{}
		return nil
	})
	return err
}

// Clear is the explicit administrator/system reset of the counter and
// window.
func (l *LockoutController) Clear(ctx context.Context, accountID string) error {
	return l.RecordSuccess(ctx, accountID)
}
