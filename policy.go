package membrane

import (
	"context"
	"fmt"
	"time"
	"unicode"

	"github.com/membrane-auth/membrane/internal/token"
	"github.com/membrane-auth/membrane/password"
)

// PasswordPolicy enforces the password lifecycle: strength on entry,
// reuse against the bounded history, minimum and maximum age, and the
// commit that makes a new password current.
type PasswordPolicy struct {
	store  CredentialStore
	hasher *password.Hasher
	clock  Clock
	cfg    PolicyConfig
}

// NewPasswordPolicy creates a policy engine over the given store and
// hasher.
func NewPasswordPolicy(store CredentialStore, hasher *password.Hasher, clock Clock, cfg PolicyConfig) *PasswordPolicy {
	if clock == nil {
		clock = SystemClock()
	}
	return &PasswordPolicy{store: store, hasher: hasher, clock: clock, cfg: cfg}
}

// ValidateStrength checks length and the four required character
// classes: lowercase, uppercase, digit, symbol. All four are required,
// not scored. Violations wrap ErrPasswordPolicy.
func (p *PasswordPolicy) ValidateStrength(candidate string) error {
	var length int
	var lower, upper, digit, symbol bool

	for _, r := range candidate {
		length++
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsSpace(r):
			symbol = true
		}
	}

	if length < p.cfg.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrPasswordPolicy, p.cfg.MinLength)
	}
	if !lower {
		return fmt.Errorf("%w: must contain a lowercase letter", ErrPasswordPolicy)
	}
	if !upper {
		return fmt.Errorf("%w: must contain an uppercase letter", ErrPasswordPolicy)
	}
	if !digit {
		return fmt.Errorf("%w: must contain a digit", ErrPasswordPolicy)
	}
	if !symbol {
		return fmt.Errorf("%w: must contain a symbol", ErrPasswordPolicy)
	}
	return nil
}

// CheckReuse verifies the candidate against the most recent HistoryDepth
// committed hashes and returns ErrPasswordReuse on a match. Matching is
// by hash verification, not string equality, and entries beyond the
// depth are exempt; the history is a reuse window, not a record of
// everything ever used.
func (p *PasswordPolicy) CheckReuse(ctx context.Context, accountID, candidate string) error {
	if p.cfg.HistoryDepth <= 0 {
		return nil
	}

	entries, err := p.store.RecentHistory(ctx, accountID, p.cfg.HistoryDepth)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		match, err := p.hasher.Verify(candidate, entry.PasswordHash)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if match {
			return ErrPasswordReuse
		}
	}
	return nil
}

// CheckMinimumAge rejects a change attempted before MinimumAge has
// elapsed since the last one. The error detail carries the remaining
// wait in whole seconds.
func (p *PasswordPolicy) CheckMinimumAge(account Account, now time.Time) error {
	if p.cfg.MinimumAge <= 0 || account.LastPasswordChangedAt.IsZero() {
		return nil
	}
	elapsed := now.Sub(account.LastPasswordChangedAt)
	if elapsed >= p.cfg.MinimumAge {
		return nil
	}
	remaining := p.cfg.MinimumAge - elapsed
	return fmt.Errorf("%w: retry in %ds", ErrPasswordTooSoon, int64(remaining.Seconds())+1)
}

// CheckMaximumAge reports ErrPasswordExpired once PasswordExpiresAt has
// passed. An expired password blocks ordinary login; the caller routes
// to the forced-change flow instead of issuing a session.
func (p *PasswordPolicy) CheckMaximumAge(account Account, now time.Time) error {
	if account.PasswordExpiresAt.IsZero() {
		return nil
	}
	if now.After(account.PasswordExpiresAt) {
		return ErrPasswordExpired
	}
	return nil
}

// CommitChange makes newHash the current password: it updates the hash
// and lifecycle timestamps, rotates the security stamp in the same
// atomic update (a password change invalidates every outstanding
// session), and appends the new hash to the history.
func (p *PasswordPolicy) CommitChange(ctx context.Context, accountID, newHash string) (Account, error) {
	now := p.clock.Now()

	account, err := p.store.Update(ctx, accountID, func(a *Account) error {
		a.PasswordHash = newHash
		a.LastPasswordChangedAt = now
		if p.cfg.MaximumAge > 0 {
			a.PasswordExpiresAt = now.Add(p.cfg.MaximumAge)
		} else {
			a.PasswordExpiresAt = time.Time{}
		}
		a.SecurityStamp = token.NewStamp()
		return nil
	})
	if err != nil {
		return Account{}, err
	}

	if err := p.store.AppendHistory(ctx, PasswordHistoryEntry{
		AccountID:    accountID,
		PasswordHash: newHash,
		CreatedAt:    now,
	}); err != nil {
		return Account{}, err
	}

	return account, nil
}

// Hasher exposes the configured hasher for flows that need to derive a
// hash before committing it.
func (p *PasswordPolicy) Hasher() *password.Hasher { return p.hasher }
