package membrane

import (
	"context"
	"fmt"
	"time"

	"github.com/membrane-auth/membrane/internal/token"
)

// CreateAccount registers a new account. The password is checked
// against the strength rules, hashed, and recorded as the first history
// entry so it immediately participates in the reuse window.
func (e *Engine) CreateAccount(ctx context.Context, email, passwd string) (Account, error) {
	if e == nil || e.creds == nil {
		return Account{}, ErrEngineNotReady
	}

	norm := NormalizeEmail(email)
	if norm == "" {
		return Account{}, fmt.Errorf("%w: email required", ErrPasswordPolicy)
	}

	if err := e.policy.ValidateStrength(passwd); err != nil {
		return Account{}, err
	}

	hash, err := e.policy.Hasher().Hash(passwd)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	now := e.clock.Now()
	account := Account{
		ID:                    token.NewAccountID(),
		NormalizedEmail:       norm,
		PasswordHash:          hash,
		SecurityStamp:         token.NewStamp(),
		LastPasswordChangedAt: now,
		CreatedAt:             now,
	}
	if e.cfg.Policy.MaximumAge > 0 {
		account.PasswordExpiresAt = now.Add(e.cfg.Policy.MaximumAge)
	} else {
		account.PasswordExpiresAt = time.Time{}
	}

	if err := e.creds.Create(ctx, account); err != nil {
		return Account{}, err
	}

	if err := e.creds.AppendHistory(ctx, PasswordHistoryEntry{
		AccountID:    account.ID,
		PasswordHash: hash,
		CreatedAt:    now,
	}); err != nil {
		return Account{}, err
	}

	e.emit(ctx, AuditAccountCreated, account.ID, norm, true, "")
	return account, nil
}
