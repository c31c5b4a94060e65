package membrane

import (
	"context"

	"github.com/membrane-auth/membrane/internal/token"
	"github.com/membrane-auth/membrane/otp"
)

// TwoFactorEngine manages TOTP enrollment and verification. An issued
// secret stays pending — and inert for login — until the holder proves
// possession by confirming one valid code.
type TwoFactorEngine struct {
	store CredentialStore
	gen   *otp.Generator
	clock Clock
}

// NewTwoFactorEngine creates an engine over the given store and
// generator.
func NewTwoFactorEngine(store CredentialStore, gen *otp.Generator, clock Clock) *TwoFactorEngine {
	if clock == nil {
		clock = SystemClock()
	}
	return &TwoFactorEngine{store: store, gen: gen, clock: clock}
}

// BeginEnrollment generates a pending shared secret and the otpauth://
// URI to provision an authenticator. Calling it again replaces any
// earlier pending secret; the confirmed secret, if one exists, is
// untouched until confirmation.
func (t *TwoFactorEngine) BeginEnrollment(ctx context.Context, accountID string) (*TwoFactorEnrollment, error) {
	raw, encoded, err := t.gen.NewSecret()
	if err != nil {
		return nil, err
	}

	account, err := t.store.Update(ctx, accountID, func(a *Account) error {
		a.TwoFactorPendingSecret = raw
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &TwoFactorEnrollment{
		SecretBase32:    encoded,
		ProvisioningURI: t.gen.ProvisioningURI(encoded, account.NormalizedEmail),
	}, nil
}

// ConfirmEnrollment verifies a code against the pending secret and, on
// success, activates it. Activation rotates the security stamp —
// enabling a second factor is a credential-affecting change, so prior
// sessions die with it.
func (t *TwoFactorEngine) ConfirmEnrollment(ctx context.Context, accountID, code string) error {
	account, err := t.store.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if len(account.TwoFactorPendingSecret) == 0 {
		return ErrTwoFactorNotEnrolled
	}

	ok, err := t.gen.Verify(account.TwoFactorPendingSecret, code, t.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrTwoFactorInvalid
	}

	_, err = t.store.Update(ctx, accountID, func(a *Account) error {
		if len(a.TwoFactorPendingSecret) == 0 {
			return ErrTwoFactorNotEnrolled
		}
		a.TwoFactorSecret = a.TwoFactorPendingSecret
		a.TwoFactorPendingSecret = nil
		a.TwoFactorEnabled = true
		a.SecurityStamp = token.NewStamp()
		return nil
	})
	return err
}

// VerifyCode checks a login-time code against the confirmed secret.
// Returns ErrTwoFactorInvalid on mismatch; the caller routes that
// failure through the LockoutController — a second-factor failure is a
// credential failure.
func (t *TwoFactorEngine) VerifyCode(ctx context.Context, accountID, code string) error {
	account, err := t.store.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if !account.TwoFactorEnabled || len(account.TwoFactorSecret) == 0 {
		return ErrTwoFactorNotEnrolled
	}

	ok, err := t.gen.Verify(account.TwoFactorSecret, code, t.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrTwoFactorInvalid
	}
	return nil
}

// Disable removes the confirmed secret and rotates the stamp.
func (t *TwoFactorEngine) Disable(ctx context.Context, accountID string) error {
	_, err := t.store.Update(ctx, accountID, func(a *Account) error {
		a.TwoFactorEnabled = false
		a.TwoFactorSecret = nil
		a.TwoFactorPendingSecret = nil
		a.SecurityStamp = token.NewStamp()
		return nil
	})
	return err
}
