package membrane

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/membrane-auth/membrane/internal/stores"
	"github.com/membrane-auth/membrane/internal/token"
)

// ResetTokenService issues and redeems single-use, time-boxed
// password-reset tokens. Only the digest of a token's secret half is
// stored; redemption and the consumed flip are one atomic transition,
// so concurrent redemptions of the same token resolve to exactly one
// winner.
//
// IssueToken legitimately reports ErrAccountNotFound to its caller for
// audit purposes. The boundary that consumes this service must still
// respond identically — same message, same timing envelope — for known
// and unknown emails, or it becomes an account-enumeration oracle.
type ResetTokenService struct {
	creds CredentialStore
	store *stores.ResetStore
	clock Clock
	ttl   time.Duration
}

// NewResetTokenService creates a service over the given stores.
func NewResetTokenService(creds CredentialStore, store *stores.ResetStore, clock Clock, cfg ResetConfig) *ResetTokenService {
	if clock == nil {
		clock = SystemClock()
	}
	return &ResetTokenService{creds: creds, store: store, clock: clock, ttl: cfg.TokenTTL}
}

// IssueToken creates a token for the account behind the email and
// returns the account ID and the opaque token. The raw token exists
// only in this return value; it is never stored.
func (r *ResetTokenService) IssueToken(ctx context.Context, email string) (string, string, error) {
	account, err := r.creds.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", "", err
	}

	id, err := token.NewID()
	if err != nil {
		return "", "", err
	}
	secret, err := token.NewSecret()
	if err != nil {
		return "", "", err
	}

	now := r.clock.Now()
	record := &stores.ResetRecord{
		AccountID:  account.ID,
		SecretHash: token.HashSecret(secret),
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(r.ttl).Unix(),
	}

	if err := r.store.Save(ctx, id.String(), record, r.ttl); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return account.ID, token.EncodeHandle(id, secret), nil
}

// Peek resolves a token to its account without consuming it, applying
// the same validity checks as Redeem. Used by flows that must validate
// the replacement password before burning the token's single use.
func (r *ResetTokenService) Peek(ctx context.Context, rawToken string) (string, error) {
	id, secret, err := token.DecodeHandle(rawToken)
	if err != nil {
		return "", ErrResetTokenInvalid
	}

	record, err := r.store.Get(ctx, id.String())
	if err != nil {
		if errors.Is(err, stores.ErrResetNotFound) {
			return "", ErrResetTokenInvalid
		}
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	provided := token.HashSecret(secret)
	if subtle.ConstantTimeCompare(provided[:], record.SecretHash[:]) != 1 {
		return "", ErrResetTokenInvalid
	}
	if record.Consumed {
		return "", ErrResetTokenUsed
	}
	if r.clock.Now().Unix() > record.ExpiresAt {
		return "", ErrResetTokenExpired
	}

	return record.AccountID, nil
}

// Redeem consumes a token and returns the account it was bound to.
// Outcomes are distinguished for the caller: invalid, expired, and
// already-used are separate errors; only the first redemption of a live
// token ever returns the account.
func (r *ResetTokenService) Redeem(ctx context.Context, rawToken string) (string, error) {
	id, secret, err := token.DecodeHandle(rawToken)
	if err != nil {
		return "", ErrResetTokenInvalid
	}

	record, err := r.store.Consume(ctx, id.String(), token.HashSecret(secret), r.clock.Now())
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrResetNotFound), errors.Is(err, stores.ErrResetMismatch):
			return "", ErrResetTokenInvalid
		case errors.Is(err, stores.ErrResetExpired):
			return "", ErrResetTokenExpired
		case errors.Is(err, stores.ErrResetConsumed):
			return "", ErrResetTokenUsed
		default:
			return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	return record.AccountID, nil
}
