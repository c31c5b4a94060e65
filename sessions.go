package membrane

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/membrane-auth/membrane/internal/token"
	"github.com/membrane-auth/membrane/session"
)

// SessionAuthority issues and validates sessions tied to the account's
// security stamp. Rotating the stamp is the sole invalidation
// mechanism: every session issued under the old stamp turns stale at
// once, with no per-session deletion. Expiry is purely sliding: each
// successful validation pushes the deadline to now+Timeout.
type SessionAuthority struct {
	sessions *session.Store
	creds    CredentialStore
	clock    Clock
	timeout  time.Duration
}

// NewSessionAuthority creates an authority over the given stores.
func NewSessionAuthority(sessions *session.Store, creds CredentialStore, clock Clock, cfg SessionConfig) *SessionAuthority {
	if clock == nil {
		clock = SystemClock()
	}
	return &SessionAuthority{sessions: sessions, creds: creds, clock: clock, timeout: cfg.Timeout}
}

// IssueSession creates a session under the account's current stamp and
// returns its opaque handle. The stored record keeps only the digest of
// the handle's secret half.
func (s *SessionAuthority) IssueSession(ctx context.Context, account Account) (string, *SessionInfo, error) {
	id, err := token.NewID()
	if err != nil {
		return "", nil, err
	}
	secret, err := token.NewSecret()
	if err != nil {
		return "", nil, err
	}

	now := s.clock.Now()
	record := &session.Session{
		AccountID:   account.ID,
		IssuedStamp: account.SecurityStamp,
		SecretHash:  token.HashSecret(secret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(s.timeout).Unix(),
	}

	if err := s.sessions.Save(ctx, id.String(), record, s.timeout); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return token.EncodeHandle(id, secret), &SessionInfo{
		AccountID: account.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.timeout),
	}, nil
}

// ValidateSession resolves a handle to its session state. An Active
// session has its sliding window extended before returning. Stale
// (stamp mismatch) and Expired are terminal; no session is ever
// resurrected.
func (s *SessionAuthority) ValidateSession(ctx context.Context, handle string) (*SessionInfo, error) {
	id, secret, err := token.DecodeHandle(handle)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	record, err := s.sessions.Get(ctx, id.String())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			// The key TTL already reaped it; time-based end of life.
			return nil, ErrSessionExpired
		case errors.Is(err, session.ErrCorrupt):
			return nil, ErrSessionNotFound
		default:
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
	}

	provided := token.HashSecret(secret)
	if subtle.ConstantTimeCompare(provided[:], record.SecretHash[:]) != 1 {
		return nil, ErrSessionNotFound
	}

	now := s.clock.Now()
	if now.Unix() >= record.ExpiresAt {
		// The key TTL normally reaps this first; delete so expiry is
		// terminal even when the clock runs ahead of the store.
		_, _ = s.sessions.Delete(ctx, id.String())
		return nil, ErrSessionExpired
	}

	account, err := s.creds.GetByID(ctx, record.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrSessionStale
		}
		return nil, err
	}
	if account.SecurityStamp != record.IssuedStamp {
		return nil, ErrSessionStale
	}

	record.ExpiresAt = now.Add(s.timeout).Unix()
	if err := s.sessions.Extend(ctx, id.String(), record, s.timeout); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// The key TTL reaped it between the read and the
			// extension; expiry stays terminal.
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return &SessionInfo{
		AccountID: account.ID,
		IssuedAt:  time.Unix(record.CreatedAt, 0).UTC(),
		ExpiresAt: time.Unix(record.ExpiresAt, 0).UTC(),
	}, nil
}

// RotateStamp persists a fresh security stamp, atomically invalidating
// every session issued under the old one. Called on every login, on
// password change and reset, on second-factor enable/disable, and on
// explicit all-device logout.
func (s *SessionAuthority) RotateStamp(ctx context.Context, accountID string) (Account, error) {
	return s.creds.Update(ctx, accountID, func(a *Account) error {
		a.SecurityStamp = token.NewStamp()
		return nil
	})
}

// Revoke deletes a single session record (single-device logout). The
// handle's secret is checked first so one device cannot revoke another
// device's session by guessing its ID.
func (s *SessionAuthority) Revoke(ctx context.Context, handle string) error {
	id, secret, err := token.DecodeHandle(handle)
	if err != nil {
		return ErrSessionNotFound
	}

	record, err := s.sessions.Get(ctx, id.String())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrCorrupt) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	provided := token.HashSecret(secret)
	if subtle.ConstantTimeCompare(provided[:], record.SecretHash[:]) != 1 {
		return ErrSessionNotFound
	}

	if _, err := s.sessions.Delete(ctx, id.String()); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Timeout exposes the sliding window length.
func (s *SessionAuthority) Timeout() time.Duration { return s.timeout }
