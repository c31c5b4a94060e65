// Package memory implements the credential store in process memory,
// for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/membrane-auth/membrane"
)

// Store keeps accounts and password history under a single mutex.
// Update runs its mutate callback inside the critical section, so
// concurrent transitions against the same account serialize exactly the
// way a durable store's compare-and-swap would.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*membrane.Account
	byEmail  map[string]string
	history  map[string][]membrane.PasswordHistoryEntry
}

var _ membrane.CredentialStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*membrane.Account),
		byEmail:  make(map[string]string),
		history:  make(map[string][]membrane.PasswordHistoryEntry),
	}
}

// Create inserts a new account. The normalized email must be unused.
func (s *Store) Create(_ context.Context, account membrane.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return membrane.ErrAccountExists
	}
	if _, ok := s.byEmail[account.NormalizedEmail]; ok {
		return membrane.ErrAccountExists
	}

	stored := cloneAccount(&account)
	s.accounts[account.ID] = stored
	s.byEmail[account.NormalizedEmail] = account.ID
	return nil
}

// GetByID returns a copy of the account.
func (s *Store) GetByID(_ context.Context, accountID string) (membrane.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return membrane.Account{}, membrane.ErrAccountNotFound
	}
	return *cloneAccount(account), nil
}

// GetByEmail returns a copy of the account behind the normalized email.
func (s *Store) GetByEmail(_ context.Context, normalizedEmail string) (membrane.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[normalizedEmail]
	if !ok {
		return membrane.Account{}, membrane.ErrAccountNotFound
	}
	return *cloneAccount(s.accounts[id]), nil
}

// Update applies mutate to a snapshot and commits it atomically. An
// error from mutate aborts the update and is returned unchanged.
func (s *Store) Update(_ context.Context, accountID string, mutate func(*membrane.Account) error) (membrane.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[accountID]
	if !ok {
		return membrane.Account{}, membrane.ErrAccountNotFound
	}

	next := cloneAccount(current)
	if err := mutate(next); err != nil {
		return membrane.Account{}, err
	}
	next.Version = current.Version + 1

	s.accounts[accountID] = next
	return *cloneAccount(next), nil
}

// AppendHistory records one prior password hash.
func (s *Store) AppendHistory(_ context.Context, entry membrane.PasswordHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[entry.AccountID]; !ok {
		return membrane.ErrAccountNotFound
	}
	s.history[entry.AccountID] = append(s.history[entry.AccountID], entry)
	return nil
}

// RecentHistory returns up to depth entries, newest first.
func (s *Store) RecentHistory(_ context.Context, accountID string, depth int) ([]membrane.PasswordHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.history[accountID]
	if depth <= 0 || len(all) == 0 {
		return nil, nil
	}

	if depth > len(all) {
		depth = len(all)
	}
	out := make([]membrane.PasswordHistoryEntry, 0, depth)
	for i := len(all) - 1; i >= len(all)-depth; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func cloneAccount(a *membrane.Account) *membrane.Account {
	c := *a
	c.TwoFactorSecret = append([]byte(nil), a.TwoFactorSecret...)
	c.TwoFactorPendingSecret = append([]byte(nil), a.TwoFactorPendingSecret...)
	return &c
}
