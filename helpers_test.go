package membrane

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeClock is a mutable time source shared by the engine under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockCredentialStore is an in-memory CredentialStore with error
// injection for fail-closed paths.
type mockCredentialStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	byEmail  map[string]string
	history  map[string][]PasswordHistoryEntry

	getErr    error
	updateErr error
	// updateErrAt limits updateErr to a single Update call (1-based);
	// zero applies it to every call.
	updateErrAt int

	updateCalls int
}

func newMockStore() *mockCredentialStore {
	return &mockCredentialStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
		history:  make(map[string][]PasswordHistoryEntry),
	}
}

func (m *mockCredentialStore) Create(_ context.Context, account Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[account.NormalizedEmail]; ok {
		return ErrAccountExists
	}
	clone := cloneTestAccount(&account)
	m.accounts[account.ID] = clone
	m.byEmail[account.NormalizedEmail] = account.ID
	return nil
}

func (m *mockCredentialStore) GetByID(_ context.Context, accountID string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return Account{}, m.getErr
	}
	account, ok := m.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *cloneTestAccount(account), nil
}

func (m *mockCredentialStore) GetByEmail(_ context.Context, normalizedEmail string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return Account{}, m.getErr
	}
	id, ok := m.byEmail[normalizedEmail]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *cloneTestAccount(m.accounts[id]), nil
}

func (m *mockCredentialStore) Update(_ context.Context, accountID string, mutate func(*Account) error) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCalls++
	if m.updateErr != nil && (m.updateErrAt == 0 || m.updateCalls == m.updateErrAt) {
		return Account{}, m.updateErr
	}
	current, ok := m.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}

	next := cloneTestAccount(current)
	if err := mutate(next); err != nil {
		return Account{}, err
	}
	next.Version = current.Version + 1
	m.accounts[accountID] = next
	return *cloneTestAccount(next), nil
}

func (m *mockCredentialStore) AppendHistory(_ context.Context, entry PasswordHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[entry.AccountID] = append(m.history[entry.AccountID], entry)
	return nil
}

func (m *mockCredentialStore) RecentHistory(_ context.Context, accountID string, depth int) ([]PasswordHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.history[accountID]
	if depth <= 0 || len(all) == 0 {
		return nil, nil
	}
	if depth > len(all) {
		depth = len(all)
	}
	out := make([]PasswordHistoryEntry, 0, depth)
	for i := len(all) - 1; i >= len(all)-depth; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// get reads the raw stored account for assertions.
func (m *mockCredentialStore) get(t *testing.T, accountID string) Account {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		t.Fatalf("account %s not in store", accountID)
	}
	return *cloneTestAccount(account)
}

func cloneTestAccount(a *Account) *Account {
	c := *a
	c.TwoFactorSecret = append([]byte(nil), a.TwoFactorSecret...)
	c.TwoFactorPendingSecret = append([]byte(nil), a.TwoFactorPendingSecret...)
	return &c
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

// testConfig keeps argon2 cheap enough for test runs while staying
// above the hasher's floor.
func testConfig() Config {
	cfg := defaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.TwoFactor.Issuer = "membrane-test"
	return cfg
}

func newTestEngine(t *testing.T, store *mockCredentialStore, clock *fakeClock, mutate func(*Config)) *Engine {
	t.Helper()

	_, client := newTestRedis(t)

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(store).
		WithClock(clock).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine
}

// seedAccount registers an account directly through the engine.
func seedAccount(t *testing.T, engine *Engine, email, passwd string) Account {
	t.Helper()

	account, err := engine.CreateAccount(context.Background(), email, passwd)
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return account
}
