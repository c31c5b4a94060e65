package membrane

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/membrane-auth/membrane/password"
)

func newPolicyFixture(t *testing.T, cfg PolicyConfig) (*PasswordPolicy, *mockCredentialStore, *fakeClock) {
	t.Helper()

	store := newMockStore()
	clock := newFakeClock()
	hasher, err := password.NewHasher(password.Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	return NewPasswordPolicy(store, hasher, clock, cfg), store, clock
}

func TestValidateStrength(t *testing.T) {
	policy, _, _ := newPolicyFixture(t, PolicyConfig{MinLength: 12})

	cases := []struct {
		name      string
		candidate string
		ok        bool
	}{
		{"all classes", "Str0ng-password", true},
		{"too short", "Sh0rt-pw", false},
		{"no lowercase", "STR0NG-PASSWORD", false},
		{"no uppercase", "str0ng-password", false},
		{"no digit", "Strong-password", false},
		{"no symbol", "Str0ngPassword1", false},
		{"exactly minimum length", "Str0ng-pass!", true},
		{"unicode letters count", "Pässw0rd-länge", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := policy.ValidateStrength(tc.candidate)
			if tc.ok && err != nil {
				t.Fatalf("expected pass, got %v", err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrPasswordPolicy) {
					t.Fatalf("expected ErrPasswordPolicy, got %v", err)
				}
			}
		})
	}
}

func TestCheckReuseMatchesRecentOnly(t *testing.T) {
	policy, store, clock := newPolicyFixture(t, PolicyConfig{MinLength: 12, HistoryDepth: 2})
	ctx := context.Background()

	if err := store.Create(ctx, Account{ID: "acct-1", NormalizedEmail: "u@example.com"}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	// Three commits. With depth 2, only the last two are a reuse window;
	// the first drops out and becomes usable again.
	for _, pw := range []string{"Old-Password-1", "Old-Password-2", "Old-Password-3"} {
		hash, err := policy.Hasher().Hash(pw)
		if err != nil {
			t.Fatalf("Hash failed: %v", err)
		}
		if err := store.AppendHistory(ctx, PasswordHistoryEntry{
			AccountID: "acct-1", PasswordHash: hash, CreatedAt: clock.Now(),
		}); err != nil {
			t.Fatalf("AppendHistory failed: %v", err)
		}
	}

	if err := policy.CheckReuse(ctx, "acct-1", "Old-Password-3"); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("most recent entry: expected ErrPasswordReuse, got %v", err)
	}
	if err := policy.CheckReuse(ctx, "acct-1", "Old-Password-2"); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("second entry: expected ErrPasswordReuse, got %v", err)
	}
	if err := policy.CheckReuse(ctx, "acct-1", "Old-Password-1"); err != nil {
		t.Fatalf("entry beyond depth must be exempt, got %v", err)
	}
	if err := policy.CheckReuse(ctx, "acct-1", "Never-Used-Pw9"); err != nil {
		t.Fatalf("fresh candidate must pass, got %v", err)
	}
}

func TestCheckReuseDisabledByZeroDepth(t *testing.T) {
	policy, store, clock := newPolicyFixture(t, PolicyConfig{MinLength: 12, HistoryDepth: 0})
	ctx := context.Background()

	if err := store.Create(ctx, Account{ID: "acct-1", NormalizedEmail: "u@example.com"}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	hash, err := policy.Hasher().Hash("Same-Password-1")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if err := store.AppendHistory(ctx, PasswordHistoryEntry{
		AccountID: "acct-1", PasswordHash: hash, CreatedAt: clock.Now(),
	}); err != nil {
		t.Fatalf("AppendHistory failed: %v", err)
	}

	if err := policy.CheckReuse(ctx, "acct-1", "Same-Password-1"); err != nil {
		t.Fatalf("depth 0 disables reuse checks, got %v", err)
	}
}

func TestCheckMinimumAge(t *testing.T) {
	policy, _, clock := newPolicyFixture(t, PolicyConfig{MinLength: 12, MinimumAge: 24 * time.Hour})

	account := Account{ID: "acct-1", LastPasswordChangedAt: clock.Now()}

	if err := policy.CheckMinimumAge(account, clock.Now().Add(23*time.Hour)); !errors.Is(err, ErrPasswordTooSoon) {
		t.Fatalf("expected ErrPasswordTooSoon, got %v", err)
	}
	if err := policy.CheckMinimumAge(account, clock.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("exactly at minimum age must pass, got %v", err)
	}

	// Never-changed accounts are exempt.
	if err := policy.CheckMinimumAge(Account{ID: "acct-2"}, clock.Now()); err != nil {
		t.Fatalf("zero LastPasswordChangedAt must pass, got %v", err)
	}
}

func TestCheckMaximumAge(t *testing.T) {
	policy, _, clock := newPolicyFixture(t, PolicyConfig{MinLength: 12, MaximumAge: 90 * 24 * time.Hour})

	expiry := clock.Now().Add(time.Hour)
	account := Account{ID: "acct-1", PasswordExpiresAt: expiry}

	if err := policy.CheckMaximumAge(account, expiry.Add(-time.Minute)); err != nil {
		t.Fatalf("before expiry must pass, got %v", err)
	}
	if err := policy.CheckMaximumAge(account, expiry); err != nil {
		t.Fatalf("exactly at expiry is still valid, got %v", err)
	}
	if err := policy.CheckMaximumAge(account, expiry.Add(time.Second)); !errors.Is(err, ErrPasswordExpired) {
		t.Fatalf("expected ErrPasswordExpired, got %v", err)
	}

	// Zero expiry means no maximum age.
	if err := policy.CheckMaximumAge(Account{ID: "acct-2"}, clock.Now()); err != nil {
		t.Fatalf("zero PasswordExpiresAt must pass, got %v", err)
	}
}

func TestCommitChangeRotatesStampAndAppendsHistory(t *testing.T) {
	policy, store, clock := newPolicyFixture(t, PolicyConfig{
		MinLength: 12, HistoryDepth: 2, MaximumAge: 90 * 24 * time.Hour,
	})
	ctx := context.Background()

	if err := store.Create(ctx, Account{
		ID: "acct-1", NormalizedEmail: "u@example.com", SecurityStamp: "stamp-before",
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	hash, err := policy.Hasher().Hash("Replacement-Pw1")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	account, err := policy.CommitChange(ctx, "acct-1", hash)
	if err != nil {
		t.Fatalf("CommitChange failed: %v", err)
	}

	if account.PasswordHash != hash {
		t.Fatal("hash not committed")
	}
	if account.SecurityStamp == "stamp-before" || account.SecurityStamp == "" {
		t.Fatal("security stamp must rotate on commit")
	}
	if !account.LastPasswordChangedAt.Equal(clock.Now()) {
		t.Fatalf("LastPasswordChangedAt = %v, want %v", account.LastPasswordChangedAt, clock.Now())
	}
	if want := clock.Now().Add(90 * 24 * time.Hour); !account.PasswordExpiresAt.Equal(want) {
		t.Fatalf("PasswordExpiresAt = %v, want %v", account.PasswordExpiresAt, want)
	}

	entries, err := store.RecentHistory(ctx, "acct-1", 2)
	if err != nil {
		t.Fatalf("RecentHistory failed: %v", err)
	}
	if len(entries) != 1 || entries[0].PasswordHash != hash {
		t.Fatalf("history entry not appended: %+v", entries)
	}
}
