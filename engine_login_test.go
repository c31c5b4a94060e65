package membrane

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/membrane-auth/membrane/otp"
)

func TestLoginSuccessIssuesSession(t *testing.T) {
	store := newMockStore()
	clock := newFakeClock()
	engine := newTestEngine(t, store, clock, nil)
	ctx := context.Background()

	account := seedAccount(t, engine, "user@example.com", "Correct-Horse-9")

	result, err := engine.Login(ctx, "user@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if result.AccountID != account.ID {
		t.Fatalf("AccountID = %s, want %s", result.AccountID, account.ID)
	}
	if result.SessionToken == "" || result.TwoFactorRequired {
		t.Fatalf("expected a plain session, got %+v", result)
	}

	info, err := engine.ValidateSession(ctx, result.SessionToken)
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if info.AccountID != account.ID {
		t.Fatalf("session AccountID = %s", info.AccountID)
	}
}

func TestLoginEmailIsCaseInsensitive(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, newFakeClock(), nil)

	seedAccount(t, engine, "User@Example.COM", "Correct-Horse-9")

	if _, err := engine.Login(context.Background(), "  user@example.com ", "Correct-Horse-9"); err != nil {
		t.Fatalf("normalized login failed: %v", err)
	}
}

func TestLoginUnknownEmailLooksLikeWrongPassword(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, newFakeClock(), nil)

	_, err := engine.Login(context.Background(), "nobody@example.com", "Whatever-Pw-1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email must map to ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginWrongPasswordCountsTowardLockout(t *testing.T) {
	store := newMockStore()
	clock := newFakeClock()
	engine := newTestEngine(t, store, clock, nil)
	ctx := context.Background()

	account := seedAccount(t, engine, "user@example.com", "Correct-Horse-9")

	for i := 0; i < 2; i++ {
		if _, err := engine.Login(ctx, "user@example.com", "Wrong-Horse-00"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	if _, err := engine.Login(ctx, "user@example.com", "Wrong-Horse-00"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("third failure must lock, got %v", err)
	}

	// Correct password during the window stays rejected.
	if _, err := engine.Login(ctx, "user@example.com", "Correct-Horse-9"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("locked account must reject correct password, got %v", err)
	}

	// Window lapses; the correct password works again and resets state.
	clock.Advance(16 * time.Minute)
	if _, err := engine.Login(ctx, "user@example.com", "Correct-Horse-9"); err != nil {
		t.Fatalf("login after lapsed window failed: %v", err)
	}
	if got := store.get(t, account.ID).FailedAttempts; got != 0 {
		t.Fatalf("FailedAttempts = %d after success, want 0", got)
	}
}

func TestLoginRotatesStampSoOlderSessionDies(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, newFakeClock(), nil)
	ctx := context.Background()

	seedAccount(t, engine, "user@example.com", "Correct-Horse-9")

	first, err := engine.Login(ctx, "user@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	second, err := engine.Login(ctx, "user@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	if _, err := engine.ValidateSession(ctx, first.SessionToken); !errors.Is(err, ErrSessionStale) {
		t.Fatalf("first session should be stale, got %v", err)
	}
	if _, err := engine.ValidateSession(ctx, second.SessionToken); err != nil {
		t.Fatalf("second session should be live, got %v", err)
	}
}

func TestLoginExpiredPasswordBlocksSession(t *testing.T) {
	store := newMockStore()
	clock := newFakeClock()
	engine := newTestEngine(t, store, clock, nil)
	ctx := context.Background()

	seedAccount(t, engine, "user@example.com", "Correct-Horse-9")

	clock.Advance(91 * 24 * time.Hour)
	if _, err := engine.Login(ctx, "user@example.com", "Correct-Horse-9"); !errors.Is(err, ErrPasswordExpired) {
		t.Fatalf("expected ErrPasswordExpired, got %v", err)
	}
}

// enrollTwoFactor walks an account through enrollment and returns the
// raw shared secret.
func enrollTwoFactor(t *testing.T, engine *Engine, clock *fakeClock, accountID, passwd string) []byte {
	t.Helper()
	ctx := context.Background()

	enrollment, err := engine.BeginTwoFactorEnrollment(ctx, accountID, passwd)
	if err != nil {
		t.Fatalf("BeginTwoFactorEnrollment failed: %v", err)
	}
	secret, err := otp.DecodeSecret(enrollment.SecretBase32)
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}

	code := otp.CodeAt(secret, clock.Now().Unix()/30, 6)
	if err := engine.ConfirmTwoFactorEnrollment(ctx, accountID, code); err != nil {
		t.Fatalf("ConfirmTwoFactorEnrollment failed: %v", err)
	}
	return secret
}

func TestLoginWithTwoFactorChallenge(t *testing.T) {
	store := newMockStore()
	clock := newFakeClock()
	engine := newTestEngine(t, store, clock, nil)
	ctx := context.Background()

	account := seedAccount(t, engine, "user@example.com", "Correct-Horse-9")
	secret := enrollTwoFactor(t, engine, clock, account.ID, "Correct-Horse-9")

	result, err := engine.Login(ctx, "user@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.TwoFactorRequired || result.ChallengeID == "" {
		t.Fatalf("expected a challenge, got %+v", result)
	}
	if result.SessionToken != "" {
		t.Fatal("no session may exist before the second factor confirms")
	}

	code := otp.CodeAt(secret, clock.Now().Unix()/30, 6)
	confirmed, err := engine.ConfirmLoginTwoFactor(ctx, result.ChallengeID, code)
	if err != nil {
		t.Fatalf("ConfirmLoginTwoFactor failed: %v", err)
	}
	if confirmed.SessionToken == "" {
		t.Fatal("confirmed login must issue a session")
	}

	// The challenge is single-use.
	if _, err := engine.ConfirmLoginTwoFactor(ctx, result.ChallengeID, code); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("replayed challenge: expected ErrChallengeExpired, got %v", err)
	}
}

func TestLoginTwoFactorWrongCodeCountsTowardLockout(t *testing.T) {
	store := newMockStore()
	clock := newFakeClock()
	engine := newTestEngine(t, store, clock, nil)
	ctx := context.Background()

	account := seedAccount(t, engine, "user@example.com", "Correct-Horse-9")
	enrollTwoFactor(t, engine, clock, account.ID, "Correct-Horse-9")

	result, err := engine.Login(ctx, "user@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if _, err := engine.ConfirmLoginTwoFactor(ctx, result.ChallengeID, "000000"); !errors.Is(err, ErrTwoFactorInvalid) {
		t.Fatalf("expected ErrTwoFactorInvalid, got %v", err)
	}
	if got := store.get(t, account.ID).FailedAttempts; got != 1 {
		t.Fatalf("FailedAttempts = %d, want 1 after a code failure", got)
	}

	if _, err := engine.ConfirmLoginTwoFactor(ctx, result.ChallengeID, "111111"); !errors.Is(err, ErrTwoFactorInvalid) {
		t.Fatalf("expected ErrTwoFactorInvalid, got %v", err)
	}
	// Third code failure exhausts both the challenge budget and the
	// account's attempt budget.
	_, err = engine.ConfirmLoginTwoFactor(ctx, result.ChallengeID, "222222")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
}

func TestLoginTwoFactorChallengeExpires(t *testing.T) {
	store := newMockStore()
	clock := newFakeClock()
	engine := newTestEngine(t, store, clock, nil)
	ctx := context.Background()

	account := seedAccount(t, engine, "user@example.com", "Correct-Horse-9")
	secret := enrollTwoFactor(t, engine, clock, account.ID, "Correct-Horse-9")

	result, err := engine.Login(ctx, "user@example.com", "Correct-Horse-9")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	clock.Advance(4 * time.Minute)
	code := otp.CodeAt(secret, clock.Now().Unix()/30, 6)
	if _, err := engine.ConfirmLoginTwoFactor(ctx, result.ChallengeID, code); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestCreateAccountRejectsDuplicateEmail(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, newFakeClock(), nil)
	ctx := context.Background()

	if _, err := engine.CreateAccount(ctx, "user@example.com", "Correct-Horse-9"); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if _, err := engine.CreateAccount(ctx, "USER@example.com", "Another-Pass-7"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestCreateAccountRejectsWeakPassword(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, newFakeClock(), nil)

	if _, err := engine.CreateAccount(context.Background(), "user@example.com", "weak"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
}

func TestLoginFailsClosedOnStorageError(t *testing.T) {
	store := newMockStore()
	engine := newTestEngine(t, store, newFakeClock(), nil)
	ctx := context.Background()

	seedAccount(t, engine, "user@example.com", "Correct-Horse-9")

	store.getErr = ErrStorageUnavailable
	if _, err := engine.Login(ctx, "user@example.com", "Correct-Horse-9"); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}
