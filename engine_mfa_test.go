package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hireloop/authcore/totp"
)

// enrollMFA runs the full setup/confirm flow and returns the plaintext
// secret and the backup codes.
func enrollMFA(t *testing.T, env *testEnv, accountID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := env.engine.SetupMFA(ctx, accountID)
	if err != nil {
		t.Fatalf("SetupMFA: %v", err)
	}
	code, err := totp.CodeAt(setup.Secret, time.Now())
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	confirmed, err := env.engine.ConfirmMFA(ctx, accountID, setup.Secret, code)
	if err != nil {
		t.Fatalf("ConfirmMFA: %v", err)
	}
	return setup.Secret, confirmed.BackupCodes
}

// pendingLogin logs in an MFA-enabled account and returns the pending
// token.
func pendingLogin(t *testing.T, env *testEnv, email, pass string) string {
	t.Helper()
	res, err := env.engine.Login(context.Background(), email, pass)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.MFARequired {
		t.Fatal("expected MFA challenge")
	}
	if res.Tokens.AccessToken != "" || res.Tokens.RefreshToken != "" {
		t.Fatal("session tokens issued before MFA completion")
	}
	if res.PendingToken == "" {
		t.Fatal("missing pending token")
	}
	return res.PendingToken
}

func TestVerifyMFACompletesLogin(t *testing.T) {
	env := newTestEngine(t)
	id := env.seedAccount(t, "alice@example.com", "correct-horse")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	pending := pendingLogin(t, env, "alice@example.com", "correct-horse")

	// The confirm step consumed the current TOTP step, use the next one.
	code, err := totp.CodeAt(secret, time.Now().Add(30*time.Second))
	if err != nil {
		t.Fatalf("CodeAt: %v", err)
	}
	res, err := env.engine.VerifyMFA(ctx, pending, code)
	if err != nil {
		t.Fatalf("VerifyMFA: %v", err)
	}
	if res.Tokens.AccessToken == "" || res.Tokens.RefreshToken == "" {
		t.Fatal("missing tokens after MFA")
	}
	if _, err := env.engine.VerifyAccess(ctx, res.Tokens.AccessToken); err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
}

func TestVerifyMFAWrongCodeKeepsPendingAlive(t *testing.T) {
	env := newTestEngine(t)
	id := env.seedAccount(t, "alice@example.com", "correct-horse")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	pending := pendingLogin(t, env, "alice@example.com", "correct-horse")

	if _, err := env.engine.VerifyMFA(ctx, pending, "000000"); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("wrong code: %v", err)
	}

	// Same pending token, right code: still works.
	code, _ := totp.CodeAt(secret, time.Now().Add(30*time.Second))
	if _, err := env.engine.VerifyMFA(ctx, pending, code); err != nil {
		t.Fatalf("VerifyMFA after one miss: %v", err)
	}
}

func TestVerifyMFAConsumesPendingToken(t *testing.T) {
	env := newTestEngine(t)
	id := env.seedAccount(t, "alice@example.com", "correct-horse")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	pending := pendingLogin(t, env, "alice@example.com", "correct-horse")
	code, _ := totp.CodeAt(secret, time.Now().Add(30*time.Second))
	if _, err := env.engine.VerifyMFA(ctx, pending, code); err != nil {
		t.Fatalf("VerifyMFA: %v", err)
	}

	// A consumed pending token cannot start a second session, even with
	// a fresh valid code.
	code2, _ := totp.CodeAt(secret, time.Now().Add(60*time.Second))
	if _, err := env.engine.VerifyMFA(ctx, pending, code2); !errors.Is(err, ErrPendingTokenExpired) {
		t.Fatalf("replayed pending token: %v", err)
	}
}

func TestVerifyMFARejectsReplayedCode(t *testing.T) {
	env := newTestEngine(t)
	id := env.seedAccount(t, "alice@example.com", "correct-horse")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	pending := pendingLogin(t, env, "alice@example.com", "correct-horse")
	code, _ := totp.CodeAt(secret, time.Now().Add(30*time.Second))
	if _, err := env.engine.VerifyMFA(ctx, pending, code); err != nil {
		t.Fatalf("VerifyMFA: %v", err)
	}

	// Fresh login, same code: the step watermark blocks it.
	pending2 := pendingLogin(t, env, "alice@example.com", "correct-horse")
	if _, err := env.engine.VerifyMFA(ctx, pending2, code); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("replayed TOTP code: %v", err)
	}
}

func TestVerifyMFAAttemptBudget(t *testing.T) {
	env := newTestEngine(t) // MaxAttempts = 3 in testConfig
	id := env.seedAccount(t, "alice@example.com", "correct-horse")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	pending := pendingLogin(t, env, "alice@example.com", "correct-horse")

	for i := 0; i < 2; i++ {
		if _, err := env.engine.VerifyMFA(ctx, pending, "000000"); !errors.Is(err, ErrInvalidMFACode) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	// Third failure exhausts the budget.
	if _, err := env.engine.VerifyMFA(ctx, pending, "000000"); !errors.Is(err, ErrMFAAttemptsExceeded) {
		t.Fatalf("exhausting attempt: %v", err)
	}
	// And a correct code is refused until the window passes.
	code, _ := totp.CodeAt(secret, time.Now().Add(30*time.Second))
	if _, err := env.engine.VerifyMFA(ctx, pending, code); !errors.Is(err, ErrMFAAttemptsExceeded) {
		t.Fatalf("after exhaustion: %v", err)
	}
}

func TestVerifyMFAPendingExpires(t *testing.T) {
	env := newTestEngine(t)
	id := env.seedAccount(t, "alice@example.com", "correct-horse")
	secret, _ := enrollMFA(t, env, id)
	ctx := context.Background()

	iss, err := env.engine.tokens.IssuePending(id, "0", -time.Minute)
	if err != nil {
		t.Fatalf("IssuePending: %v", err)
	}
	code, _ := totp.CodeAt(secret, time.Now())
	if _, err := env.engine.VerifyMFA(ctx, iss.Token, code); !errors.Is(err, ErrPendingTokenExpired) {
		t.Fatalf("expired pending token: %v", err)
	}
}

func TestVerifyMFARejectsNonPendingToken(t *testing.T) {
	env := newTestEngine(t)
	env.seedAccount(t, "bob@example.com", "hunter2-hunter2")
	pair := loginHelper(t, env, "bob@example.com", "hunter2-hunter2")

	if _, err := env.engine.VerifyMFA(context.Background(), pair.AccessToken, "123456"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token accepted as pending: %v", err)
	}
}

func TestUseBackupCode(t *testing.T) {
	env := newTestEngine(t)
	id := env.seedAccount(t, "alice@example.com", "correct-horse")
	_, codes := enrollMFA(t, env, id)
	ctx := context.Background()

	pending := pendingLogin(t, env, "alice@example.com", "correct-horse")
	res, err := env.engine.UseBackupCode(ctx, pending, codes[0])
	if err != nil {
		t.Fatalf("UseBackupCode: %v", err)
	}
	if res.Tokens.AccessToken == "" {
		t.Fatal("missing tokens after backup code login")
	}
	if res.BackupCodesRemaining != len(codes)-1 {
		t.Fatalf("remaining = %d, want %d", res.BackupCodesRemaining, len(codes)-1)
	}
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	env := newTestEngine(t)
	id := env.seedAccount(t, "alice@example.com", "correct-horse")
	_, codes := enrollMFA(t, env, id)
	ctx := context.Background()

	pending := pendingLogin(t, env, "alice@example.com", "correct-horse")
	if _, err := env.engine.UseBackupCode(ctx, pending, codes[0]); err != nil {
		t.Fatalf("UseBackupCode: %v", err)
	}

	pending2 := pendingLogin(t, env, "alice@example.com", "correct-horse")
	if _, err := env.engine.UseBackupCode(ctx, pending2, codes[0]); !errors.Is(err, ErrInvalidMFACode) {
		t.Fatalf("reused backup code: %v", err)
	}
}

func TestBackupCodeLowStockNotice(t *testing.T) {
	env := newTestEngine(t, withConfig(func(cfg *Config) {
		cfg.MFA.BackupCodeCount = 4
		cfg.MFA.LowCodeWarning = 3
	}))
	id := env.seedAccount(t, "alice@example.com", "correct-horse")
	_, codes := enrollMFA(t, env, id)
	ctx := context.Background()

	pending := pendingLogin(t, env, "alice@example.com", "correct-horse")
	res, err := env.engine.UseBackupCode(ctx, pending, codes[0])
	if err != nil {
		t.Fatalf("UseBackupCode: %v", err)
	}

	found := false
	for _, n := range res.Notices {
		if n == NoticeLowBackupCodes {
			found = true
		}
	}
	if !found {
		t.Fatalf("notices = %v, want %q", res.Notices, NoticeLowBackupCodes)
	}
}

func TestBackupCodeAcceptsLooseFormatting(t *testing.T) {
	env := newTestEngine(t)
	id := env.seedAccount(t, "alice@example.com", "correct-horse")
	_, codes := enrollMFA(t, env, id)
	ctx := context.Background()

	loose := " " + lowerString(codes[0]) + " "
	pending := pendingLogin(t, env, "alice@example.com", "correct-horse")
	if _, err := env.engine.UseBackupCode(ctx, pending, loose); err != nil {
		t.Fatalf("UseBackupCode with loose formatting: %v", err)
	}
}

func lowerString(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + ('a' - 'A')
		}
	}
	return string(out)
}
