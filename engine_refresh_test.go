package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func loginHelper(t *testing.T, env *testEnv, email, pass string) TokenPair {
	t.Helper()
	res, err := env.engine.Login(context.Background(), email, pass)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.MFARequired {
		t.Fatal("unexpected MFA challenge")
	}
	return res.Tokens
}

func TestRefreshRotates(t *testing.T) {
	env := newTestEngine(t)
	env.seedAccount(t, "alice@example.com", "correct-horse")
	ctx := context.Background()
	pair := loginHelper(t, env, "alice@example.com", "correct-horse")

	rotated, err := env.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token not rotated")
	}
	if rotated.AccessToken == pair.AccessToken {
		t.Fatal("access token not rotated")
	}

	// The new token works.
	if _, err := env.engine.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("second rotation: %v", err)
	}
}

func TestRefreshReplayDetected(t *testing.T) {
	env := newTestEngine(t)
	env.seedAccount(t, "alice@example.com", "correct-horse")
	ctx := context.Background()
	pair := loginHelper(t, env, "alice@example.com", "correct-horse")

	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// Replaying the consumed token must fail, now and forever.
	for i := 0; i < 2; i++ {
		if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("replay %d: %v", i, err)
		}
	}
	if got := env.engine.metrics.Value(MetricRefreshReuseDetected); got < 2 {
		t.Fatalf("reuse metric = %d, want >= 2", got)
	}
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	env := newTestEngine(t)
	env.seedAccount(t, "alice@example.com", "correct-horse")
	ctx := context.Background()
	pair := loginHelper(t, env, "alice@example.com", "correct-horse")

	const callers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes int
	var lastErr error

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			lastErr = err
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1", successes)
	}
	if !errors.Is(lastErr, ErrTokenRevoked) {
		t.Fatalf("loser error = %v, want ErrTokenRevoked", lastErr)
	}
}

func TestRefreshGarbageToken(t *testing.T) {
	env := newTestEngine(t)

	_, err := env.engine.Refresh(context.Background(), "not-a-jwt")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage token: %v", err)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	env := newTestEngine(t)
	env.seedAccount(t, "alice@example.com", "correct-horse")
	pair := loginHelper(t, env, "alice@example.com", "correct-horse")

	_, err := env.engine.Refresh(context.Background(), pair.AccessToken)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token accepted for refresh: %v", err)
	}
}

func TestRefreshInactiveAccount(t *testing.T) {
	env := newTestEngine(t)
	id := env.seedAccount(t, "alice@example.com", "correct-horse")
	pair := loginHelper(t, env, "alice@example.com", "correct-horse")

	acc := env.store.get(id)
	acc.Active = false
	env.store.put(acc)

	if _, err := env.engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("refresh for deactivated account: %v", err)
	}
}

func TestLogoutInvalidatesTokens(t *testing.T) {
	env := newTestEngine(t)
	env.seedAccount(t, "alice@example.com", "correct-horse")
	ctx := context.Background()
	pair := loginHelper(t, env, "alice@example.com", "correct-horse")

	if err := env.engine.Logout(ctx, pair.RefreshToken, pair.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("refresh after logout: %v", err)
	}
	if _, err := env.engine.VerifyAccess(ctx, pair.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("access after logout: %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEngine(t)
	env.seedAccount(t, "alice@example.com", "correct-horse")
	ctx := context.Background()
	pair := loginHelper(t, env, "alice@example.com", "correct-horse")

	for i := 0; i < 3; i++ {
		if err := env.engine.Logout(ctx, pair.RefreshToken, pair.AccessToken); err != nil {
			t.Fatalf("logout %d: %v", i, err)
		}
	}
	if err := env.engine.Logout(ctx, "garbage", ""); err != nil {
		t.Fatalf("logout with garbage token: %v", err)
	}
	if err := env.engine.Logout(ctx, "", ""); err != nil {
		t.Fatalf("logout with no tokens: %v", err)
	}
}

func TestRevokeAllSessions(t *testing.T) {
	env := newTestEngine(t)
	id := env.seedAccount(t, "alice@example.com", "correct-horse")
	ctx := context.Background()

	p1 := loginHelper(t, env, "alice@example.com", "correct-horse")
	p2 := loginHelper(t, env, "alice@example.com", "correct-horse")

	n, err := env.engine.RevokeAllSessions(ctx, id)
	if err != nil {
		t.Fatalf("RevokeAllSessions: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked = %d, want 2", n)
	}

	for i, tok := range []string{p1.RefreshToken, p2.RefreshToken} {
		if _, err := env.engine.Refresh(ctx, tok); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("refresh %d after revoke all: %v", i, err)
		}
	}
	for i, tok := range []string{p1.AccessToken, p2.AccessToken} {
		if _, err := env.engine.VerifyAccess(ctx, tok); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("access %d after revoke all: %v", i, err)
		}
	}
}

func TestVerifyAccessExpired(t *testing.T) {
	env := newTestEngine(t, withConfig(func(cfg *Config) {
		cfg.JWT.Leeway = 0
	}))
	env.seedAccount(t, "alice@example.com", "correct-horse")
	pair := loginHelper(t, env, "alice@example.com", "correct-horse")

	iss, err := env.engine.tokens.IssueAccess("acc-alice", "0", "sid", -time.Minute)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := env.engine.VerifyAccess(context.Background(), iss.Token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired access token: %v", err)
	}

	// Sanity: the real one still verifies.
	if _, err := env.engine.VerifyAccess(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("valid access token: %v", err)
	}
}
