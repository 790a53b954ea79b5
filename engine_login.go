package authcore

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// Login verifies credentials and either returns a token pair or, for
// MFA-enabled accounts, a pending token to be exchanged via VerifyMFA or
// UseBackupCode. Failures are indistinguishable to the caller whether
// the account exists or not.
func (e *Engine) Login(ctx context.Context, email, pass string) (LoginResult, error) {
	if err := e.checkReady(); err != nil {
		return LoginResult{}, err
	}

	email = canonicalEmail(email)
	tenantID := tenantIDFromContext(ctx)
	ip := clientIPFromContext(ctx)

	if err := e.checkLockouts(ctx, email, ip); err != nil {
		e.metrics.Inc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, "", "", err, nil)
		return LoginResult{}, err
	}

	acc, err := e.accounts.GetByEmail(ctx, tenantID, email)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		// Burn the same hashing work as a real mismatch so lookup
		// misses are not observable through timing.
		e.passwords.VerifyDummy(pass)
		return LoginResult{}, e.failLogin(ctx, email, ip, "", ErrAccountNotFound)
	case err != nil:
		e.metrics.Inc(MetricStoreError)
		return LoginResult{}, storeErr(err)
	}

	ok, err := e.passwords.Verify(pass, acc.PasswordHash)
	if err != nil || !ok {
		return LoginResult{}, e.failLogin(ctx, email, ip, acc.ID, ErrInvalidCredentials)
	}

	if !acc.Active {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLogin, false, acc.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "account_inactive"}
		})
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := e.clearLockouts(ctx, email, ip); err != nil {
		e.metrics.Inc(MetricStoreError)
		return LoginResult{}, err
	}

	if acc.MFAEnabled && len(acc.MFASecret) > 0 {
		pending, err := e.tokens.IssuePending(acc.ID, tenantIDOrAccount(acc, tenantID), e.config.JWT.PendingTTL)
		if err != nil {
			return LoginResult{}, err
		}
		e.metrics.Inc(MetricMFARequired)
		e.emitAudit(ctx, auditEventMFAChallenge, true, acc.ID, "", nil, nil)
		return LoginResult{MFARequired: true, PendingToken: pending.Token}, nil
	}

	tokens, notices, err := e.issueSession(ctx, acc, nil)
	if err != nil {
		e.emitAudit(ctx, auditEventLogin, false, acc.ID, "", err, nil)
		return LoginResult{}, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLogin, true, acc.ID, "", nil, nil)
	return LoginResult{Tokens: tokens, Notices: notices}, nil
}

// ChangePassword rotates the credential after re-verifying the current
// one, then revokes every session so stolen refresh tokens die with the
// old password.
func (e *Engine) ChangePassword(ctx context.Context, accountID, oldPass, newPass string) error {
	if err := e.checkReady(); err != nil {
		return err
	}

	acc, err := e.accounts.GetByID(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return storeErr(err)
	}

	ok, err := e.passwords.Verify(oldPass, acc.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, auditEventPasswordChanged, false, accountID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.passwords.Hash(newPass)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		return storeErr(err)
	}

	if _, err := e.RevokeAllSessions(ctx, accountID); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventPasswordChanged, true, accountID, "", nil, nil)
	return nil
}

// LockIdentity places an administrative lock on an email identity. The
// lock has no expiry; only UnlockIdentity clears it.
func (e *Engine) LockIdentity(ctx context.Context, email string) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	err := e.lockout.Lock(ctx, lockKindEmail, canonicalEmail(email))
	e.emitAudit(ctx, auditEventIdentityLocked, err == nil, "", "", err, nil)
	return err
}

// UnlockIdentity removes an administrative lock and resets the streak.
func (e *Engine) UnlockIdentity(ctx context.Context, email string) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	err := e.lockout.Unlock(ctx, lockKindEmail, canonicalEmail(email))
	e.emitAudit(ctx, auditEventIdentityUnlocked, err == nil, "", "", err, nil)
	return err
}

func (e *Engine) checkLockouts(ctx context.Context, email, ip string) error {
	locked, retryAfter, err := e.lockout.Check(ctx, lockKindEmail, email)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return err
	}
	if locked {
		return &AccountLockedError{RetryAfter: retryAfter}
	}
	if ip == "" {
		return nil
	}
	locked, retryAfter, err = e.lockout.Check(ctx, lockKindIP, ip)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return err
	}
	if locked {
		return &AccountLockedError{RetryAfter: retryAfter}
	}
	return nil
}

func (e *Engine) clearLockouts(ctx context.Context, email, ip string) error {
	if err := e.lockout.Clear(ctx, lockKindEmail, email); err != nil {
		return err
	}
	if ip != "" {
		return e.lockout.Clear(ctx, lockKindIP, ip)
	}
	return nil
}

// failLogin records the failure on both identity keys, applies the
// progressive delay and returns the generic credential error. The audit
// event carries the real cause.
func (e *Engine) failLogin(ctx context.Context, email, ip, accountID string, cause error) error {
	e.metrics.Inc(MetricLoginFailure)

	emailCount, err := e.lockout.RecordFailure(ctx, lockKindEmail, email)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return err
	}
	var ipCount int64
	if ip != "" {
		ipCount, err = e.lockout.RecordFailure(ctx, lockKindIP, ip)
		if err != nil {
			e.metrics.Inc(MetricStoreError)
			return err
		}
	}

	e.emitAudit(ctx, auditEventLogin, false, accountID, "", cause, func() map[string]string {
		return map[string]string{
			"email_failures": strconv.FormatInt(emailCount, 10),
			"ip_failures":    strconv.FormatInt(ipCount, 10),
		}
	})

	delay := e.lockout.delayForFailures(emailCount)
	if d := e.lockout.delayForFailures(ipCount); d > delay {
		delay = d
	}
	if delay > 0 {
		e.metrics.Inc(MetricLoginDelayed)
		if err := sleepDelay(ctx, delay); err != nil {
			return err
		}
	}
	return ErrInvalidCredentials
}

func canonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func tenantIDOrAccount(acc AccountRecord, fallback string) string {
	if acc.TenantID != "" {
		return acc.TenantID
	}
	return fallback
}

