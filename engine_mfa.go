package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/hireloop/authcore/internal"
	"github.com/hireloop/authcore/jwt"
	"github.com/hireloop/authcore/totp"
)

// VerifyMFA completes a login that returned MFARequired. A wrong code
// leaves the pending token usable for further attempts inside its window
// and attempt budget; a correct code consumes it and issues the session.
func (e *Engine) VerifyMFA(ctx context.Context, pendingToken, code string) (MFAResult, error) {
	if err := e.checkReady(); err != nil {
		return MFAResult{}, err
	}

	claims, acc, err := e.openPending(ctx, pendingToken)
	if err != nil {
		return MFAResult{}, err
	}

	secret, err := e.sealer.Open(acc.MFASecret)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return MFAResult{}, storeErr(err)
	}

	ok, step, err := totp.Validate(code, string(secret), time.Now(), e.config.MFA.Skew)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return MFAResult{}, storeErr(err)
	}
	if ok && step <= acc.TOTPLastStep {
		// Valid code but already spent inside the skew window.
		e.metrics.Inc(MetricMFAReplayBlocked)
		ok = false
	}
	if !ok {
		return MFAResult{}, e.failMFAAttempt(ctx, acc.ID, claims.ID)
	}

	if err := e.accounts.UpdateTOTPLastStep(ctx, acc.ID, step); err != nil {
		e.metrics.Inc(MetricStoreError)
		return MFAResult{}, storeErr(err)
	}

	tokens, notices, err := e.completePending(ctx, claims, acc)
	if err != nil {
		return MFAResult{}, err
	}

	e.metrics.Inc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFAVerify, true, acc.ID, "", nil, nil)
	return MFAResult{Tokens: tokens, Notices: notices}, nil
}

// UseBackupCode completes a pending login with a one-time backup code.
// Each code works exactly once; the result reports how many remain.
func (e *Engine) UseBackupCode(ctx context.Context, pendingToken, code string) (MFAResult, error) {
	if err := e.checkReady(); err != nil {
		return MFAResult{}, err
	}

	claims, acc, err := e.openPending(ctx, pendingToken)
	if err != nil {
		return MFAResult{}, err
	}

	// Consumption is final: if issuance below fails, the code is spent
	// and not refunded. A refund path would open a window where the same
	// code verifies twice.
	consumed, err := e.accounts.ConsumeBackupCode(ctx, acc.ID, internal.HashBackupCode(code))
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return MFAResult{}, storeErr(err)
	}
	if !consumed {
		e.metrics.Inc(MetricBackupCodeFailed)
		return MFAResult{}, e.failMFAAttempt(ctx, acc.ID, claims.ID)
	}

	remaining, err := e.accounts.GetBackupCodes(ctx, acc.ID)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return MFAResult{}, storeErr(err)
	}

	tokens, notices, err := e.completePending(ctx, claims, acc)
	if err != nil {
		return MFAResult{}, err
	}
	if len(remaining) <= e.config.MFA.LowCodeWarning {
		notices = append(notices, NoticeLowBackupCodes)
	}

	e.metrics.Inc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, acc.ID, "", nil, func() map[string]string {
		return map[string]string{"remaining": strconv.Itoa(len(remaining))}
	})
	return MFAResult{
		Tokens:               tokens,
		BackupCodesRemaining: len(remaining),
		Notices:              notices,
	}, nil
}

// openPending validates a pending token and loads its account. It checks
// signature, expiry, prior consumption and the attempt budget, in that
// order.
func (e *Engine) openPending(ctx context.Context, pendingToken string) (*jwt.Claims, AccountRecord, error) {
	claims, err := e.tokens.Parse(pendingToken, jwt.TypePending)
	if errors.Is(err, jwt.ErrExpired) {
		return nil, AccountRecord{}, ErrPendingTokenExpired
	}
	if err != nil {
		return nil, AccountRecord{}, ErrTokenInvalid
	}

	consumed, err := e.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return nil, AccountRecord{}, storeErr(err)
	}
	if consumed {
		return nil, AccountRecord{}, ErrPendingTokenExpired
	}

	exceeded, err := e.mfaLimit.Exceeded(ctx, claims.Subject)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return nil, AccountRecord{}, storeErr(err)
	}
	if exceeded {
		return nil, AccountRecord{}, ErrMFAAttemptsExceeded
	}

	acc, err := e.accounts.GetByID(ctx, claims.Subject)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, AccountRecord{}, ErrTokenInvalid
	}
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return nil, AccountRecord{}, storeErr(err)
	}
	if !acc.Active {
		return nil, AccountRecord{}, ErrInvalidCredentials
	}
	if !acc.MFAEnabled || len(acc.MFASecret) == 0 {
		return nil, AccountRecord{}, ErrMFANotConfigured
	}
	return claims, acc, nil
}

// completePending consumes the pending token and issues the session.
// Consumption happens before issuance so a crash in between costs the
// user a re-login rather than leaving a replayable pending token.
func (e *Engine) completePending(ctx context.Context, claims *jwt.Claims, acc AccountRecord) (TokenPair, []string, error) {
	if err := e.blacklist.Add(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
		e.metrics.Inc(MetricStoreError)
		return TokenPair{}, nil, storeErr(err)
	}
	if err := e.mfaLimit.Reset(ctx, acc.ID); err != nil {
		e.metrics.Inc(MetricStoreError)
		return TokenPair{}, nil, storeErr(err)
	}
	return e.issueSession(ctx, acc, nil)
}

func (e *Engine) failMFAAttempt(ctx context.Context, accountID, pendingID string) error {
	e.metrics.Inc(MetricMFAFailure)

	exhausted, err := e.mfaLimit.RecordFailure(ctx, accountID)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return err
	}
	e.emitAudit(ctx, auditEventMFAVerify, false, accountID, pendingID, ErrInvalidMFACode, nil)
	if exhausted {
		return ErrMFAAttemptsExceeded
	}
	return ErrInvalidMFACode
}
