package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/hireloop/authcore/jwt"
	"github.com/hireloop/authcore/session"
)

// Refresh rotates a refresh token: the presented token is consumed and a
// brand-new pair is issued. Presenting the same token twice, including
// two concurrent calls, succeeds exactly once; every other presentation
// gets ErrTokenRevoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if err := e.checkReady(); err != nil {
		return TokenPair{}, err
	}

	claims, err := e.tokens.Parse(refreshToken, jwt.TypeRefresh)
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		return TokenPair{}, mapTokenErr(err)
	}

	revoked, err := e.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return TokenPair{}, storeErr(err)
	}
	if revoked {
		// A blacklisted refresh token was already rotated or revoked;
		// seeing it again means the old token leaked somewhere.
		e.metrics.Inc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, auditEventRefreshReuse, false, claims.Subject, claims.ID, ErrTokenRevoked, nil)
		return TokenPair{}, ErrTokenRevoked
	}

	sess, err := e.sessions.Consume(ctx, claims.TenantID, claims.ID)
	if errors.Is(err, session.ErrNotFound) {
		e.metrics.Inc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, auditEventRefreshReuse, false, claims.Subject, claims.ID, ErrTokenRevoked, nil)
		return TokenPair{}, ErrTokenRevoked
	}
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return TokenPair{}, storeErr(err)
	}
	if sess.Expired(time.Now()) {
		e.metrics.Inc(MetricRefreshFailure)
		return TokenPair{}, ErrTokenExpired
	}

	// The old token is dead from here on, even if issuance below fails.
	if err := e.blacklist.Add(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
		e.metrics.Inc(MetricStoreError)
		return TokenPair{}, storeErr(err)
	}

	acc, err := e.accounts.GetByID(ctx, sess.AccountID)
	if errors.Is(err, ErrAccountNotFound) {
		e.metrics.Inc(MetricRefreshFailure)
		return TokenPair{}, ErrTokenRevoked
	}
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return TokenPair{}, storeErr(err)
	}
	if !acc.Active {
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefresh, false, acc.ID, claims.ID, ErrTokenRevoked, func() map[string]string {
			return map[string]string{"reason": "account_inactive"}
		})
		return TokenPair{}, ErrTokenRevoked
	}

	tokens, _, err := e.issueSession(ctx, acc, nil)
	if err != nil {
		e.emitAudit(ctx, auditEventRefresh, false, acc.ID, claims.ID, err, nil)
		return TokenPair{}, err
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefresh, true, acc.ID, claims.ID, nil, nil)
	return tokens, nil
}

// Logout invalidates a session. It is idempotent: missing, expired or
// malformed tokens still count as a successful logout. Only a store
// outage produces an error, because then nothing was revoked.
func (e *Engine) Logout(ctx context.Context, refreshToken, accessToken string) error {
	if err := e.checkReady(); err != nil {
		return err
	}

	var accountID, sessionID string

	if claims, err := e.tokens.Parse(refreshToken, jwt.TypeRefresh); err == nil {
		accountID, sessionID = claims.Subject, claims.ID
		_, err := e.sessions.Consume(ctx, claims.TenantID, claims.ID)
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			e.metrics.Inc(MetricStoreError)
			return storeErr(err)
		}
		if err := e.blacklist.Add(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
			e.metrics.Inc(MetricStoreError)
			return storeErr(err)
		}
	}

	if claims, err := e.tokens.Parse(accessToken, jwt.TypeAccess); err == nil {
		if accountID == "" {
			accountID = claims.Subject
		}
		if err := e.blacklist.Add(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
			e.metrics.Inc(MetricStoreError)
			return storeErr(err)
		}
	}

	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, accountID, sessionID, nil, nil)
	return nil
}

// RevokeAllSessions kills every live session of an account and
// blacklists their refresh tokens. Returns how many sessions died.
func (e *Engine) RevokeAllSessions(ctx context.Context, accountID string) (int, error) {
	if err := e.checkReady(); err != nil {
		return 0, err
	}

	acc, err := e.accounts.GetByID(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, storeErr(err)
	}
	tenantID := tenantIDOrAccount(acc, tenantIDFromContext(ctx))

	revoked, err := e.sessions.RevokeAllForAccount(ctx, tenantID, accountID)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return 0, storeErr(err)
	}
	now := time.Now()
	for _, s := range revoked {
		if err := e.blacklist.Add(ctx, s.ID, time.Unix(s.ExpiresAt, 0).Sub(now)); err != nil {
			e.metrics.Inc(MetricStoreError)
			return 0, storeErr(err)
		}
	}

	e.metrics.Inc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventRevokeAll, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(len(revoked))}
	})
	return len(revoked), nil
}
