package authcore

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hireloop/authcore/internal"
	"github.com/hireloop/authcore/jwt"
	"github.com/hireloop/authcore/password"
	"github.com/hireloop/authcore/session"
)

// Engine is the authentication core. Construct it with New(...).Build()
// and share one instance; all methods are safe for concurrent use.
type Engine struct {
	config   Config
	accounts AccountStore

	tokens    *jwt.Manager
	passwords *password.Verifier
	sessions  *session.Store
	blacklist *session.Blacklist
	lockout   *lockoutTracker
	mfaLimit  *mfaAttemptLimiter
	iprep     *ipReputation
	policy    *policyEnforcer
	sealer    *internal.Sealer

	audit   *auditDispatcher
	metrics *Metrics

	closed atomic.Bool
}

// Close flushes the audit dispatcher. The engine must not be used after.
func (e *Engine) Close() {
	if e.closed.CompareAndSwap(false, true) {
		e.audit.close()
	}
}

// Metrics exposes the in-process counters for scraping.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// AuditDropped reports how many audit events were discarded under load.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

func (e *Engine) checkReady() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

// issueSession creates the refresh session and token pair for an
// authenticated account, applying the tenant session policy around it.
// Policy and registry failures fail closed; the IP reputation step is
// advisory and degrades to no signal.
func (e *Engine) issueSession(ctx context.Context, acc AccountRecord, notices []string) (TokenPair, []string, error) {
	tenantID := acc.TenantID
	if tenantID == "" {
		tenantID = tenantIDFromContext(ctx)
	}

	pol := e.policy.resolve(ctx, tenantID)

	revoked, err := e.policy.beforeIssue(ctx, pol, tenantID, acc.ID)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return TokenPair{}, nil, err
	}
	if revoked > 0 {
		e.emitAudit(ctx, auditEventPolicyEnforcedOnce, true, acc.ID, "", nil, func() map[string]string {
			return map[string]string{"mode": "single", "revoked": strconv.Itoa(revoked)}
		})
	}

	refresh, err := e.tokens.IssueRefresh(acc.ID, tenantID, e.config.JWT.RefreshTTL)
	if err != nil {
		return TokenPair{}, nil, err
	}

	now := time.Now()
	sess := session.Session{
		ID:              refresh.ID,
		AccountID:       acc.ID,
		TenantID:        tenantID,
		DeviceName:      deviceNameFromContext(ctx),
		FingerprintHash: internal.Fingerprint(userAgentFromContext(ctx), clientIPFromContext(ctx)),
		IssuedAt:        now.UnixMilli(),
		ExpiresAt:       refresh.ExpiresAt.Unix(),
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		e.metrics.Inc(MetricStoreError)
		return TokenPair{}, nil, storeErr(err)
	}
	e.metrics.Inc(MetricSessionCreated)

	access, err := e.tokens.IssueAccess(acc.ID, tenantID, refresh.ID, e.config.JWT.AccessTTL)
	if err != nil {
		return TokenPair{}, nil, err
	}

	evicted, err := e.policy.afterIssue(ctx, pol, tenantID, acc.ID, refresh.ID)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return TokenPair{}, nil, err
	}
	if evicted > 0 {
		e.metrics.Inc(MetricSessionEvicted)
		notices = append(notices, NoticeSessionEvicted)
		e.emitAudit(ctx, auditEventSessionEvicted, true, acc.ID, refresh.ID, nil, func() map[string]string {
			return map[string]string{"mode": "multiple", "evicted": strconv.Itoa(evicted)}
		})
	}

	obs, err := e.iprep.Observe(ctx, tenantID, acc.ID, clientIPFromContext(ctx))
	if err != nil {
		// Advisory path, fail open.
		e.emitAudit(ctx, auditEventStoreUnavailable, false, acc.ID, "", err, nil)
	}
	if obs.NewIP {
		e.metrics.Inc(MetricNewIPObserved)
		notices = append(notices, NoticeNewIP)
	}
	if obs.HighVelocity {
		e.metrics.Inc(MetricIPVelocityFlagged)
		notices = append(notices, NoticeHighIPVelocity)
	}
	if obs.NewIP || obs.HighVelocity {
		e.emitAudit(ctx, auditEventSuspiciousIP, true, acc.ID, refresh.ID, nil, func() map[string]string {
			return map[string]string{
				"new_ip":        boolStr(obs.NewIP),
				"high_velocity": boolStr(obs.HighVelocity),
			}
		})
	}

	// Best effort, a miss here must not undo a successful login.
	_ = e.accounts.UpdateLastLogin(ctx, acc.ID, now)

	return TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, notices, nil
}

// VerifyAccess checks an access token: signature, expiry, then the
// revocation list for the token's own ID and for its session. The
// session check is what kills outstanding access tokens when their
// refresh session is revoked or evicted. Blacklist errors deny access.
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (AccessIdentity, error) {
	if err := e.checkReady(); err != nil {
		return AccessIdentity{}, err
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricVerifyLatency, time.Since(start)) }()

	claims, err := e.tokens.Parse(accessToken, jwt.TypeAccess)
	if err != nil {
		e.metrics.Inc(MetricVerifyFailure)
		return AccessIdentity{}, mapTokenErr(err)
	}

	revoked, err := e.blacklist.IsRevoked(ctx, claims.ID)
	if err != nil {
		e.metrics.Inc(MetricStoreError)
		return AccessIdentity{}, storeErr(err)
	}
	if !revoked && claims.SessionID != "" {
		revoked, err = e.blacklist.IsRevoked(ctx, claims.SessionID)
		if err != nil {
			e.metrics.Inc(MetricStoreError)
			return AccessIdentity{}, storeErr(err)
		}
	}
	if revoked {
		e.metrics.Inc(MetricVerifyFailure)
		return AccessIdentity{}, ErrTokenRevoked
	}

	e.metrics.Inc(MetricVerifySuccess)
	return AccessIdentity{
		AccountID: claims.Subject,
		TenantID:  claims.TenantID,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func mapTokenErr(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	default:
		return ErrTokenInvalid
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
