package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/hireloop/authcore/session"
)

// policyEnforcer applies the tenant session policy around issuance.
// Single mode clears existing sessions before a new one exists; multiple
// mode trims the oldest sessions after issuance and never touches the
// session that was just created.
type policyEnforcer struct {
	store     *session.Store
	blacklist *session.Blacklist
	defaults  PolicyConfig
	provider  PolicyProvider
}

// resolve returns the tenant's policy, falling back to the configured
// default when no provider is installed or the provider fails.
func (p *policyEnforcer) resolve(ctx context.Context, tenantID string) TenantPolicy {
	if p.provider != nil {
		pol, err := p.provider.TenantPolicy(ctx, tenantID)
		if err == nil {
			return pol
		}
	}
	return TenantPolicy{
		Mode:        p.defaults.Mode,
		MaxSessions: p.defaults.MaxSessions,
		RequireMFA:  p.defaults.RequireMFA,
	}
}

// beforeIssue runs ahead of session creation. In single mode it revokes
// and blacklists every existing session, returning how many went away.
func (p *policyEnforcer) beforeIssue(ctx context.Context, pol TenantPolicy, tenantID, accountID string) (int, error) {
	if pol.Mode != SessionModeSingle {
		return 0, nil
	}
	revoked, err := p.store.RevokeAllForAccount(ctx, tenantID, accountID)
	if err != nil {
		return 0, storeErr(err)
	}
	now := time.Now()
	for _, s := range revoked {
		ttl := time.Unix(s.ExpiresAt, 0).Sub(now)
		if err := p.blacklist.Add(ctx, s.ID, ttl); err != nil {
			return 0, storeErr(err)
		}
	}
	return len(revoked), nil
}

// afterIssue runs once the new session exists. In multiple mode it
// evicts oldest-first until the cap holds, skipping newSessionID. The
// Consume step is atomic per session, so two logins racing past the cap
// each evict distinct victims and the cap converges.
func (p *policyEnforcer) afterIssue(ctx context.Context, pol TenantPolicy, tenantID, accountID, newSessionID string) (int, error) {
	if pol.Mode != SessionModeMultiple || pol.MaxSessions <= 0 {
		return 0, nil
	}
	sessions, err := p.store.ActiveSessions(ctx, tenantID, accountID)
	if err != nil {
		return 0, storeErr(err)
	}
	over := len(sessions) - pol.MaxSessions
	if over <= 0 {
		return 0, nil
	}

	evicted := 0
	now := time.Now()
	for _, s := range sessions {
		if evicted >= over {
			break
		}
		if s.ID == newSessionID {
			continue
		}
		victim, err := p.store.Consume(ctx, tenantID, s.ID)
		if errors.Is(err, session.ErrNotFound) {
			// Another login evicted it first.
			evicted++
			continue
		}
		if err != nil {
			return evicted, storeErr(err)
		}
		ttl := time.Unix(victim.ExpiresAt, 0).Sub(now)
		if err := p.blacklist.Add(ctx, victim.ID, ttl); err != nil {
			return evicted, storeErr(err)
		}
		evicted++
	}
	return evicted, nil
}
