package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventLogin              = "login"
	auditEventLoginLocked        = "login_locked"
	auditEventMFAChallenge       = "mfa_challenge_issued"
	auditEventMFAVerify          = "mfa_verify"
	auditEventBackupCodeUsed     = "backup_code_used"
	auditEventMFAConfirmed       = "mfa_confirmed"
	auditEventMFADisabled        = "mfa_disabled"
	auditEventBackupCodesRegen   = "backup_codes_regenerated"
	auditEventRefresh            = "token_refresh"
	auditEventRefreshReuse       = "refresh_reuse_detected"
	auditEventLogout             = "logout"
	auditEventRevokeAll          = "sessions_revoked"
	auditEventSessionEvicted     = "session_evicted"
	auditEventPasswordChanged    = "password_changed"
	auditEventIdentityLocked     = "identity_locked"
	auditEventIdentityUnlocked   = "identity_unlocked"
	auditEventSuspiciousIP       = "suspicious_ip"
	auditEventStoreUnavailable   = "store_unavailable"
	auditEventPolicyEnforcedOnce = "session_policy_enforced"
)

// auditErrorCode maps engine errors to stable audit codes. Internal
// detail stays here; the error returned to the caller remains generic.
func auditErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrInvalidMFACode):
		return "invalid_mfa_code"
	case errors.Is(err, ErrMFAAttemptsExceeded):
		return "mfa_attempts_exceeded"
	case errors.Is(err, ErrMFANotConfigured):
		return "mfa_not_configured"
	case errors.Is(err, ErrMandatoryMFAPolicy):
		return "mandatory_mfa_policy"
	case errors.Is(err, ErrPendingTokenExpired):
		return "pending_token_expired"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenRevoked):
		return "token_revoked"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	default:
		return "internal_error"
	}
}

// emitAudit builds and dispatches one event. The metadata builder runs
// only when auditing is enabled so hot paths skip map allocation.
func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, accountID, sessionID string, err error, metadata func() map[string]string) {
	if e.audit == nil {
		return
	}
	ev := AuditEvent{
		Time:      time.Now(),
		Type:      eventType,
		Success:   success,
		AccountID: accountID,
		TenantID:  tenantIDFromContext(ctx),
		SessionID: sessionID,
		ClientIP:  clientIPFromContext(ctx),
		ErrorCode: auditErrorCode(err),
	}
	if metadata != nil {
		ev.Metadata = metadata()
	}
	e.audit.emit(ev)
}
