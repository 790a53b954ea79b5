package authcore

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the engine. Callers should match with
// errors.Is; the messages are intentionally generic so they can be
// surfaced verbatim without leaking account state.
var (
	// ErrInvalidCredentials covers unknown identifier, wrong password and
	// deactivated accounts alike. The real cause is only visible in audit.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountLocked is returned while a timed or manual lock is in
	// effect. Timed locks carry a retry hint via AccountLockedError.
	ErrAccountLocked = errors.New("account temporarily locked")

	// ErrInvalidMFACode covers wrong TOTP codes, replayed TOTP codes and
	// unknown or already-consumed backup codes.
	ErrInvalidMFACode = errors.New("invalid mfa code")

	// ErrMFANotConfigured is returned by MFA management flows when the
	// account has no confirmed secret.
	ErrMFANotConfigured = errors.New("mfa not configured")

	// ErrMFAAttemptsExceeded is returned when the per-account MFA attempt
	// budget for a pending login is exhausted.
	ErrMFAAttemptsExceeded = errors.New("mfa attempts exceeded")

	// ErrMandatoryMFAPolicy rejects DisableMFA when the tenant policy
	// requires MFA for all accounts.
	ErrMandatoryMFAPolicy = errors.New("mfa required by tenant policy")

	// ErrPendingTokenExpired is returned when the short-lived MFA pending
	// token has expired or was already consumed.
	ErrPendingTokenExpired = errors.New("mfa verification window expired")

	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked is returned for blacklisted tokens and for refresh
	// tokens whose session no longer exists, including replay after
	// rotation.
	ErrTokenRevoked = errors.New("token revoked")

	// ErrStoreUnavailable wraps Redis and account-store failures on paths
	// that must fail closed.
	ErrStoreUnavailable = errors.New("auth store unavailable")

	ErrAccountNotFound = errors.New("account not found")
	ErrEngineNotReady  = errors.New("engine not fully configured")
	ErrEngineClosed    = errors.New("engine closed")

	ErrWeakSecret = errors.New("secret does not meet minimum requirements")
)

// AccountLockedError carries the remaining lock duration for timed locks.
// It matches ErrAccountLocked under errors.Is.
type AccountLockedError struct {
	RetryAfter time.Duration
}

func (e *AccountLockedError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrAccountLocked.Error()
	}
	return fmt.Sprintf("account temporarily locked, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
