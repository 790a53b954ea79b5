package authcore

import (
	"context"
	"time"
)

// AccountRecord is the engine's view of a stored account. Implementations
// return it by value; the engine never mutates stored records directly.
type AccountRecord struct {
	ID       string
	TenantID string
	Email    string

	// PasswordHash is a PHC-formatted argon2id string.
	PasswordHash string

	Active bool

	// MFAEnabled is true only after a secret has been confirmed.
	MFAEnabled bool

	// MFASecret is the sealed TOTP secret, empty when MFA is off.
	MFASecret []byte

	// TOTPLastStep is the highest time step a code was accepted for.
	// Used to reject replayed codes inside the skew window.
	TOTPLastStep int64

	CreatedAt   time.Time
	LastLoginAt time.Time
}

// BackupCodeRecord holds the SHA-256 hash of a single backup code.
// Plaintext codes exist only in the response that generated them.
type BackupCodeRecord struct {
	Hash [32]byte
}

// AccountStore is the persistence adapter the host application implements.
// Email lookups are tenant scoped and case-insensitive. All methods must
// be safe for concurrent use.
type AccountStore interface {
	GetByEmail(ctx context.Context, tenantID, email string) (AccountRecord, error)
	GetByID(ctx context.Context, accountID string) (AccountRecord, error)

	UpdatePasswordHash(ctx context.Context, accountID, hash string) error
	UpdateLastLogin(ctx context.Context, accountID string, at time.Time) error

	// SetMFASecret stores the sealed secret and flips MFAEnabled on.
	SetMFASecret(ctx context.Context, accountID string, sealed []byte) error
	// ClearMFA removes the secret, disables MFA and drops backup codes.
	ClearMFA(ctx context.Context, accountID string) error
	// UpdateTOTPLastStep persists the replay watermark.
	UpdateTOTPLastStep(ctx context.Context, accountID string, step int64) error

	// ReplaceBackupCodes atomically swaps the full backup code set.
	ReplaceBackupCodes(ctx context.Context, accountID string, codes []BackupCodeRecord) error
	GetBackupCodes(ctx context.Context, accountID string) ([]BackupCodeRecord, error)
	// ConsumeBackupCode deletes the code with the given hash if present
	// and reports whether it existed. The check-and-delete must be atomic.
	ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)
}

// SessionMode selects how many concurrent sessions an account may hold.
type SessionMode uint8

const (
	// SessionModeMultiple allows up to MaxSessions concurrent sessions,
	// evicting the oldest when the cap is exceeded.
	SessionModeMultiple SessionMode = iota
	// SessionModeSingle revokes all existing sessions on every login.
	SessionModeSingle
)

// TenantPolicy is the per-tenant session and MFA policy.
type TenantPolicy struct {
	Mode        SessionMode
	MaxSessions int
	RequireMFA  bool
}

// PolicyProvider resolves the policy for a tenant. Returning an error
// makes the engine fall back to the configured default policy.
type PolicyProvider interface {
	TenantPolicy(ctx context.Context, tenantID string) (TenantPolicy, error)
}

// DeviceMetadata describes the client a session was issued to.
type DeviceMetadata struct {
	Name      string
	UserAgent string
}

// TokenPair is an access/refresh token pair from a completed login,
// MFA confirmation or rotation.
type TokenPair struct {
	AccessToken  string
	RefreshToken string

	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Notices attached to otherwise successful results.
const (
	NoticeNewIP          = "new_ip"
	NoticeHighIPVelocity = "high_ip_velocity"
	NoticeLowBackupCodes = "low_backup_codes"
	NoticeSessionEvicted = "session_evicted"
)

// LoginResult is returned by Login. When MFARequired is set the pair is
// empty and PendingToken must be exchanged via VerifyMFA or UseBackupCode.
type LoginResult struct {
	Tokens TokenPair

	MFARequired  bool
	PendingToken string

	// Notices carry advisory signals (new IP, evictions). They never
	// change the outcome of the login.
	Notices []string
}

// MFAResult is returned by VerifyMFA and UseBackupCode.
type MFAResult struct {
	Tokens TokenPair

	// BackupCodesRemaining is set after a backup code was consumed.
	BackupCodesRemaining int

	Notices []string
}

// MFASetup is the output of SetupMFA. Nothing is persisted until the
// candidate secret is confirmed with a valid code.
type MFASetup struct {
	// Secret is the base32 candidate secret, pass it back to ConfirmMFA.
	Secret string
	// OTPAuthURL is the otpauth:// provisioning URI for QR rendering.
	OTPAuthURL string
	// ManualEntryKey is the secret grouped for manual typing.
	ManualEntryKey string
}

// ConfirmMFAResult carries the one-time plaintext backup codes.
type ConfirmMFAResult struct {
	BackupCodes []string
}

// AccessIdentity is the verified subject of an access token.
type AccessIdentity struct {
	AccountID string
	TenantID  string
	SessionID string
	ExpiresAt time.Time
}
