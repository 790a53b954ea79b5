package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/hireloop/authcore/jwt"
	"github.com/hireloop/authcore/password"
)

/* ==== JWT ==== */

// JWTConfig configures token issuance. See jwt.Config for key material.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// PendingTTL bounds the MFA verification window. Hard capped at
	// 5 minutes by Validate.
	PendingTTL time.Duration

	SigningMethod string // "hs256" or "eddsa"
	Secret        []byte // hs256
	PrivateKey    any    // eddsa: ed25519.PrivateKey
	PublicKey     any    // eddsa: ed25519.PublicKey

	Issuer   string
	Audience string
	// Leeway absorbs clock skew between issuer and verifier.
	Leeway time.Duration
}

/* ==== LOCKOUT ==== */

// LockoutConfig drives the failed-attempt tracker. Counters are kept per
// email and per client IP independently.
type LockoutConfig struct {
	// Threshold is the failure count that triggers a timed lock.
	Threshold int
	// Window is how long a failure streak is remembered.
	Window time.Duration
	// LockDuration is the timed lock TTL once Threshold is reached.
	LockDuration time.Duration

	// DelayAfter is the failure count after which responses are delayed.
	// Zero disables progressive delay.
	DelayAfter int
	// DelayBase doubles per failure past DelayAfter, capped at DelayMax.
	DelayBase time.Duration
	DelayMax  time.Duration
}

/* ==== MFA ==== */

// MFAConfig covers TOTP and backup codes.
type MFAConfig struct {
	Issuer string

	// Skew is the number of 30s steps accepted either side of now.
	Skew uint

	// SecretSealKey encrypts TOTP secrets at rest, must be 32 bytes.
	SecretSealKey []byte

	// MaxAttempts bounds failed verifications per pending login window.
	MaxAttempts int

	BackupCodeCount int
	// BackupCodeLength is the number of random characters per code.
	BackupCodeLength int
	// LowCodeWarning attaches NoticeLowBackupCodes when the remaining
	// count drops to this value or below.
	LowCodeWarning int
}

/* ==== SESSIONS & POLICY ==== */

// SessionConfig tunes the Redis session registry.
type SessionConfig struct {
	KeyPrefix string
}

// PolicyConfig is the default tenant policy, used when no PolicyProvider
// is installed or the provider fails for a tenant.
type PolicyConfig struct {
	Mode        SessionMode
	MaxSessions int
	RequireMFA  bool
}

/* ==== IP REPUTATION ==== */

// IPReputationConfig tunes the advisory recent-IP tracker.
type IPReputationConfig struct {
	Enabled bool
	// MaxTracked bounds the per-account IP set.
	MaxTracked int
	// VelocityWindow and VelocityThreshold flag many distinct IPs in a
	// short span.
	VelocityWindow    time.Duration
	VelocityThreshold int
}

/* ==== AUDIT & METRICS ==== */

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking the auth path.
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// Config is the full engine configuration. Zero fields are filled from
// defaults by the builder; Validate runs after merging.
type Config struct {
	JWT          JWTConfig
	Password     password.Config
	Lockout      LockoutConfig
	MFA          MFAConfig
	Session      SessionConfig
	Policy       PolicyConfig
	IPReputation IPReputationConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

const maxPendingTTL = 5 * time.Minute

// DefaultConfig returns the baseline configuration. Key material is
// always caller supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			PendingTTL:    3 * time.Minute,
			SigningMethod: "hs256",
			Leeway:        30 * time.Second,
		},
		Password: password.DefaultConfig(),
		Lockout: LockoutConfig{
			Threshold:    10,
			Window:       15 * time.Minute,
			LockDuration: 15 * time.Minute,
			DelayAfter:   3,
			DelayBase:    250 * time.Millisecond,
			DelayMax:     3 * time.Second,
		},
		MFA: MFAConfig{
			Issuer:           "authcore",
			Skew:             1,
			MaxAttempts:      5,
			BackupCodeCount:  10,
			BackupCodeLength: 10,
			LowCodeWarning:   2,
		},
		Session: SessionConfig{KeyPrefix: "ac"},
		Policy: PolicyConfig{
			Mode:        SessionModeMultiple,
			MaxSessions: 5,
		},
		IPReputation: IPReputationConfig{
			Enabled:           true,
			MaxTracked:        20,
			VelocityWindow:    time.Hour,
			VelocityThreshold: 5,
		},
		Audit:   AuditConfig{Enabled: true, BufferSize: 1024, DropIfFull: true},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate fails fast on configurations that would weaken the security
// model at runtime.
func (c *Config) Validate() error {
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("%w: jwt hs256 secret must be at least 32 bytes", ErrWeakSecret)
		}
	case "eddsa":
		if c.JWT.PrivateKey == nil || c.JWT.PublicKey == nil {
			return errors.New("jwt: eddsa requires private and public key")
		}
	default:
		return errors.New("jwt: unsupported signing method")
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("jwt: access and refresh TTL must be positive")
	}
	if c.JWT.PendingTTL <= 0 || c.JWT.PendingTTL > maxPendingTTL {
		return errors.New("jwt: pending TTL must be in (0, 5m]")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("jwt: refresh TTL must exceed access TTL")
	}

	if err := c.Password.Validate(); err != nil {
		return err
	}

	if c.Lockout.Threshold < 3 {
		return errors.New("lockout: threshold below 3 invites self-DoS")
	}
	if c.Lockout.Window <= 0 || c.Lockout.LockDuration <= 0 {
		return errors.New("lockout: window and lock duration must be positive")
	}
	if c.Lockout.DelayAfter > 0 && c.Lockout.DelayBase <= 0 {
		return errors.New("lockout: delay base must be positive when delay is enabled")
	}

	if len(c.MFA.SecretSealKey) != 0 && len(c.MFA.SecretSealKey) != 32 {
		return fmt.Errorf("%w: mfa secret seal key must be 32 bytes", ErrWeakSecret)
	}
	if c.MFA.MaxAttempts <= 0 {
		return errors.New("mfa: max attempts must be positive")
	}
	if c.MFA.BackupCodeCount < 4 || c.MFA.BackupCodeLength < 8 {
		return errors.New("mfa: backup code parameters below minimum")
	}

	if c.Policy.Mode == SessionModeMultiple && c.Policy.MaxSessions <= 0 {
		return errors.New("policy: max sessions must be positive in multiple mode")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit: buffer size must be positive")
	}
	return nil
}

func (c *Config) jwtManagerConfig() jwt.Config {
	return jwt.Config{
		SigningMethod: c.JWT.SigningMethod,
		Secret:        c.JWT.Secret,
		PrivateKey:    c.JWT.PrivateKey,
		PublicKey:     c.JWT.PublicKey,
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		Leeway:        c.JWT.Leeway,
	}
}
