// Package password hashes and verifies credentials with argon2id in PHC
// string format.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrHashMalformed    = errors.New("password: malformed hash")
	ErrIncompatibleHash = errors.New("password: incompatible hash version")
	ErrWeakParams       = errors.New("password: parameters below minimum")
)

// Config holds argon2id cost parameters.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns interactive-login cost parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate rejects parameters weak enough to undermine offline resistance.
func (c Config) Validate() error {
	if c.Memory < 19*1024 || c.Time < 2 || c.Parallelism < 1 ||
		c.SaltLength < 16 || c.KeyLength < 32 {
		return ErrWeakParams
	}
	return nil
}

// Verifier hashes and checks passwords. It precomputes a dummy hash so
// verification against a nonexistent account costs the same as a real
// mismatch.
type Verifier struct {
	cfg   Config
	dummy string
}

// NewVerifier validates cfg and prepares the dummy hash.
func NewVerifier(cfg Config) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &Verifier{cfg: cfg}
	dummy, err := v.Hash("authcore-dummy-credential")
	if err != nil {
		return nil, err
	}
	v.dummy = dummy
	return v, nil
}

// Hash derives an argon2id hash and encodes it as a PHC string.
func (v *Verifier) Hash(plaintext string) (string, error) {
	salt := make([]byte, v.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: salt generation: %w", err)
	}
	key := argon2.IDKey([]byte(plaintext), salt, v.cfg.Time, v.cfg.Memory, v.cfg.Parallelism, v.cfg.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, v.cfg.Memory, v.cfg.Time, v.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plaintext matches the PHC-encoded hash.
// The comparison is constant time over the derived key.
func (v *Verifier) Verify(plaintext, encoded string) (bool, error) {
	p, salt, key, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	derived := argon2.IDKey([]byte(plaintext), salt, p.Time, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(derived, key) == 1, nil
}

// VerifyDummy burns the same work as a real verification and always
// reports a mismatch. Call it when the account lookup missed.
func (v *Verifier) VerifyDummy(plaintext string) {
	_, _ = v.Verify(plaintext, v.dummy)
}

// NeedsRehash reports whether the stored hash was produced with weaker
// parameters than the current configuration.
func (v *Verifier) NeedsRehash(encoded string) bool {
	p, salt, key, err := decodePHC(encoded)
	if err != nil {
		return true
	}
	return p.Memory < v.cfg.Memory || p.Time < v.cfg.Time ||
		p.Parallelism < v.cfg.Parallelism ||
		uint32(len(salt)) < v.cfg.SaltLength || uint32(len(key)) < v.cfg.KeyLength
}

func decodePHC(encoded string) (Config, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return Config{}, nil, nil, ErrHashMalformed
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Config{}, nil, nil, ErrHashMalformed
	}
	if version != argon2.Version {
		return Config{}, nil, nil, ErrIncompatibleHash
	}

	var p Config
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return Config{}, nil, nil, ErrHashMalformed
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Config{}, nil, nil, ErrHashMalformed
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Config{}, nil, nil, ErrHashMalformed
	}
	if len(salt) == 0 || len(key) == 0 {
		return Config{}, nil, nil, ErrHashMalformed
	}
	return p, salt, key, nil
}
