// Package totp generates and validates RFC 6238 time-based one-time
// passwords, reporting the matched time step so callers can reject
// replays inside the skew window.
package totp

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const period = 30 // seconds, RFC 6238 default

var ErrSecretInvalid = errors.New("totp: secret invalid")

// Key is a freshly generated candidate secret with its provisioning data.
type Key struct {
	// Secret is the base32 secret without padding.
	Secret string
	// URL is the otpauth:// provisioning URI for QR rendering.
	URL string
	// ManualEntryKey is the secret in groups of four for manual typing.
	ManualEntryKey string
}

// Generate creates a new secret provisioned for issuer/account.
// Nothing is persisted here; the caller decides when the secret sticks.
func Generate(issuer, account string) (Key, error) {
	k, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Key{}, fmt.Errorf("totp: generate: %w", err)
	}
	return Key{
		Secret:         k.Secret(),
		URL:            k.URL(),
		ManualEntryKey: groupSecret(k.Secret()),
	}, nil
}

// Validate checks code against secret at time now, accepting skew steps
// either side. On a match it returns the matched step so the caller can
// persist it as a replay watermark.
func Validate(code, secret string, now time.Time, skew uint) (bool, int64, error) {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false, 0, nil
	}

	base := now.Unix() / period
	for offset := -int64(skew); offset <= int64(skew); offset++ {
		step := base + offset
		want, err := totp.GenerateCodeCustom(secret, time.Unix(step*period, 0), totp.ValidateOpts{
			Period:    period,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return false, 0, fmt.Errorf("%w: %v", ErrSecretInvalid, err)
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true, step, nil
		}
	}
	return false, 0, nil
}

// CodeAt derives the code for an arbitrary time. Test helper and
// provisioning preview.
func CodeAt(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}

func groupSecret(secret string) string {
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
