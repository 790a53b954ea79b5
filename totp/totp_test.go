package totp

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	k, err := Generate("hireloop", "user@example.com")
	require.NoError(t, err)

	assert.NotEmpty(t, k.Secret)
	assert.True(t, strings.HasPrefix(k.URL, "otpauth://totp/"))
	assert.Contains(t, k.URL, "issuer=hireloop")
	assert.Equal(t, k.Secret, strings.ReplaceAll(k.ManualEntryKey, " ", ""))
}

func TestValidateCurrentCode(t *testing.T) {
	k, err := Generate("hireloop", "a@b.c")
	require.NoError(t, err)

	now := time.Now()
	code, err := CodeAt(k.Secret, now)
	require.NoError(t, err)

	ok, step, err := Validate(code, k.Secret, now, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, now.Unix()/30, step)
}

func TestValidateSkewWindow(t *testing.T) {
	k, err := Generate("hireloop", "a@b.c")
	require.NoError(t, err)

	now := time.Now()
	prev, err := CodeAt(k.Secret, now.Add(-30*time.Second))
	require.NoError(t, err)

	ok, step, err := Validate(prev, k.Secret, now, 1)
	require.NoError(t, err)
	assert.True(t, ok, "previous-step code should pass with skew 1")
	assert.Equal(t, now.Unix()/30-1, step)

	ok, _, err = Validate(prev, k.Secret, now, 0)
	require.NoError(t, err)
	assert.False(t, ok, "previous-step code should fail with skew 0")
}

func TestValidateWrongCode(t *testing.T) {
	k, err := Generate("hireloop", "a@b.c")
	require.NoError(t, err)

	ok, _, err := Validate("000000", k.Secret, time.Now(), 1)
	require.NoError(t, err)
	// A fixed code can collide with the real one roughly once per million
	// runs; regenerate if it ever does.
	code, _ := CodeAt(k.Secret, time.Now())
	if code == "000000" {
		t.Skip("collision with generated code")
	}
	assert.False(t, ok)
}

func TestValidateRejectsGarbageInput(t *testing.T) {
	k, err := Generate("hireloop", "a@b.c")
	require.NoError(t, err)

	for _, bad := range []string{"", "123", "1234567", "abc"} {
		ok, _, err := Validate(bad, k.Secret, time.Now(), 1)
		require.NoError(t, err)
		assert.False(t, ok, "input %q", bad)
	}
}

func TestValidateBadSecret(t *testing.T) {
	_, _, err := Validate("123456", "not-base32!!", time.Now(), 1)
	assert.ErrorIs(t, err, ErrSecretInvalid)
}
