package internal

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrSealCorrupt = errors.New("sealed secret corrupt or wrong key")

// Sealer encrypts TOTP secrets before they reach the account store, so a
// database leak alone does not hand out second factors. Nil Sealer means
// sealing is disabled and secrets pass through unchanged.
type Sealer struct {
	key []byte
}

// NewSealer requires a 32-byte key. A nil or empty key returns a nil
// Sealer, which is valid and disables sealing.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) == 0 {
		return nil, nil
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("seal key must be %d bytes", chacha20poly1305.KeySize)
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext with a random nonce prepended to the box.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if s == nil {
		return plaintext, nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a box produced by Seal.
func (s *Sealer) Open(box []byte) ([]byte, error) {
	if s == nil {
		return box, nil
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(box) < aead.NonceSize() {
		return nil, ErrSealCorrupt
	}
	plaintext, err := aead.Open(nil, box[:aead.NonceSize()], box[aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrSealCorrupt
	}
	return plaintext, nil
}
