// Package internal holds crypto helpers shared by the engine packages.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"strings"
)

// backupCodeAlphabet is 32 characters, so a random byte maps onto it
// without bias. 0, O, 1 and I are excluded as ambiguous.
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewBackupCode returns a code of length random characters, grouped in
// fives for readability ("XXXXX-XXXXX").
func NewBackupCode(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("backup code generation: %w", err)
	}
	var b strings.Builder
	for i, c := range raw {
		if i > 0 && i%5 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(backupCodeAlphabet[int(c)%len(backupCodeAlphabet)])
	}
	return b.String(), nil
}

// CanonicalBackupCode normalizes user input before hashing: uppercase,
// separators and spaces stripped.
func CanonicalBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// HashBackupCode is the storage form of a backup code.
func HashBackupCode(code string) [32]byte {
	return sha256.Sum256([]byte(CanonicalBackupCode(code)))
}
