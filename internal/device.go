package internal

import "crypto/sha256"

// Fingerprint hashes user agent and client IP into the session record's
// device fingerprint. Only the hash is stored.
func Fingerprint(userAgent, clientIP string) [32]byte {
	h := sha256.New()
	h.Write([]byte(userAgent))
	h.Write([]byte{0})
	h.Write([]byte(clientIP))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
