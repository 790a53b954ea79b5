package session

import (
	"encoding/binary"
	"errors"
)

const codecVersion = 1

var errCodec = errors.New("session: blob corrupt")

// encode packs a Session into the compact binary form stored in Redis.
// Layout: version byte, issuedAt, expiresAt, fingerprint, then
// length-prefixed strings in declaration order.
func encode(s Session) []byte {
	buf := make([]byte, 0, 64+len(s.ID)+len(s.AccountID)+len(s.TenantID)+len(s.DeviceName))
	buf = append(buf, codecVersion)
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.IssuedAt))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.ExpiresAt))
	buf = append(buf, s.FingerprintHash[:]...)
	for _, f := range []string{s.ID, s.AccountID, s.TenantID, s.DeviceName} {
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(f)))
		buf = append(buf, f...)
	}
	return buf
}

func decode(blob []byte) (Session, error) {
	if len(blob) < 1+8+8+32 || blob[0] != codecVersion {
		return Session{}, errCodec
	}
	var s Session
	s.IssuedAt = int64(binary.BigEndian.Uint64(blob[1:9]))
	s.ExpiresAt = int64(binary.BigEndian.Uint64(blob[9:17]))
	copy(s.FingerprintHash[:], blob[17:49])

	rest := blob[49:]
	fields := []*string{&s.ID, &s.AccountID, &s.TenantID, &s.DeviceName}
	for _, f := range fields {
		if len(rest) < 2 {
			return Session{}, errCodec
		}
		n := int(binary.BigEndian.Uint16(rest))
		rest = rest[2:]
		if len(rest) < n {
			return Session{}, errCodec
		}
		*f = string(rest[:n])
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return Session{}, errCodec
	}
	return s, nil
}
