// Package uniqueid generates short identifiers for stream sessions.
package uniqueid

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"time"
)

// UniqueId returns a 16 character URL-safe id: 6 bytes of millisecond
// timestamp followed by 6 random bytes.
func UniqueId() string {
	var b [12]byte

	ts := uint64(time.Now().UnixMilli())
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], ts)
	copy(b[:6], tsBuf[2:])

	if _, err := rand.Read(b[6:]); err != nil {
		panic(err)
	}

	return base64.RawURLEncoding.EncodeToString(b[:])
}
