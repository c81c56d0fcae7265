package logging

import (
	"crypto/rand"
	"encoding/hex"
)

// NewTraceID returns a correlation id of the form "<prefix>-<12 hex chars>".
// Trace ids are opaque strings; they carry no ordering or timing information.
func NewTraceID(prefix string) string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// rand.Read on crypto/rand never fails on supported platforms; keep a
		// stable fallback anyway so callers always get a usable id.
		return prefix + "-000000000000"
	}
	return prefix + "-" + hex.EncodeToString(buf[:])
}
