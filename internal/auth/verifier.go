// Package auth validates the (device_id, timestamp, token) tuples mobile
// clients present when establishing a WebSocket session.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SkewWindow is the maximum allowed drift between a client's timestamp and
// the server clock, in either direction.
const SkewWindow = 300_000 * time.Millisecond

// Verify reports whether token is a valid credential for device_id at
// timestampMs against sharedSecret, as observed at nowMs.
//
// It fails closed: any mismatch, on either the skew check or both hash
// branches, returns false with no indication of which check failed.
func Verify(deviceID string, timestampMs int64, token string, sharedSecret string, nowMs int64) bool {
	delta := nowMs - timestampMs
	if delta < 0 {
		delta = -delta
	}
	if time.Duration(delta)*time.Millisecond > SkewWindow {
		return false
	}

	want := primaryHash(deviceID, timestampMs, sharedSecret)
	if constantTimeEqual(token, want) {
		return true
	}

	legacy := legacyHash(fmt.Sprintf("%s:%d:%s", deviceID, timestampMs, sharedSecret))
	return constantTimeEqual(token, legacy)
}

// primaryHash computes SHA256(device_id || ":" || timestamp_ms || ":" || shared_secret)
// hex-encoded lowercase.
func primaryHash(deviceID string, timestampMs int64, sharedSecret string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", deviceID, timestampMs, sharedSecret)))
	return hex.EncodeToString(sum[:])
}

// legacyHash implements the fixed-seed rolling hash kept for backward
// compatibility with older clients: h := 0; for each byte b: h := ((h<<5) - h + b) & 0xFFFFFFFF.
func legacyHash(input string) string {
	var h uint32
	for i := 0; i < len(input); i++ {
		h = (h<<5 - h + uint32(input[i])) & 0xFFFFFFFF
	}
	return fmt.Sprintf("%x", h)
}

// constantTimeEqual avoids early-exit string comparison for hash outputs.
// Both values are non-secret digests compared against an untrusted token,
// so plain length+byte comparison without crypto/subtle is acceptable here,
// but we keep the comparison total (no short-circuit on the first byte).
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
