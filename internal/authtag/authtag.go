// Package authtag implements the keyed MAC envelope of spec §4.2: a 256-bit
// keyed hash over the canonical JSON serialization of a message, with an
// optional expiry. It uses BLAKE2b in keyed mode (golang.org/x/crypto)
// rather than hand-rolled HMAC — BLAKE2b supports a key natively, so no
// separate HMAC construction is needed to get a 256-bit authenticator.
package authtag

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrMismatch is returned when a recomputed tag does not match.
var ErrMismatch = errors.New("authtag: mismatch")

// ErrExpired is returned when the envelope's expiry has passed.
var ErrExpired = errors.New("authtag: expired")

// KeySize is the required length of a Key in bytes (256 bits).
const KeySize = 32

// Key is the shared symmetric secret used to tag and verify messages.
type Key struct {
	secret [KeySize]byte
}

// NewKey wraps raw key bytes. raw must be exactly KeySize bytes.
func NewKey(raw []byte) (Key, error) {
	var k Key
	if len(raw) != KeySize {
		return k, errors.New("authtag: key must be 32 bytes")
	}
	copy(k.secret[:], raw)
	return k, nil
}

// NewRandomKey generates a new random key using a CSPRNG.
func NewRandomKey() (Key, error) {
	var k Key
	raw := make([]byte, KeySize)
	if _, err := rand.Read(raw); err != nil {
		return k, err
	}
	copy(k.secret[:], raw)
	return k, nil
}

// Bytes returns the raw key material.
func (k Key) Bytes() []byte {
	out := make([]byte, KeySize)
	copy(out, k.secret[:])
	return out
}

// Base64 encodes the key for storage in the discovery file.
func (k Key) Base64() string {
	return base64.StdEncoding.EncodeToString(k.secret[:])
}

// KeyFromBase64 decodes a key previously produced by Base64.
func KeyFromBase64(s string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Key{}, err
	}
	return NewKey(raw)
}

// Tag computes the base64-encoded keyed hash over payload.
func (k Key) Tag(payload []byte) (string, error) {
	h, err := blake2b.New256(k.secret[:])
	if err != nil {
		return "", err
	}
	h.Write(payload)
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the tag over payload and compares it to tag in constant
// time. A non-nil expiresAt is checked against now (seconds since epoch);
// verification fails once now exceeds it.
func (k Key) Verify(payload []byte, tag string, expiresAt *int64, now time.Time) error {
	if expiresAt != nil && now.Unix() > *expiresAt {
		return ErrExpired
	}
	expected, err := k.Tag(payload)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(tag)) != 1 {
		return ErrMismatch
	}
	return nil
}
