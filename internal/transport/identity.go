package transport

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// newEphemeralID returns a random per-process identity string, the way a
// mixnet client generates a fresh sender identity per connection attempt.
func newEphemeralID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// newIdentityStorage creates a fresh, empty storage directory for one
// ephemeral identity under base, mirroring the mixnet SDK's per-client
// storage requirement, and returns its path.
func newIdentityStorage(base, id string) (string, error) {
	dir := filepath.Join(base, fmt.Sprintf("identity-%s", id))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
