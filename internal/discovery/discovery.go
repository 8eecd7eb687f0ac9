// Package discovery implements the server-address advertisement file of
// spec §4.12: the server writes its mixnet address and auth key to a
// well-known path; the client searches a priority-ordered list of
// candidate paths to find it.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvAddressFile overrides the discovery file path for both endpoints.
const EnvAddressFile = "NYMQUEST_SERVER_ADDRESS_FILE"

const fileName = "nymquest_server.addr"

// Record is the content of the discovery file.
type Record struct {
	Address string
	AuthKey string
}

// Encode renders a Record in the "<address>;<auth_key_base64>" wire format.
func (r Record) Encode() string {
	return r.Address + ";" + r.AuthKey
}

// Parse validates and decodes the discovery file's contents, requiring
// exactly two non-empty semicolon-separated fields, the first of which
// looks like a mixnet address (contains a dot).
func Parse(contents string) (Record, error) {
	line := strings.TrimSpace(contents)
	parts := strings.Split(line, ";")
	if len(parts) != 2 {
		return Record{}, fmt.Errorf("discovery: expected exactly two fields, got %d", len(parts))
	}
	addr, key := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if addr == "" || key == "" {
		return Record{}, fmt.Errorf("discovery: fields must be non-empty")
	}
	if !strings.Contains(addr, ".") {
		return Record{}, fmt.Errorf("discovery: address field %q does not look like a mixnet address", addr)
	}
	return Record{Address: addr, AuthKey: key}, nil
}

// Publish writes rec to the server's advertisement path, preferring
// EnvAddressFile, else the platform data directory.
func Publish(rec Record) (string, error) {
	path, err := serverPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("discovery: creating directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(rec.Encode()), 0o644); err != nil {
		return "", fmt.Errorf("discovery: writing file: %w", err)
	}
	return path, nil
}

func serverPath() (string, error) {
	if v, ok := os.LookupEnv(EnvAddressFile); ok && v != "" {
		return v, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("discovery: resolving data dir: %w", err)
	}
	return filepath.Join(dir, "nymquest", "server", fileName), nil
}

// candidatePaths returns the client's search order: env var override,
// platform data dir, the file name in the current working directory (the
// only name searched there), a legacy relative path, then a home-directory
// fallback.
func candidatePaths() []string {
	var out []string
	if v, ok := os.LookupEnv(EnvAddressFile); ok && v != "" {
		out = append(out, v)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		out = append(out, filepath.Join(dir, "nymquest", "server", fileName))
	}
	out = append(out, fileName)
	out = append(out, filepath.Join("..", "server", fileName))
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".nymquest", fileName))
	}
	return out
}

// Discover searches candidatePaths in priority order, returning the first
// one that exists and parses successfully.
func Discover() (Record, string, error) {
	var lastErr error
	for _, path := range candidatePaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		rec, err := Parse(string(data))
		if err != nil {
			lastErr = err
			continue
		}
		return rec, path, nil
	}
	if lastErr != nil {
		return Record{}, "", fmt.Errorf("discovery: found malformed file: %w", lastErr)
	}
	return Record{}, "", fmt.Errorf("discovery: no server address file found")
}

// Remove deletes the server's advertisement file, best-effort, used on
// clean shutdown.
func Remove() error {
	path, err := serverPath()
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
