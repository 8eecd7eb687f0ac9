package discovery

import (
	"path/filepath"
	"testing"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	rec := Record{Address: "mix.example.com:8443", AuthKey: "YWJjZGVm"}
	parsed, err := Parse(rec.Encode())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != rec {
		t.Errorf("got %+v, want %+v", parsed, rec)
	}
}

func TestParseRejectsWrongFieldCount(t *testing.T) {
	if _, err := Parse("only-one-field"); err == nil {
		t.Error("expected an error for a missing field")
	}
	if _, err := Parse("a;b;c"); err == nil {
		t.Error("expected an error for too many fields")
	}
}

func TestParseRejectsEmptyField(t *testing.T) {
	if _, err := Parse("host.example.com;"); err == nil {
		t.Error("expected an error for an empty auth key field")
	}
}

func TestParseRejectsAddressWithoutDot(t *testing.T) {
	if _, err := Parse("localhost8443;key"); err == nil {
		t.Error("expected an error when the address field doesn't look like an address")
	}
}

func TestParseTrimsWhitespace(t *testing.T) {
	rec, err := Parse("  host.example.com:1;key  \n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rec.Address != "host.example.com:1" || rec.AuthKey != "key" {
		t.Errorf("got %+v, want trimmed fields", rec)
	}
}

func TestPublishDiscoverRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "addr-file")
	t.Setenv(EnvAddressFile, path)

	rec := Record{Address: "mix.example.com:9000", AuthKey: "key123"}
	writtenPath, err := Publish(rec)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if writtenPath != path {
		t.Errorf("got path %s, want %s", writtenPath, path)
	}

	got, foundPath, err := Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if foundPath != path || got != rec {
		t.Errorf("got (%+v, %s), want (%+v, %s)", got, foundPath, rec, path)
	}

	if err := Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, _, err := Discover(); err == nil {
		t.Error("expected Discover to fail once the file has been removed")
	}
}

func TestDiscoverPrefersEnvOverrideOverOtherCandidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "addr-file")
	t.Setenv(EnvAddressFile, path)

	rec := Record{Address: "priority.example.com:1", AuthKey: "k"}
	if _, err := Publish(rec); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	paths := candidatePaths()
	if len(paths) == 0 || paths[0] != path {
		t.Errorf("got candidate paths %v, want env override first", paths)
	}
}
