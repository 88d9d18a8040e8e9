package ssh_remote

import (
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

func newKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	k, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return k
}

var addr = &net.TCPAddr{IP: net.ParseIP("10.0.0.10"), Port: 22}

func TestHostKeys_TOFUTrustsUnknownHostOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	h := NewHostKeys(zap.NewNop(), path, true)

	cb, err := h.Callback()
	if err != nil {
		t.Fatal(err)
	}

	k1 := newKey(t)
	if err := cb("10.0.0.10:22", addr, k1); err != nil {
		t.Fatalf("first contact should be trusted: %v", err)
	}
	if err := cb("10.0.0.10:22", addr, k1); err != nil {
		t.Fatalf("same key should stay trusted: %v", err)
	}
	if err := cb("10.0.0.10:22", addr, newKey(t)); err == nil {
		t.Fatal("changed key must be rejected")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(b), "\n"); n != 1 {
		t.Fatalf("expected one known_hosts line, got %d", n)
	}

	// a fresh callback reads the recorded key from disk
	cb2, err := NewHostKeys(zap.NewNop(), path, false).Callback()
	if err != nil {
		t.Fatal(err)
	}
	if err := cb2("10.0.0.10:22", addr, k1); err != nil {
		t.Fatalf("recorded key should verify strictly: %v", err)
	}
}

func TestHostKeys_StrictRejectsUnknownHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "known_hosts")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	cb, err := NewHostKeys(zap.NewNop(), path, false).Callback()
	if err != nil {
		t.Fatal(err)
	}
	if err := cb("10.0.0.10:22", addr, newKey(t)); err == nil {
		t.Fatal("strict policy must reject unknown host")
	}
}

func TestHostKeys_StrictNeedsKnownHostsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing")
	if _, err := NewHostKeys(zap.NewNop(), path, false).Callback(); err == nil {
		t.Fatal("expected error for missing known_hosts")
	}
}
