package ssh_remote

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeys verifies server keys against a known_hosts file. With trust on
// first use enabled, keys of hosts absent from the file are accepted and
// recorded; a host whose recorded key differs is always rejected.
type HostKeys struct {
	log  *zap.Logger
	path string
	tofu bool

	mu      sync.Mutex
	trusted map[string]ssh.PublicKey
}

func NewHostKeys(log *zap.Logger, path string, tofu bool) *HostKeys {
	return &HostKeys{log: log, path: path, tofu: tofu, trusted: map[string]ssh.PublicKey{}}
}

func (h *HostKeys) Callback() (ssh.HostKeyCallback, error) {
	if h.tofu {
		if err := os.MkdirAll(filepath.Dir(h.path), 0o700); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(h.path, os.O_CREATE|os.O_RDONLY, 0o600)
		if err != nil {
			return nil, err
		}
		_ = f.Close()
	}

	known, err := knownhosts.New(h.path)
	if err != nil {
		return nil, fmt.Errorf("known hosts %s: %w", h.path, err)
	}
	if !h.tofu {
		return known, nil
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := known(hostname, remote, key)

		var ke *knownhosts.KeyError
		if !errors.As(err, &ke) || len(ke.Want) > 0 {
			return err
		}
		return h.trust(hostname, key)
	}, nil
}

func (h *HostKeys) trust(hostname string, key ssh.PublicKey) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	host := knownhosts.Normalize(hostname)
	if prev, ok := h.trusted[host]; ok {
		if string(prev.Marshal()) != string(key.Marshal()) {
			return fmt.Errorf("host key for %s changed since first use", host)
		}
		return nil
	}

	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintln(f, knownhosts.Line([]string{host}, key)); err != nil {
		return err
	}

	h.trusted[host] = key
	h.log.Warn("trusting host key on first use",
		zap.String("host", host),
		zap.String("fingerprint", ssh.FingerprintSHA256(key)),
	)
	return nil
}
