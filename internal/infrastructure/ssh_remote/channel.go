package ssh_remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/davarch/rollout/internal/domain"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Channel runs commands and transfers files over SSH. Calls are synchronous
// and never retried; one client is kept per (principal, host).
type Channel struct {
	log     *zap.Logger
	keys    *HostKeys
	timeout time.Duration

	mu       sync.Mutex
	callback ssh.HostKeyCallback
	clients  map[string]*ssh.Client
}

func New(log *zap.Logger, keys *HostKeys, timeout time.Duration) *Channel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Channel{log: log, keys: keys, timeout: timeout, clients: map[string]*ssh.Client{}}
}

func (c *Channel) Ping(ctx context.Context, p domain.ConnectionProfile) error {
	res, err := c.Run(ctx, p, domain.Command{Args: []string{"echo", "ok"}})
	if err != nil {
		return domain.Connectivity("ping "+p.Host, err)
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) != "ok" {
		return domain.Connectivity("ping "+p.Host, fmt.Errorf("unexpected reply %q (exit %d)", res.Stdout, res.ExitCode))
	}
	return nil
}

func (c *Channel) Run(ctx context.Context, p domain.ConnectionProfile, cmd domain.Command) (domain.CommandResult, error) {
	client, err := c.client(ctx, p)
	if err != nil {
		return domain.CommandResult{}, err
	}

	sess, err := client.NewSession()
	if err != nil {
		c.evict(p)
		return domain.CommandResult{}, domain.Connectivity("open session", err)
	}
	defer func() { _ = sess.Close() }()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr
	if cmd.Stdin != nil {
		sess.Stdin = bytes.NewReader(cmd.Stdin)
	}

	line := Render(cmd)
	c.log.Debug("remote exec", zap.String("host", p.Host), zap.Strings("args", cmd.Args))

	done := make(chan error, 1)
	go func() { done <- sess.Run(line) }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return domain.CommandResult{ExitCode: -1}, ctx.Err()
	case err = <-done:
	}

	res := domain.CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exit *ssh.ExitError
	if errors.As(err, &exit) {
		res.ExitCode = exit.ExitStatus()
		return res, nil
	}

	c.evict(p)
	res.ExitCode = -1
	return res, domain.Connectivity("exec", err)
}

func (c *Channel) Copy(ctx context.Context, p domain.ConnectionProfile, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return domain.Configuration("copy", err)
	}
	defer func() { _ = src.Close() }()

	client, err := c.client(ctx, p)
	if err != nil {
		return err
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		c.evict(p)
		return domain.Connectivity("sftp", err)
	}
	defer func() { _ = sc.Close() }()

	dst, err := sc.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("open %s:%s: %w", p.Host, remotePath, err)
	}

	n, err := dst.ReadFrom(src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s:%s: %w", p.Host, remotePath, err)
	}

	c.log.Debug("copied", zap.String("host", p.Host), zap.String("to", remotePath), zap.Int64("bytes", n))
	return nil
}

func (c *Channel) Remove(ctx context.Context, p domain.ConnectionProfile, remotePath string) error {
	client, err := c.client(ctx, p)
	if err != nil {
		return err
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		c.evict(p)
		return domain.Connectivity("sftp", err)
	}
	defer func() { _ = sc.Close() }()

	if err := sc.Remove(remotePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for k, cl := range c.clients {
		errs = append(errs, cl.Close())
		delete(c.clients, k)
	}
	return errors.Join(errs...)
}

func key(p domain.ConnectionProfile) string {
	return p.Principal + "@" + address(p)
}

func address(p domain.ConnectionProfile) string {
	port := p.SSHPort
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(port))
}

func (c *Channel) evict(p domain.ConnectionProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[key(p)]; ok {
		_ = cl.Close()
		delete(c.clients, key(p))
	}
}

func (c *Channel) client(ctx context.Context, p domain.ConnectionProfile) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[key(p)]; ok {
		return cl, nil
	}

	if c.callback == nil {
		cb, err := c.keys.Callback()
		if err != nil {
			return nil, domain.Configuration("host keys", err)
		}
		c.callback = cb
	}

	signer, err := signer(p.Auth)
	if err != nil {
		return nil, domain.Configuration("ssh key", err)
	}

	cfg := &ssh.ClientConfig{
		User:            p.Principal,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: c.callback,
		Timeout:         c.timeout,
	}

	addr := address(p)
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, domain.Connectivity("dial "+addr, err)
	}

	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	sc, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, domain.Connectivity("handshake "+addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	cl := ssh.NewClient(sc, chans, reqs)
	c.clients[key(p)] = cl
	return cl, nil
}

func signer(a domain.Auth) (ssh.Signer, error) {
	pem := a.PrivateKey
	if len(pem) == 0 {
		if a.KeyFile == "" {
			return nil, errors.New("no private key configured")
		}
		b, err := os.ReadFile(a.KeyFile)
		if err != nil {
			return nil, err
		}
		pem = b
	}
	return ssh.ParsePrivateKey(pem)
}
