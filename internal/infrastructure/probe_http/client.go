package probe_http

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/davarch/rollout/internal/domain"
)

const maxBody = 64 << 10

// Client reads health endpoints directly from this process.
type Client struct {
	hc *http.Client
}

func New(timeout time.Duration) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		DisableKeepAlives:   true,
	}

	return &Client{hc: &http.Client{Transport: tr, Timeout: timeout}}
}

// Fetch issues one unauthenticated GET. Any non-2xx status is an error; the
// body is returned either way for diagnostics.
func (c *Client) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	body := strings.TrimSpace(string(b))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, fmt.Errorf("health %s", resp.Status)
	}
	return body, nil
}

// Remote reads health endpoints with curl on a host that can route to the
// target when this process cannot.
type Remote struct {
	ch      domain.RemoteChannel
	via     domain.ConnectionProfile
	timeout time.Duration
}

func NewRemote(ch domain.RemoteChannel, via domain.ConnectionProfile, timeout time.Duration) *Remote {
	return &Remote{ch: ch, via: via, timeout: timeout}
}

func (r *Remote) Fetch(ctx context.Context, url string) (string, error) {
	secs := int(r.timeout / time.Second)
	if secs < 1 {
		secs = 1
	}

	res, err := r.ch.Run(ctx, r.via, domain.Command{
		Args: []string{"curl", "-fsS", "--max-time", strconv.Itoa(secs), "-H", "Accept: application/json", url},
	})
	if err != nil {
		return "", err
	}
	body := strings.TrimSpace(res.Stdout)
	if res.ExitCode != 0 {
		return body, fmt.Errorf("curl exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return body, nil
}
