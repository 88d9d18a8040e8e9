package application

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/rollout/internal/domain"
	"go.uber.org/zap"
)

// budget is a fixed-interval BackOff that accounts the time spent so far,
// sleeps and requests alike, and stops once that reaches limit.
type budget struct {
	interval time.Duration
	limit    time.Duration
	elapsed  time.Duration
}

func (b *budget) NextBackOff() time.Duration {
	if b.elapsed >= b.limit {
		return backoff.Stop
	}
	b.elapsed += b.interval
	return b.interval
}

func (b *budget) Reset() { b.elapsed = 0 }

type Prober struct {
	log   *zap.Logger
	timer backoff.Timer
	now   func() time.Time
}

func NewProber(log *zap.Logger) *Prober {
	return &Prober{log: log, now: time.Now}
}

// WithClock replaces the clock used to time requests.
func (p *Prober) WithClock(now func() time.Time) *Prober {
	p.now = now
	return p
}

// WithTimer replaces the sleep timer; nil restores the real one.
func (p *Prober) WithTimer(t backoff.Timer) *Prober {
	p.timer = t
	return p
}

// Probe polls url through f until it answers or the accumulated wait reaches
// timeout. Request time counts against timeout, so wall time stays below
// timeout plus one interval plus one request. The result is reported, never
// turned into an error.
func (p *Prober) Probe(ctx context.Context, f domain.Fetcher, url string, timeout, interval time.Duration) domain.HealthCheckResult {
	if interval <= 0 {
		interval = time.Second
	}

	res := domain.HealthCheckResult{CheckedURL: url, Outcome: domain.OutcomeTimeout}
	b := &budget{interval: interval, limit: timeout}

	op := func() error {
		res.Attempts++

		start := p.now()
		body, err := f.Fetch(ctx, url)
		b.elapsed += p.now().Sub(start)
		res.LastResponseBody = body
		if err != nil {
			return err
		}
		res.Outcome = domain.OutcomeHealthy
		return nil
	}

	notify := func(err error, next time.Duration) {
		p.log.Debug("health probe failed",
			zap.String("url", url),
			zap.Int("attempt", res.Attempts),
			zap.Duration("elapsed", b.elapsed),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotifyWithTimer(op, backoff.WithContext(b, ctx), notify, p.timer)
	res.Elapsed = b.elapsed
	if err != nil && ctx.Err() != nil {
		p.log.Warn("health probe aborted", zap.String("url", url), zap.Error(ctx.Err()))
	}
	return res
}

// Verifier probes a deployed profile's health endpoint, directly or through
// the profile's probe_via host.
type Verifier struct {
	prober   *Prober
	direct   domain.Fetcher
	viaHost  func(domain.ConnectionProfile) domain.Fetcher
	timeout  time.Duration
	interval time.Duration
}

func NewVerifier(p *Prober, direct domain.Fetcher, viaHost func(domain.ConnectionProfile) domain.Fetcher, timeout, interval time.Duration) *Verifier {
	return &Verifier{prober: p, direct: direct, viaHost: viaHost, timeout: timeout, interval: interval}
}

func (v *Verifier) Verify(ctx context.Context, p domain.ConnectionProfile) domain.HealthCheckResult {
	f := v.direct
	if p.ProbeVia != "" && v.viaHost != nil {
		via := p
		via.Host = p.ProbeVia
		f = v.viaHost(via)
	}
	return v.prober.Probe(ctx, f, HealthURL(p), v.timeout, v.interval)
}

func HealthURL(p domain.ConnectionProfile) string {
	port := p.AppPort
	if port == 0 {
		port = 80
	}
	return fmt.Sprintf("http://%s/%s", net.JoinHostPort(p.Host, strconv.Itoa(port)), strings.TrimPrefix(p.HealthPath, "/"))
}
