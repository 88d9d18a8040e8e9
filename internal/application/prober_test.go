package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/davarch/rollout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stopped is a clock that never advances, so only the sleeps count.
func stopped() time.Time { return time.Unix(1_700_000_000, 0) }

// slowFetcher fails after advancing a fake clock by cost.
type slowFetcher struct {
	now   time.Time
	cost  time.Duration
	calls int
}

func (f *slowFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.calls++
	f.now = f.now.Add(f.cost)
	return "", errors.New("request timed out")
}

func (f *slowFetcher) clock() time.Time { return f.now }

func TestHealthPoll_NeverHealthyTimesOutWithinOneInterval(t *testing.T) {
	cases := []struct{ timeout, interval time.Duration }{
		{10 * time.Second, 3 * time.Second},
		{9 * time.Second, 3 * time.Second},
		{time.Second, 5 * time.Second},
		{120 * time.Second, 5 * time.Second},
		{7 * time.Second, time.Second},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s", tc.timeout, tc.interval), func(t *testing.T) {
			p := NewProber(zap.NewNop()).WithTimer(&instantTimer{}).WithClock(stopped)
			f := &domain.DownFetcher{}

			res := p.Probe(context.Background(), f, "http://x/health", tc.timeout, tc.interval)

			assert.Equal(t, domain.OutcomeTimeout, res.Outcome)
			assert.GreaterOrEqual(t, res.Elapsed, tc.timeout)
			assert.Less(t, res.Elapsed, tc.timeout+tc.interval)
			assert.Equal(t, f.Calls, res.Attempts)
		})
	}
}

func TestHealthPoll_HealthyFromStart(t *testing.T) {
	for _, interval := range []time.Duration{time.Second, 5 * time.Second} {
		p := NewProber(zap.NewNop()).WithTimer(&instantTimer{})
		f := &domain.MockFetcher{Body: `{"status":"UP"}`}

		res := p.Probe(context.Background(), f, "http://x/health", 30*time.Second, interval)

		assert.True(t, res.Healthy())
		assert.Less(t, res.Elapsed, interval)
		assert.Equal(t, 1, res.Attempts)
		assert.Equal(t, `{"status":"UP"}`, res.LastResponseBody)
	}
}

func TestHealthPoll_HealthyAfterFailures(t *testing.T) {
	p := NewProber(zap.NewNop()).WithTimer(&instantTimer{}).WithClock(stopped)
	f := &domain.MockFetcher{Body: "ok", Errs: []error{errors.New("refused"), errors.New("503")}}

	res := p.Probe(context.Background(), f, "http://x/health", 30*time.Second, 5*time.Second)

	assert.True(t, res.Healthy())
	assert.Equal(t, 10*time.Second, res.Elapsed)
	assert.Equal(t, 3, res.Attempts)
}

func TestHealthPoll_ZeroTimeoutTriesOnce(t *testing.T) {
	p := NewProber(zap.NewNop()).WithTimer(&instantTimer{}).WithClock(stopped)
	f := &domain.DownFetcher{}

	res := p.Probe(context.Background(), f, "http://x/health", 0, 5*time.Second)

	assert.Equal(t, domain.OutcomeTimeout, res.Outcome)
	assert.Equal(t, 1, f.Calls)
	assert.Zero(t, res.Elapsed)
}

func TestHealthPoll_RequestTimeCountsAgainstTimeout(t *testing.T) {
	f := &slowFetcher{now: stopped(), cost: 3 * time.Second}
	p := NewProber(zap.NewNop()).WithTimer(&instantTimer{}).WithClock(f.clock)

	res := p.Probe(context.Background(), f, "http://x/health", 9*time.Second, 3*time.Second)

	assert.Equal(t, domain.OutcomeTimeout, res.Outcome)
	assert.Equal(t, 2, f.calls)
	assert.GreaterOrEqual(t, res.Elapsed, 9*time.Second)
	assert.Less(t, res.Elapsed, 12*time.Second)
}

func TestHealthPoll_CancelledByContext(t *testing.T) {
	p := NewProber(zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := p.Probe(ctx, &domain.DownFetcher{}, "http://x/health", time.Hour, 10*time.Millisecond)

	require.Equal(t, domain.OutcomeTimeout, res.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestVerify_ViaHost(t *testing.T) {
	direct := &domain.DownFetcher{}
	remote := &domain.MockFetcher{Body: "up"}
	var via domain.ConnectionProfile

	v := NewVerifier(NewProber(zap.NewNop()).WithTimer(&instantTimer{}), direct,
		func(p domain.ConnectionProfile) domain.Fetcher {
			via = p
			return remote
		}, 10*time.Second, time.Second)

	res := v.Verify(context.Background(), domain.ConnectionProfile{Host: "10.0.0.10", AppPort: 8080, HealthPath: "/health", ProbeVia: "bastion"})

	assert.True(t, res.Healthy())
	assert.Equal(t, "http://10.0.0.10:8080/health", res.CheckedURL)
	assert.Equal(t, "bastion", via.Host)
	assert.Zero(t, direct.Calls)
}
