package metrics_prom

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davarch/rollout/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func report(state domain.RunState, build int64) domain.RunReport {
	now := time.Now()
	return domain.RunReport{
		Job:      "orders",
		State:    state,
		Profile:  domain.ConnectionProfile{Environment: "prod"},
		Record:   domain.BuildRecord{BuildNumber: build},
		Health:   &domain.HealthCheckResult{Outcome: domain.OutcomeHealthy, Elapsed: 5 * time.Second},
		Started:  now.Add(-time.Minute),
		Finished: now,
	}
}

func TestObserve(t *testing.T) {
	r := New()
	r.Observe(report(domain.StateSucceeded, 41))
	r.Observe(report(domain.StateRolledBack, 42))
	r.Observe(report(domain.StateRefused, 43))

	if got := testutil.ToFloat64(r.lastGood.WithLabelValues("orders", "prod")); got != 41 {
		t.Errorf("last success build = %v, want 41", got)
	}
	if got := testutil.ToFloat64(r.rolledBack.WithLabelValues("orders", "prod", "ok")); got != 1 {
		t.Errorf("rollbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.runs.WithLabelValues("orders", "prod", "refused")); got != 1 {
		t.Errorf("refused runs = %v, want 1", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.Observe(report(domain.StateSucceeded, 7))

	path := filepath.Join(t.TempDir(), "rollout.prom")
	if err := r.WriteTextfile(path); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `rollout_last_success_build{env="prod",job="orders"} 7`) {
		t.Errorf("textfile missing gauge:\n%s", b)
	}
}
