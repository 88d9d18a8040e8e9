package application

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/rollout/internal/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// instantTimer fires immediately so health-poll budgets are accounted without
// sleeping.
type instantTimer struct{ c chan time.Time }

func (t *instantTimer) Start(time.Duration) {
	t.c = make(chan time.Time, 1)
	t.c <- time.Time{}
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

type harness struct {
	remote   *domain.MockRemote
	images   *domain.MockExporter
	builds   *domain.MockBuildLog
	archive  *domain.MockArchive
	approver *domain.MockApprover
	lock     *domain.MockLock
	note     *domain.MockNotifier
	branches map[string]string
	envs     map[string]domain.ConnectionProfile
	exec     *Executor
	dir      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		remote:   domain.NewMockRemote(),
		images:   &domain.MockExporter{},
		builds:   &domain.MockBuildLog{},
		archive:  &domain.MockArchive{Paths: map[int64]string{}},
		approver: &domain.MockApprover{},
		lock:     &domain.MockLock{},
		note:     &domain.MockNotifier{},
		dir:      t.TempDir(),
		branches: map[string]string{"main": "prod", "develop": "uat"},
		envs: map[string]domain.ConnectionProfile{
			"test": {Host: "10.0.0.10", AppPort: 8080, Method: domain.MethodJar, HealthPath: "/health"},
			"uat":  {Host: "10.0.0.11", AppPort: 8080, Method: domain.MethodContainer, ContainerMode: domain.ContainerRegistry, HealthPath: "/health"},
			"prod": {Host: "10.0.1.10", AppPort: 8080, Method: domain.MethodJar, HealthPath: "/health", RequireApproval: true},
		},
	}
	h.exec = NewExecutor(zap.NewNop(), h.remote, h.images, "orders", JarSettings{}, ContainerSettings{Registry: "registry.local"})
	return h
}

func (h *harness) artifact(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
	return p
}

// seedSuccess records an archived successful jar build.
func (h *harness) seedSuccess(t *testing.T, n int64, env string) string {
	t.Helper()
	p := h.artifact(t, env+"-"+strconv.FormatInt(n, 10)+".jar")
	h.builds.Records = append(h.builds.Records, domain.BuildRecord{
		BuildNumber: n, Job: "orders", Environment: env, Method: domain.MethodJar, Locator: p, Result: domain.ResultSuccess, Archived: true,
	})
	h.archive.Paths[n] = p
	return p
}

func (h *harness) verifier(fetch domain.Fetcher, timer backoff.Timer) *Verifier {
	return NewVerifier(NewProber(zap.NewNop()).WithTimer(timer), fetch, nil, 30*time.Second, 5*time.Second)
}

func (h *harness) orchestrator(fetch domain.Fetcher, timer backoff.Timer, timeout time.Duration) *Orchestrator {
	v := h.verifier(fetch, timer)
	return NewOrchestrator(zap.NewNop(), OrchestratorDeps{
		Resolver: NewResolver("test", h.branches, h.envs),
		Lock:     h.lock,
		Approver: h.approver,
		Deployer: h.exec,
		Verifier: v,
		Rollback: NewRollbackManager(zap.NewNop(), h.builds, h.archive, h.exec, v),
		Builds:   h.builds,
		Archive:  h.archive,
		Notifier: h.note,
		Timeout:  timeout,
	})
}
