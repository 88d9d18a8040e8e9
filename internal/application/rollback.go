package application

import (
	"context"
	"fmt"

	"github.com/davarch/rollout/internal/domain"
	"go.uber.org/zap"
)

// RollbackManager redeploys the newest successful build below the failed
// one onto the same profile. It runs at most once per failed run and never
// rolls back a rollback.
type RollbackManager struct {
	log      *zap.Logger
	builds   domain.BuildLog
	archive  domain.ArtifactArchive
	deployer Deployer
	verifier *Verifier
}

// NewRollbackManager builds a manager; a nil verifier skips the post-rollback
// health check.
func NewRollbackManager(log *zap.Logger, builds domain.BuildLog, archive domain.ArtifactArchive, d Deployer, v *Verifier) *RollbackManager {
	return &RollbackManager{log: log, builds: builds, archive: archive, deployer: d, verifier: v}
}

func (m *RollbackManager) Candidate(ctx context.Context, job, env string, current int64) (domain.BuildRecord, error) {
	rec, ok, err := m.builds.LatestSuccessBelow(ctx, job, env, current)
	if err != nil {
		return domain.BuildRecord{}, fmt.Errorf("read build lineage: %w", err)
	}
	if !ok {
		return domain.BuildRecord{}, &domain.StageError{
			Kind: domain.ErrNoPriorBuild,
			Op:   "rollback",
			Err:  fmt.Errorf("job %s env %s below build %d", job, env, current),
		}
	}
	return rec, nil
}

func (m *RollbackManager) Rollback(ctx context.Context, p domain.ConnectionProfile, job string, current int64) (domain.BuildRecord, error) {
	rec, err := m.Candidate(ctx, job, p.Environment, current)
	if err != nil {
		return domain.BuildRecord{}, err
	}
	return m.Redeploy(ctx, p, rec)
}

// Redeploy puts an archived build back on p.
func (m *RollbackManager) Redeploy(ctx context.Context, p domain.ConnectionProfile, rec domain.BuildRecord) (domain.BuildRecord, error) {
	locator, err := m.archive.Fetch(ctx, rec)
	if err != nil {
		return rec, domain.Configuration("fetch archived artifact", err)
	}
	rec.Locator = locator
	return m.Restore(ctx, p, rec)
}

// Restore deploys rec.Locator as given, without consulting the archive.
func (m *RollbackManager) Restore(ctx context.Context, p domain.ConnectionProfile, rec domain.BuildRecord) (domain.BuildRecord, error) {
	log := m.log.With(
		zap.String("job", rec.Job),
		zap.String("env", p.Environment),
		zap.Int64("target_build", rec.BuildNumber),
	)
	log.Info("rolling back", zap.String("ref", rec.Locator))

	attempt := domain.DeploymentAttempt{Record: rec, Profile: p, Method: rec.Method}
	if err := m.deployer.Deploy(ctx, attempt); err != nil {
		log.Error("rollback deploy failed", zap.Error(err))
		return rec, err
	}

	if m.verifier != nil {
		res := m.verifier.Verify(ctx, p)
		if !res.Healthy() {
			log.Error("rolled back build is not healthy", zap.Duration("elapsed", res.Elapsed))
			return rec, &domain.StageError{
				Kind: domain.ErrHealthTimeout,
				Op:   "rollback verify",
				Err:  fmt.Errorf("%s after %s", res.CheckedURL, res.Elapsed),
			}
		}
	}

	log.Info("rollback completed")
	return rec, nil
}
