package application

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/davarch/rollout/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type RunRequest struct {
	Job          string
	Branch       string
	BuildNumber  int64
	CommitID     string
	Artifact     string
	Method       domain.Method
	ForceFailure bool
}

type Orchestrator struct {
	log       *zap.Logger
	resolver  *Resolver
	lock      domain.RunLock
	approver  domain.Approver
	deployer  Deployer
	verifier  *Verifier
	rollback  *RollbackManager
	builds    domain.BuildLog
	archive   domain.ArtifactArchive
	note      domain.Notifier
	observers []domain.RunObserver
	timeout   time.Duration
	now       func() time.Time
}

type OrchestratorDeps struct {
	Resolver  *Resolver
	Lock      domain.RunLock
	Approver  domain.Approver
	Deployer  Deployer
	Verifier  *Verifier
	Rollback  *RollbackManager
	Builds    domain.BuildLog
	Archive   domain.ArtifactArchive
	Notifier  domain.Notifier
	Observers []domain.RunObserver
	Timeout   time.Duration
}

func NewOrchestrator(log *zap.Logger, d OrchestratorDeps) *Orchestrator {
	return &Orchestrator{
		log:       log,
		resolver:  d.Resolver,
		lock:      d.Lock,
		approver:  d.Approver,
		deployer:  d.Deployer,
		verifier:  d.Verifier,
		rollback:  d.Rollback,
		builds:    d.Builds,
		archive:   d.Archive,
		note:      d.Notifier,
		observers: d.Observers,
		timeout:   d.Timeout,
		now:       time.Now,
	}
}

// Run executes one pipeline run to a terminal state. The returned report's
// Err carries the original failure even when the rollback succeeded.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) domain.RunReport {
	rep := domain.RunReport{
		RunID:   uuid.NewString(),
		Job:     req.Job,
		Branch:  req.Branch,
		State:   domain.StateResolving,
		Record:  domain.BuildRecord{Job: req.Job, BuildNumber: req.BuildNumber},
		Started: o.now(),
	}
	log := o.log.With(
		zap.String("run", rep.RunID),
		zap.String("job", req.Job),
		zap.String("branch", req.Branch),
		zap.Int64("build", req.BuildNumber),
	)

	release, err := o.lock.TryLock(req.Job)
	if err != nil {
		rep.State, rep.Err = domain.StateRefused, err
		return o.finish(ctx, log, rep)
	}
	defer release()

	profile := o.resolver.Resolve(req.Branch)
	log.Info("resolved", zap.String("env", profile.Environment), zap.String("host", profile.Host))

	if profile.RequireApproval {
		o.transition(log, &rep, domain.StateAwaiting)
		if err := o.approver.Await(ctx, req.Job, req.BuildNumber); err != nil {
			rep.State, rep.Err = domain.StateFailed, fmt.Errorf("await approval: %w", err)
			return o.finish(ctx, log, rep)
		}
		// the mapping may have changed during the pause
		profile = o.resolver.Resolve(req.Branch)
		log.Info("approved, re-resolved", zap.String("env", profile.Environment), zap.String("host", profile.Host))
	}
	rep.Profile = profile

	if profile.Frozen {
		rep.State = domain.StateFailed
		rep.Err = domain.Configuration("deploy", fmt.Errorf("environment %s is frozen", profile.Environment))
		return o.finish(ctx, log, rep)
	}

	rec, err := o.newRecord(req, profile)
	if err != nil {
		rep.State, rep.Err = domain.StateFailed, err
		return o.finish(ctx, log, rep)
	}
	if err := o.builds.Append(ctx, rec); err != nil {
		rep.State, rep.Err = domain.StateFailed, fmt.Errorf("append build record: %w", err)
		return o.finish(ctx, log, rep)
	}
	rep.Record = rec

	runCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	cause := o.deployAndVerify(runCtx, log, &rep, req)
	if cause == nil {
		return o.succeed(ctx, log, rep)
	}
	rep.Err = cause

	if runCtx.Err() != nil && ctx.Err() == nil {
		rep.State, rep.Err = domain.StateFailed, errors.Join(domain.ErrRunTimeout, cause)
		return o.finish(ctx, log, rep)
	}
	if domain.Terminal(cause) || ctx.Err() != nil {
		rep.State = domain.StateFailed
		return o.finish(ctx, log, rep)
	}

	o.transition(log, &rep, domain.StateRollingBack)
	log.Warn("rolling back", zap.Error(cause))

	prev, err := o.rollback.Rollback(runCtx, profile, req.Job, req.BuildNumber)
	if err != nil {
		rep.State, rep.RollbackErr = domain.StateRollbackFailed, err
		if runCtx.Err() != nil && ctx.Err() == nil {
			rep.Err = errors.Join(domain.ErrRunTimeout, cause)
		}
		return o.finish(ctx, log, rep)
	}
	rep.State, rep.RolledBackTo = domain.StateRolledBack, prev.BuildNumber
	return o.finish(ctx, log, rep)
}

func (o *Orchestrator) deployAndVerify(ctx context.Context, log *zap.Logger, rep *domain.RunReport, req RunRequest) error {
	o.transition(log, rep, domain.StateDeploying)
	attempt := domain.DeploymentAttempt{Record: rep.Record, Profile: rep.Profile, Method: rep.Record.Method}
	if err := o.deployer.Deploy(ctx, attempt); err != nil {
		return err
	}

	o.transition(log, rep, domain.StateProbing)
	res := o.verifier.Verify(ctx, rep.Profile)
	rep.Health = &res
	log.Info("health probe finished",
		zap.String("url", res.CheckedURL),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("elapsed", res.Elapsed),
		zap.Int("attempts", res.Attempts),
	)
	if !res.Healthy() {
		return &domain.StageError{Kind: domain.ErrHealthTimeout, Op: "probe", Err: fmt.Errorf("%s after %s", res.CheckedURL, res.Elapsed)}
	}
	if req.ForceFailure {
		log.Warn("force-failure override set, failing healthy deployment")
		return domain.ErrForcedFailure
	}
	return nil
}

func (o *Orchestrator) newRecord(req RunRequest, p domain.ConnectionProfile) (domain.BuildRecord, error) {
	method := req.Method
	if method == "" {
		method = p.Method
	}
	rec := domain.BuildRecord{
		BuildNumber: req.BuildNumber,
		Job:         req.Job,
		Environment: p.Environment,
		CommitID:    req.CommitID,
		ArtifactRef: req.Artifact,
		Method:      method,
		Locator:     req.Artifact,
		Result:      domain.ResultPending,
		CreatedAt:   o.now().UTC(),
	}
	switch {
	case req.Job == "":
		return rec, domain.Configuration("run", errors.New("job name is empty"))
	case req.BuildNumber <= 0:
		return rec, domain.Configuration("run", fmt.Errorf("invalid build number %d", req.BuildNumber))
	case req.Artifact == "":
		return rec, domain.Configuration("run", errors.New("artifact or image reference is empty"))
	}
	return rec, nil
}

func (o *Orchestrator) succeed(ctx context.Context, log *zap.Logger, rep domain.RunReport) domain.RunReport {
	stored, err := o.archive.Store(ctx, rep.Record)
	if err != nil {
		// the deployment is healthy; the build just cannot be rolled back to
		log.Error("archive artifact failed, build is not a rollback candidate", zap.Error(err))
		stored = rep.Record
		stored.Archived = false
	}
	rep.Record = stored
	rep.Record.Result = domain.ResultSuccess
	rep.State = domain.StateSucceeded
	return o.finish(ctx, log, rep)
}

func (o *Orchestrator) finish(ctx context.Context, log *zap.Logger, rep domain.RunReport) domain.RunReport {
	rep.Finished = o.now()
	ctx = context.WithoutCancel(ctx)

	if rep.Record.Result == domain.ResultPending {
		rep.Record.Result = domain.ResultFailed
		if err := o.builds.Append(ctx, rep.Record); err != nil {
			log.Error("append build record", zap.Error(err))
		}
	} else if rep.State == domain.StateSucceeded {
		if err := o.builds.Append(ctx, rep.Record); err != nil {
			log.Error("append build record", zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("state", string(rep.State)),
		zap.Duration("took", rep.Finished.Sub(rep.Started)),
	}
	if rep.RolledBackTo > 0 {
		fields = append(fields, zap.Int64("rolled_back_to", rep.RolledBackTo))
	}
	if rep.Err != nil {
		fields = append(fields, zap.Error(rep.Err))
	}
	if rep.RollbackErr != nil {
		fields = append(fields, zap.NamedError("rollback_error", rep.RollbackErr))
	}
	if rep.State == domain.StateSucceeded {
		log.Info("run finished", fields...)
	} else {
		log.Error("run finished", fields...)
	}

	if o.note != nil && rep.State != domain.StateRefused {
		body := rep.Job + " #" + strconv.FormatInt(rep.Record.BuildNumber, 10) + " → " + rep.Profile.Environment
		_ = o.note.Notify(ctx, titleFor(rep.State), body, "")
	}
	for _, obs := range o.observers {
		obs.Observe(rep)
	}
	return rep
}

func (o *Orchestrator) transition(log *zap.Logger, rep *domain.RunReport, s domain.RunState) {
	log.Debug("state", zap.String("from", string(rep.State)), zap.String("to", string(s)))
	rep.State = s
}

func titleFor(s domain.RunState) string {
	switch s {
	case domain.StateSucceeded:
		return "✅ deploy: success"
	case domain.StateRolledBack:
		return "↩️ deploy: failed, rolled back"
	case domain.StateRollbackFailed:
		return "❌ deploy: failed, rollback failed"
	default:
		return "❌ deploy: " + string(s)
	}
}
