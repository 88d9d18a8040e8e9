package cli

import (
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/davarch/rollout/internal/application"
	"github.com/davarch/rollout/internal/domain"
	"github.com/davarch/rollout/internal/infrastructure/approval_fs"
	"github.com/davarch/rollout/internal/infrastructure/config"
	"github.com/davarch/rollout/internal/infrastructure/logging"
	"github.com/davarch/rollout/internal/infrastructure/store_fs"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var pipelineOpts struct {
	branch       string
	job          string
	build        int64
	commit       string
	artifact     string
	image        string
	forceFailure bool
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Resolve, deploy, verify and roll back one build",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return domain.Configuration("config", err)
		}

		a := newApp(log, cfg)
		defer a.close()

		req := application.RunRequest{
			Job:          pipelineOpts.job,
			Branch:       pipelineOpts.branch,
			BuildNumber:  pipelineOpts.build,
			CommitID:     pipelineOpts.commit,
			Artifact:     pipelineOpts.artifact,
			Method:       domain.MethodJar,
			ForceFailure: pipelineOpts.forceFailure,
		}
		if req.Job == "" {
			req.Job = cfg.Job
		}
		if pipelineOpts.image != "" {
			req.Artifact, req.Method = pipelineOpts.image, domain.MethodContainer
		} else if abs, err := filepath.Abs(req.Artifact); err == nil {
			req.Artifact = abs
		}

		orch := application.NewOrchestrator(log, application.OrchestratorDeps{
			Resolver:  a.resolver,
			Lock:      store_fs.NewRunLock(cfg.State.Dir),
			Approver:  approval_fs.New(log, a.approvalsDir()),
			Deployer:  a.exec,
			Verifier:  a.verifier,
			Rollback:  a.rollback,
			Builds:    a.builds,
			Archive:   a.archive,
			Notifier:  a.notifier(),
			Observers: []domain.RunObserver{a.metrics},
			Timeout:   cfg.Pipeline.Timeout,
		})

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		stop := watchAndReload(cfgPath, log, a.resolver)
		defer stop()

		log.Info("start",
			zap.String("version", version),
			zap.String("job", req.Job),
			zap.String("branch", req.Branch),
			zap.Int64("build", req.BuildNumber),
			zap.String("method", string(req.Method)),
			zap.String("state_dir", cfg.State.Dir),
		)

		rep := orch.Run(ctx, req)
		a.flushMetrics()
		printReport(cmd.OutOrStdout(), rep)

		if rep.State == domain.StateSucceeded {
			return nil
		}
		if rep.Err != nil {
			return rep.Err
		}
		return fmt.Errorf("run %s", rep.State)
	},
}

func init() {
	f := pipelineCmd.Flags()
	f.StringVar(&pipelineOpts.branch, "branch", "", "source branch of the build")
	f.StringVar(&pipelineOpts.job, "job", "", "job name (defaults to config job)")
	f.Int64Var(&pipelineOpts.build, "build", 0, "build number")
	f.StringVar(&pipelineOpts.commit, "commit", "", "commit id of the build")
	f.StringVar(&pipelineOpts.artifact, "artifact", "", "path of the jar to deploy")
	f.StringVar(&pipelineOpts.image, "image", "", "container image to deploy")
	f.BoolVar(&pipelineOpts.forceFailure, "force-failure", false, "fail the run after a healthy probe to exercise rollback")

	_ = pipelineCmd.MarkFlagRequired("build")
	pipelineCmd.MarkFlagsMutuallyExclusive("artifact", "image")
	pipelineCmd.MarkFlagsOneRequired("artifact", "image")

	rootCmd.AddCommand(pipelineCmd)
}

// watchAndReload swaps the resolver tables when the config file changes, so
// edits made while a run waits for approval apply to the re-resolved profile.
func watchAndReload(cfgPath string, log *zap.Logger, r *application.Resolver) (stop func()) {
	stop = func() {}
	if cfgPath == "" {
		return stop
	}

	dir := filepath.Dir(cfgPath)
	base := filepath.Base(cfgPath)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("fsnotify init failed", zap.Error(err))
		return stop
	}
	if err := w.Add(dir); err != nil {
		log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
		_ = w.Close()
		return stop
	}

	fire := func() {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Warn("config reload failed", zap.Error(err))
			return
		}
		r.Update(log, cfg.DefaultEnvironment, cfg.Branches, cfg.Profiles())
	}

	go func() {
		var timer *time.Timer
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(300*time.Millisecond, fire)
				} else {
					timer.Reset(300 * time.Millisecond)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()

	return func() { _ = w.Close() }
}

func printReport(out io.Writer, rep domain.RunReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "run\t%s\n", rep.RunID)
	_, _ = fmt.Fprintf(w, "state\t%s\n", rep.State)
	if rep.Profile.Environment != "" {
		_, _ = fmt.Fprintf(w, "env\t%s (%s)\n", rep.Profile.Environment, rep.Profile.Host)
	}
	_, _ = fmt.Fprintf(w, "build\t%d\n", rep.Record.BuildNumber)
	if rep.Health != nil {
		_, _ = fmt.Fprintf(w, "health\t%s after %s (%d attempts)\n", rep.Health.Outcome, rep.Health.Elapsed, rep.Health.Attempts)
	}
	if rep.RolledBackTo > 0 {
		_, _ = fmt.Fprintf(w, "rolled back to\t%d\n", rep.RolledBackTo)
	}
	if rep.RollbackErr != nil {
		_, _ = fmt.Fprintf(w, "rollback error\t%v\n", rep.RollbackErr)
	}
	_, _ = fmt.Fprintf(w, "took\t%s\n", rep.Finished.Sub(rep.Started).Round(time.Millisecond))
	_ = w.Flush()
}
