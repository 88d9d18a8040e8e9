package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/davarch/rollout/internal/application"
	"github.com/davarch/rollout/internal/domain"
	"github.com/davarch/rollout/internal/infrastructure/config"
	"github.com/davarch/rollout/internal/infrastructure/logging"
	"github.com/davarch/rollout/internal/infrastructure/store_fs"
	"github.com/spf13/cobra"
)

var rollbackOpts struct {
	env    string
	job    string
	build  int64
	below  int64
	ref    string
	method string
	host   string
	user   string
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Redeploy an archived successful build",
	Long: "Redeploy the successful build given by --build, or the newest successful\n" +
		"build below --below, onto the environment's host. --ref skips the archive\n" +
		"and redeploys the given jar or image. Refused while a run of the same job\n" +
		"is in progress.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return domain.Configuration("config", err)
		}
		job := rollbackOpts.job
		if job == "" {
			job = cfg.Job
		}

		a := newApp(log, cfg)
		defer a.close()

		p, err := a.targetProfile(rollbackOpts.env, rollbackOpts.host, rollbackOpts.user)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		return application.Exclusive(store_fs.NewRunLock(cfg.State.Dir), job, func() error {
			if rollbackOpts.ref != "" {
				method := domain.Method(rollbackOpts.method)
				if method == "" {
					method = p.Method
				}
				rec := domain.BuildRecord{BuildNumber: rollbackOpts.build, Job: job, Environment: p.Environment, Method: method, Locator: rollbackOpts.ref}
				if _, err := a.rollback.Restore(ctx, p, rec); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s to %s\n", p.Environment, rollbackOpts.ref)
				return nil
			}

			var rec domain.BuildRecord
			if rollbackOpts.build > 0 {
				rec, err = a.rollback.Candidate(ctx, job, p.Environment, rollbackOpts.build+1)
				if err == nil && rec.BuildNumber != rollbackOpts.build {
					err = &domain.StageError{
						Kind: domain.ErrNoPriorBuild,
						Op:   "rollback",
						Err:  fmt.Errorf("build %d of %s is not a successful %s build", rollbackOpts.build, job, p.Environment),
					}
				}
			} else {
				rec, err = a.rollback.Candidate(ctx, job, p.Environment, rollbackOpts.below)
			}
			if err != nil {
				return err
			}

			if _, err := a.rollback.Redeploy(ctx, p, rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s to build %d\n", p.Environment, rec.BuildNumber)
			return nil
		})
	},
}

func init() {
	f := rollbackCmd.Flags()
	f.StringVar(&rollbackOpts.env, "env", "", "target environment")
	f.StringVar(&rollbackOpts.job, "job", "", "job name (defaults to config job)")
	f.Int64Var(&rollbackOpts.build, "build", 0, "successful build to redeploy")
	f.Int64Var(&rollbackOpts.below, "below", 0, "redeploy the newest successful build below this one")
	f.StringVar(&rollbackOpts.ref, "ref", "", "redeploy this jar path or image instead of the archived artifact")
	f.StringVar(&rollbackOpts.method, "method", "", "jar or container for --ref (defaults to the environment's method)")
	f.StringVar(&rollbackOpts.host, "host", "", "override the environment host")
	f.StringVar(&rollbackOpts.user, "user", "", "override the ssh principal")

	_ = rollbackCmd.MarkFlagRequired("env")
	rollbackCmd.MarkFlagsMutuallyExclusive("build", "below")
	rollbackCmd.MarkFlagsOneRequired("build", "below")
	_ = rollbackCmd.RegisterFlagCompletionFunc("env", completeEnvironments)

	rootCmd.AddCommand(rollbackCmd)
}
