package cli

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/davarch/rollout/internal/application"
	"github.com/davarch/rollout/internal/domain"
	"github.com/davarch/rollout/internal/infrastructure/config"
	"github.com/davarch/rollout/internal/infrastructure/logging"
	"github.com/davarch/rollout/internal/infrastructure/store_fs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deployOpts struct {
	env    string
	job    string
	method string
	ref    string
	host   string
	user   string
	build  int64
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deliver one artifact or image to an environment without probing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return domain.Configuration("config", err)
		}

		job := deployOpts.job
		if job == "" {
			job = cfg.Job
		}

		a := newApp(log, cfg)
		defer a.close()

		p, err := a.targetProfile(deployOpts.env, deployOpts.host, deployOpts.user)
		if err != nil {
			return err
		}
		if p.Frozen {
			return domain.Configuration("deploy", fmt.Errorf("environment %s is frozen", p.Environment))
		}

		method := domain.Method(deployOpts.method)
		if method == "" {
			method = p.Method
		}
		ref := deployOpts.ref
		if method == domain.MethodJar {
			if abs, err := filepath.Abs(ref); err == nil {
				ref = abs
			}
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		attempt := domain.DeploymentAttempt{
			Record:  domain.BuildRecord{BuildNumber: deployOpts.build, Job: job, Environment: p.Environment, Locator: ref, Method: method},
			Profile: p,
			Method:  method,
		}
		err = application.Exclusive(store_fs.NewRunLock(cfg.State.Dir), job, func() error {
			return a.exec.Deploy(ctx, attempt)
		})
		if err != nil {
			return err
		}

		log.Info("deployed", zap.String("env", p.Environment), zap.String("host", p.Host), zap.String("ref", ref))
		fmt.Fprintf(cmd.OutOrStdout(), "deployed %s to %s (%s)\n", ref, p.Environment, p.Host)
		return nil
	},
}

func init() {
	f := deployCmd.Flags()
	f.StringVar(&deployOpts.env, "env", "", "target environment")
	f.StringVar(&deployOpts.job, "job", "", "job name for the run lock (defaults to config job)")
	f.StringVar(&deployOpts.method, "method", "", "jar or container (defaults to the environment's method)")
	f.StringVar(&deployOpts.ref, "ref", "", "jar path or image reference")
	f.StringVar(&deployOpts.host, "host", "", "override the environment host")
	f.StringVar(&deployOpts.user, "user", "", "override the ssh principal")
	f.Int64Var(&deployOpts.build, "build", 0, "build number, for logs only")

	_ = deployCmd.MarkFlagRequired("env")
	_ = deployCmd.MarkFlagRequired("ref")
	_ = deployCmd.RegisterFlagCompletionFunc("env", completeEnvironments)
	_ = deployCmd.RegisterFlagCompletionFunc("method", cobra.FixedCompletions([]string{"jar", "container"}, cobra.ShellCompDirectiveNoFileComp))

	rootCmd.AddCommand(deployCmd)
}
