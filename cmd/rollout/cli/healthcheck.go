package cli

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/davarch/rollout/internal/application"
	"github.com/davarch/rollout/internal/domain"
	"github.com/davarch/rollout/internal/infrastructure/config"
	"github.com/davarch/rollout/internal/infrastructure/logging"
	"github.com/davarch/rollout/internal/infrastructure/probe_http"
	"github.com/davarch/rollout/internal/infrastructure/ssh_remote"
	"github.com/spf13/cobra"
)

var healthOpts struct {
	timeout  time.Duration
	interval time.Duration
	request  time.Duration
	viaHost  string
	viaUser  string
}

var healthCmd = &cobra.Command{
	Use:   "healthcheck <url>",
	Short: "Poll a health endpoint until it answers 2xx or the budget runs out",
	Long: `Poll a health endpoint until it answers 2xx or the budget runs out.

Both the waits between attempts and the time spent in each request count
against --timeout. The command returns within --timeout plus one --interval
plus one --request-timeout.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		var f domain.Fetcher = probe_http.New(healthOpts.request)
		if healthOpts.viaHost != "" {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return domain.Configuration("config", err)
			}
			keys := ssh_remote.NewHostKeys(log, cfg.SSH.KnownHosts, cfg.SSH.HostKeyPolicy == config.HostKeyTOFU)
			ch := ssh_remote.New(log, keys, cfg.SSH.ConnectTimeout)
			defer func() { _ = ch.Close() }()

			user := healthOpts.viaUser
			if user == "" {
				user = cfg.SSH.User
			}
			f = probe_http.NewRemote(ch, domain.ConnectionProfile{
				Host:      healthOpts.viaHost,
				Principal: user,
				Auth:      domain.Auth{KeyFile: cfg.SSH.KeyFile},
			}, healthOpts.request)
		}

		res := application.NewProber(log).Probe(ctx, f, args[0], healthOpts.timeout, healthOpts.interval)
		if !res.Healthy() {
			return &domain.StageError{
				Kind: domain.ErrHealthTimeout,
				Op:   "healthcheck",
				Err:  fmt.Errorf("%s after %s (%d attempts)", res.CheckedURL, res.Elapsed, res.Attempts),
			}
		}

		fmt.Fprintf(cmd.OutOrStdout(), "healthy after %s\n", res.Elapsed)
		if res.LastResponseBody != "" {
			fmt.Fprintln(cmd.OutOrStdout(), res.LastResponseBody)
		}
		return nil
	},
}

func init() {
	f := healthCmd.Flags()
	f.DurationVar(&healthOpts.timeout, "timeout", 120*time.Second, "total wait budget")
	f.DurationVar(&healthOpts.interval, "interval", 5*time.Second, "pause between attempts")
	f.DurationVar(&healthOpts.request, "request-timeout", 5*time.Second, "timeout of a single request")
	f.StringVar(&healthOpts.viaHost, "via-host", "", "issue requests with curl from this host over ssh")
	f.StringVar(&healthOpts.viaUser, "via-user", "", "ssh principal for --via-host (defaults to ssh.user)")

	rootCmd.AddCommand(healthCmd)
}
