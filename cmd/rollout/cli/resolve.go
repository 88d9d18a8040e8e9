package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/davarch/rollout/internal/application"
	"github.com/davarch/rollout/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <branch>",
	Short: "Print the connection profile a branch deploys to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		p := application.NewResolver(cfg.DefaultEnvironment, cfg.Branches, cfg.Profiles()).Resolve(args[0])

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "environment\t%s\n", p.Environment)
		_, _ = fmt.Fprintf(w, "host\t%s\n", p.Host)
		_, _ = fmt.Fprintf(w, "ssh\t%s@%s:%d\n", p.Principal, p.Host, p.SSHPort)
		_, _ = fmt.Fprintf(w, "method\t%s\n", p.Method)
		if p.Method == "container" {
			_, _ = fmt.Fprintf(w, "container mode\t%s\n", p.ContainerMode)
		}
		_, _ = fmt.Fprintf(w, "health\t%s\n", application.HealthURL(p))
		if p.ProbeVia != "" {
			_, _ = fmt.Fprintf(w, "probe via\t%s\n", p.ProbeVia)
		}
		_, _ = fmt.Fprintf(w, "approval\t%t\n", p.RequireApproval)
		_, _ = fmt.Fprintf(w, "frozen\t%t\n", p.Frozen)
		_ = w.Flush()
		return nil
	},
}

func init() {
	resolveCmd.ValidArgsFunction = func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg, err := config.Load(cfgPath)
		if err != nil || len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		out := make([]string, 0, len(cfg.Branches))
		for b := range cfg.Branches {
			if strings.HasPrefix(b, toComplete) {
				out = append(out, b)
			}
		}
		sort.Strings(out)
		return out, cobra.ShellCompDirectiveNoFileComp
	}

	rootCmd.AddCommand(resolveCmd)
}

func errUnknownEnv(env string) error {
	return fmt.Errorf("environment %q is not configured", env)
}

func completeEnvironments(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	out := make([]string, 0, len(cfg.Environments))
	for name := range cfg.Environments {
		if strings.HasPrefix(name, toComplete) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, cobra.ShellCompDirectiveNoFileComp
}
