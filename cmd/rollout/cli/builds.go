package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/davarch/rollout/internal/domain"
	"github.com/davarch/rollout/internal/infrastructure/config"
	"github.com/davarch/rollout/internal/infrastructure/store_fs"
	"github.com/spf13/cobra"
)

var (
	buildsOnlySuccess bool
	buildsEnv         string
	buildsJSON        bool
)

var buildsCmd = &cobra.Command{
	Use:   "builds [job]",
	Short: "List the build lineage of a job",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		job := cfg.Job
		if len(args) == 1 {
			job = args[0]
		}
		if job == "" {
			return fmt.Errorf("no job given and none configured")
		}

		all, err := store_fs.NewBuildLog(cfg.State.Dir).List(context.Background(), job)
		if err != nil {
			return err
		}

		items := make([]domain.BuildRecord, 0, len(all))
		for _, r := range all {
			if buildsOnlySuccess && r.Result != domain.ResultSuccess {
				continue
			}
			if buildsEnv != "" && r.Environment != buildsEnv {
				continue
			}
			items = append(items, r)
		}

		if buildsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "BUILD\tENV\tMETHOD\tRESULT\tCOMMIT\tCREATED\tLOCATOR")
		for _, r := range items {
			commit := r.CommitID
			if len(commit) > 12 {
				commit = commit[:12]
			}
			if commit == "" {
				commit = "-"
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.BuildNumber, r.Environment, r.Method, r.Result, commit,
				r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Locator)
		}
		_ = w.Flush()
		return nil
	},
}

func init() {
	buildsCmd.Flags().BoolVar(&buildsOnlySuccess, "success", false, "show only successful builds")
	buildsCmd.Flags().StringVar(&buildsEnv, "env", "", "show only builds of this environment")
	buildsCmd.Flags().BoolVar(&buildsJSON, "json", false, "print JSON")
	_ = buildsCmd.RegisterFlagCompletionFunc("env", completeEnvironments)

	rootCmd.AddCommand(buildsCmd)
}
