package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/davarch/rollout/internal/infrastructure/approval_fs"
	"github.com/davarch/rollout/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var approveBy string

func decideCmd(use, done, short string, approve bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job> <build>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			build, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || build <= 0 {
				return fmt.Errorf("invalid build number %q", args[1])
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			by := approveBy
			if by == "" {
				by = os.Getenv("USER")
			}

			if err := approval_fs.Decide(filepath.Join(cfg.State.Dir, "approvals"), args[0], build, approve, by); err != nil {
				return err
			}
			fmt.Printf("%s: %s #%d\n", done, args[0], build)
			return nil
		},
	}
}

func init() {
	approveCmd := decideCmd("approve", "approved", "Approve a run waiting at the production gate", true)
	denyCmd := decideCmd("deny", "denied", "Deny a run waiting at the production gate", false)

	for _, c := range []*cobra.Command{approveCmd, denyCmd} {
		c.Flags().StringVar(&approveBy, "by", "", "name recorded with the decision (defaults to $USER)")
		rootCmd.AddCommand(c)
	}
}
