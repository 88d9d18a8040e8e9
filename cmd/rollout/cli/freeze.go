package cli

import (
	"fmt"

	"github.com/davarch/rollout/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var freezeCmd = &cobra.Command{
	Use:   "freeze <env>",
	Short: "Refuse deploys to an environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		changed, err := config.SetFrozen(cfgPath, args[0], true)
		if err != nil {
			return err
		}
		if !changed {
			fmt.Printf("no change (environment %q already frozen)\n", args[0])
			return nil
		}
		fmt.Printf("frozen: %s\n", args[0])
		return nil
	},
}

var unfreezeCmd = &cobra.Command{
	Use:   "unfreeze <env>",
	Short: "Allow deploys to an environment again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		changed, err := config.SetFrozen(cfgPath, args[0], false)
		if err != nil {
			return err
		}
		if !changed {
			fmt.Printf("no change (environment %q is not frozen)\n", args[0])
			return nil
		}
		fmt.Printf("unfrozen: %s\n", args[0])
		return nil
	},
}

func init() {
	complete := func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return completeEnvironments(cmd, args, toComplete)
	}
	freezeCmd.ValidArgsFunction = complete
	unfreezeCmd.ValidArgsFunction = complete

	rootCmd.AddCommand(freezeCmd, unfreezeCmd)
}
