package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackforge/stackctl/pkg/module"
)

func newPlanCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "plan [environment...]",
		Short: "Preview changes without applying them",
		Long: `Plan the named environments, or every environment when none are given.

Dependencies on modules that are not applied yet resolve from declared
mock outputs, so a full-stack plan works before anything exists.

Examples:
  stackctl plan
  stackctl plan dev`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}

			envs, err := rt.environments(args)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			reports, err := rt.exec.ExecuteAll(ctx, envs, module.OperationPlan, flags.options())
			for _, report := range reports {
				if report != nil {
					renderReport(os.Stdout, report)
				}
			}
			if err != nil {
				return err
			}

			for _, report := range reports {
				if report.Failed() {
					return fmt.Errorf("plan failed in environment %s", report.Environment)
				}
			}
			return nil
		},
	}

	addRunFlags(cmd, &flags)

	return cmd
}
