package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackforge/stackctl/pkg/module"
)

func newApplyCmd() *cobra.Command {
	var (
		flags  runFlags
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "apply [environment...]",
		Short: "Deploy environments in dependency order",
		Long: `Deploy the named environments, or every environment declared in the
manifest when none are given.

Modules deploy in dependency order; independent modules run in parallel up
to --concurrency. Each module's remote state is locked while it executes,
and the run is appended to the environment's deployment history.

Interrupting an apply lets executing modules finish, then skips everything
that has not started.

Examples:
  stackctl apply
  stackctl apply dev
  stackctl apply dev prod --concurrency 3 --commit "$(git rev-parse HEAD)"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}

			envs, err := rt.environments(args)
			if err != nil {
				return err
			}

			if !dryRun {
				names := ""
				for i, env := range envs {
					if i > 0 {
						names += ", "
					}
					names += env.Name
				}
				if !confirm(fmt.Sprintf("Apply %s?", names), flags.autoApprove) {
					return nil
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			opts := flags.options()
			opts.DryRun = dryRun

			reports, err := rt.exec.ExecuteAll(ctx, envs, module.OperationApply, opts)
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
					return fmt.Errorf("deployment failed in environment %s", report.Environment)
				}
			}
			return nil
		},
	}

	addRunFlags(cmd, &flags)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Preview only: no infrastructure, state or history changes")

	return cmd
}
