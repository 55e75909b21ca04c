package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackforge/stackctl/pkg/module"
)

func newDestroyCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "destroy <environment> [environment...]",
		Short: "Tear down environments in reverse dependency order",
		Long: `Destroy the named environments. Modules are torn down in reverse
dependency order: nothing is destroyed while another module still
consumes its outputs.

Destroy never runs against the whole stack implicitly; name every
environment you mean to remove.

Examples:
  stackctl destroy dev
  stackctl destroy dev --auto-approve`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}

			envs, err := rt.environments(args)
			if err != nil {
				return err
			}

			for _, env := range envs {
				if !confirm(fmt.Sprintf("Destroy environment %s (%d modules)?", env.Name, len(env.Modules)), flags.autoApprove) {
					return nil
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			reports, err := rt.exec.ExecuteAll(ctx, envs, module.OperationDestroy, flags.options())
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
					return fmt.Errorf("destroy failed in environment %s", report.Environment)
				}
			}
			return nil
		},
	}

	addRunFlags(cmd, &flags)

	return cmd
}
