package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackforge/stackctl/pkg/rollback"
)

func newRollbackCmd() *cobra.Command {
	var (
		flags   runFlags
		version int
	)

	cmd := &cobra.Command{
		Use:   "rollback <environment>",
		Short: "Re-deploy an environment from a past successful deployment",
		Long: `Roll an environment back to a past fully successful deployment.

Without --version the latest fully successful apply is the target. The
target's snapshot is re-applied in dependency order and the rollback is
itself appended to history as a new deployment record.

Examples:
  stackctl rollback prod
  stackctl rollback prod --version 17`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}

			envs, err := rt.environments(args[:1])
			if err != nil {
				return err
			}
			env := envs[0]

			mgr := rollback.New(rt.states, rt.exec, rt.logger)

			target, err := mgr.Target(context.Background(), env, version)
			if err != nil {
				return err
			}

			prompt := fmt.Sprintf("Roll %s back to deployment %d (%s)?",
				env.Name, target.Version, target.Timestamp.Format(time.RFC3339))
			if !confirm(prompt, flags.autoApprove) {
				return nil
			}

			ctx, cancel := signalContext()
			defer cancel()

			report, err := mgr.Rollback(ctx, env, version, flags.options())
			if err != nil {
				return err
			}
			renderReport(os.Stdout, report)

			if report.Failed() {
				return fmt.Errorf("rollback failed in environment %s", env.Name)
			}
			return nil
		},
	}

	addRunFlags(cmd, &flags)
	cmd.Flags().IntVar(&version, "version", 0, "Target deployment version (default latest fully successful)")

	return cmd
}
