package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newLocksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and clear module state locks",
	}

	cmd.AddCommand(newLocksListCmd())
	cmd.AddCommand(newLocksUnlockCmd())

	return cmd
}

func newLocksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <environment>",
		Short: "Show held locks in an environment",
		Args:  cobra.ExactArgs(1),
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
			ctx := context.Background()

			tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MODULE\tHOLDER\tACQUIRED\tREMAINING")
			held := 0
			for _, m := range env.Modules {
				record, err := rt.locks.Inspect(ctx, env.StateKey(m.Path))
				if err != nil {
					return err
				}
				if record == nil {
					continue
				}
				held++
				remaining := record.Remaining(time.Now())
				state := remaining.Round(time.Second).String()
				if remaining == 0 {
					state = "expired"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					m.Path, record.Holder,
					record.AcquiredAt.Format(time.RFC3339), state)
			}
			if held == 0 {
				fmt.Printf("No locks held in %s.\n", env.Name)
				return nil
			}
			return tw.Flush()
		},
	}
}

func newLocksUnlockCmd() *cobra.Command {
	var autoApprove bool

	cmd := &cobra.Command{
		Use:   "unlock <environment> <module>",
		Short: "Forcibly remove a module's lock",
		Long: `Remove a module's lock record unconditionally.

Expired locks are recovered automatically on the next acquisition; unlock
is for a lock that is still inside its ttl but whose holder is known to be
gone. Unlocking a live run corrupts state.`,
		Args: cobra.ExactArgs(2),
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
			modulePath := args[1]
			if env.Module(modulePath) == nil {
				return fmt.Errorf("module %q is not declared in environment %s", modulePath, env.Name)
			}

			if !confirm(fmt.Sprintf("Forcibly unlock %s/%s?", env.Name, modulePath), autoApprove) {
				return nil
			}
			return rt.locks.ForceUnlock(context.Background(), env.StateKey(modulePath))
		},
	}

	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Skip confirmation prompt")

	return cmd
}
