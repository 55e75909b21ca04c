package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackforge/stackctl/pkg/changes"
	"github.com/stackforge/stackctl/pkg/config"
)

func newAffectedCmd() *cobra.Command {
	var (
		fromRev    string
		toRev      string
		paths      []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "affected (--from <rev> [--to <rev>] | --paths <path>...)",
		Short: "List modules affected by a set of changes",
		Long: `Map changed files to the modules that own them. The change set comes
from a git revision range (--from/--to) or from explicit --paths, relative
to the stack directory.

A path is owned by the module with the longest matching path root: a
module's own directory beats a shared library root, and shared roots fan
out to every module that references them. Paths owned by no module affect
nothing.

Examples:
  stackctl affected --from origin/main
  stackctl affected --from v1.2.0 --to v1.3.0 --json
  stackctl affected --paths modules/vpc/main.tf --paths envs/dev/db/deploy.hcl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}

			envs, err := config.LoadEnvironments(rt.stack)
			if err != nil {
				return err
			}

			owners, err := config.BuildOwnershipMap(rt.stack, envs)
			if err != nil {
				return err
			}

			changed := paths
			if len(changed) == 0 {
				if fromRev == "" {
					return fmt.Errorf("either --from or --paths is required")
				}
				changed, err = changes.ChangedPaths(rt.stack.Dir, fromRev, toRev)
				if err != nil {
					return err
				}
			}

			affected := changes.Affected(changed, owners)

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(affected)
			}

			if len(affected) == 0 {
				fmt.Println("No modules affected.")
				return nil
			}
			for _, ref := range affected {
				fmt.Printf("%s/%s\n", ref.Environment, ref.Module)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fromRev, "from", "", "Base revision")
	cmd.Flags().StringVar(&toRev, "to", "", "Target revision (default HEAD)")
	cmd.Flags().StringArrayVar(&paths, "paths", nil, "Changed paths relative to the stack directory (skips git)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")

	return cmd
}
