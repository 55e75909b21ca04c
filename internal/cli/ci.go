package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stackforge/stackctl/pkg/ciworkflow"
	"github.com/stackforge/stackctl/pkg/config"
)

func newCICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ci",
		Short: "Generate CI pipelines and graph visualizations",
	}

	cmd.AddCommand(newCIGenerateCmd())

	return cmd
}

func newCIGenerateCmd() *cobra.Command {
	var (
		outputType     string
		outputPath     string
		installVersion string
		concurrency    int
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a CI pipeline that drives this stack",
		Long: `Generate a CI pipeline from the stack manifest.

The deploy pipeline plans everything first, then promotes environments in
manifest order; the teardown pipeline destroys them in reverse. The
mermaid type renders the module dependency graph instead.

Examples:
  stackctl ci generate --type github-actions
  stackctl ci generate --type mermaid --output -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime()
			if err != nil {
				return err
			}

			envs, err := config.LoadEnvironments(rt.stack)
			if err != nil {
				return err
			}

			t := ciworkflow.OutputType(outputType)
			generator, err := ciworkflow.NewGenerator(t)
			if err != nil {
				return err
			}

			workflow := ciworkflow.Build(rt.stack, envs, ciworkflow.BuildOptions{
				Manifest:       stackFile,
				InstallVersion: installVersion,
				Concurrency:    concurrency,
			})

			deploy, err := generator.Generate(workflow)
			if err != nil {
				return err
			}

			if outputPath == "-" {
				fmt.Print(string(deploy))
				return nil
			}

			path := outputPath
			if path == "" {
				path = generator.DefaultOutputPath()
			}
			if err := writeFile(path, deploy); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)

			if !t.IsCIType() {
				return nil
			}

			teardown, err := generator.GenerateTeardown(workflow)
			if err != nil {
				return err
			}
			if teardown != nil {
				teardownPath := generator.DefaultTeardownOutputPath()
				if err := writeFile(teardownPath, teardown); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", teardownPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outputType, "type", string(ciworkflow.TypeGitHubActions),
		"Output type ("+strings.Join(ciworkflow.ValidOutputTypes(), ", ")+")")
	cmd.Flags().StringVar(&outputPath, "output", "", "Output path (- for stdout, default per provider)")
	cmd.Flags().StringVar(&installVersion, "install-version", "", "stackctl version to install in CI jobs")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Concurrency passed to generated apply commands")

	return cmd
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}
