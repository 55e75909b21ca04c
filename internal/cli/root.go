// Package cli implements the stackctl CLI commands.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Import state backends to register them via init()
	_ "github.com/stackforge/stackctl/pkg/statestore/azurerm"
	_ "github.com/stackforge/stackctl/pkg/statestore/gcs"
	_ "github.com/stackforge/stackctl/pkg/statestore/local"
	_ "github.com/stackforge/stackctl/pkg/statestore/memory"
	_ "github.com/stackforge/stackctl/pkg/statestore/s3"

	// Import provisioning engines to register them via init()
	_ "github.com/stackforge/stackctl/pkg/provisioner/execengine"
	_ "github.com/stackforge/stackctl/pkg/provisioner/fake"
)

var (
	stackFile string
	logLevel  string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "stackctl",
	Short: "Deploy infrastructure stacks in dependency order",
	Long: `stackctl orchestrates infrastructure deployments across environments.

It reads a stack manifest (stack.yml) and per-module deployment units
(deploy.hcl), orders modules by their declared dependencies, locks each
module's remote state while operating on it, and records every deployment
in an append-only history that rollbacks replay from.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&stackFile, "stack", "", "Stack manifest (default ./stack.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "State backend type override (local, s3, gcs, azurerm)")
	rootCmd.PersistentFlags().StringArray("backend-config", nil, "Backend configuration override (key=value)")

	// Bind to viper
	_ = viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.SetEnvPrefix("STACKCTL")
	viper.AutomaticEnv()

	// Add subcommands
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newApplyCmd())
	rootCmd.AddCommand(newDestroyCmd())
	rootCmd.AddCommand(newAffectedCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newRollbackCmd())
	rootCmd.AddCommand(newLocksCmd())
	rootCmd.AddCommand(newCICmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initLogging() {
	level := slog.LevelInfo
	switch viper.GetString("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
