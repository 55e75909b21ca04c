package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackforge/stackctl/pkg/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		version    int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history <environment>",
		Short: "Show an environment's deployment history",
		Long: `List an environment's deployment records, oldest first, or show one
record in full with --version.

History is append-only: every apply, destroy and rollback adds a record,
and nothing ever rewrites an old one.

Examples:
  stackctl history prod
  stackctl history prod --version 17 --json`,
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
			log := history.NewLog(rt.store, envs[0])
			ctx := context.Background()

			if version != 0 {
				record, err := log.Get(ctx, version)
				if err != nil {
					return err
				}
				return renderRecord(record, jsonOutput)
			}

			records, err := log.List(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			if len(records) == 0 {
				fmt.Printf("No deployments recorded for %s.\n", envs[0].Name)
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tTIME\tOPERATION\tOUTCOME\tCOMMIT")
			for _, record := range records {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					record.Version,
					record.Timestamp.Format(time.RFC3339),
					record.Operation,
					outcomeSummary(record),
					record.Commit)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Show a single record by version")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON")

	return cmd
}

func renderRecord(record *history.Record, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	}

	fmt.Printf("Deployment %d of %s — %s at %s\n",
		record.Version, record.Environment, record.Operation,
		record.Timestamp.Format(time.RFC3339))
	if record.Commit != "" {
		fmt.Printf("Commit: %s\n", record.Commit)
	}

	paths := make([]string, 0, len(record.Modules))
	for p := range record.Modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tSTATUS\tDURATION\tERROR")
	for _, p := range paths {
		outcome := record.Modules[p]
		errText := outcome.Error
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p, outcome.Status, outcome.Duration.Round(time.Millisecond), errText)
	}
	return tw.Flush()
}

func outcomeSummary(record *history.Record) string {
	var succeeded, failed, skipped int
	for _, outcome := range record.Modules {
		switch outcome.Status {
		case history.StatusSucceeded:
			succeeded++
		case history.StatusFailed:
			failed++
		default:
			skipped++
		}
	}
	if failed == 0 && skipped == 0 {
		return fmt.Sprintf("%d ok", succeeded)
	}
	return fmt.Sprintf("%d ok, %d failed, %d skipped", succeeded, failed, skipped)
}
