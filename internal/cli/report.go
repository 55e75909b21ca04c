package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/stackforge/stackctl/pkg/executor"
)

// renderReport prints one environment's deployment report as a table.
func renderReport(w io.Writer, report *executor.Report) {
	title := string(report.Operation)
	if report.DryRun {
		title += " (dry run)"
	}
	fmt.Fprintf(w, "\nEnvironment %s — %s, %s\n", report.Environment, title, report.Duration.Round(time.Millisecond))

	paths := make([]string, 0, len(report.Modules))
	for p := range report.Modules {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tSTATUS\tDURATION\tNOTES")
	for _, p := range paths {
		res := report.Modules[p]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p, res.Status, res.Duration.Round(time.Millisecond), notes(res))
	}
	tw.Flush()

	if report.Version != 0 {
		fmt.Fprintf(w, "Recorded as deployment %d\n", report.Version)
	}
}

func notes(res *executor.ModuleResult) string {
	var parts []string
	if res.LockRecovered {
		parts = append(parts, "recovered stale lock")
	}
	if res.MockedInputs {
		parts = append(parts, "mocked inputs")
	}
	if res.Err != nil {
		parts = append(parts, res.Err.Error())
	}
	if len(parts) == 0 {
		return "-"
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "; " + p
	}
	return out
}
