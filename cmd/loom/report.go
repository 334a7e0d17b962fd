package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/diag"
	"loom/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report [flags] <run.mp>",
	Short: "Print a run report written by loom run --report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().Bool("decls", false, "list declarations of the final snapshot")
	reportCmd.Flags().Bool("outcomes", false, "list instance outcomes")
	reportCmd.Flags().String("min-severity", "info", "hide diagnostics below this severity (info|warning|error)")
}

func runReport(cmd *cobra.Command, args []string) error {
	showDecls, err := cmd.Flags().GetBool("decls")
	if err != nil {
		return fmt.Errorf("failed to get decls flag: %w", err)
	}
	showOutcomes, err := cmd.Flags().GetBool("outcomes")
	if err != nil {
		return fmt.Errorf("failed to get outcomes flag: %w", err)
	}
	minSevName, err := cmd.Flags().GetString("min-severity")
	if err != nil {
		return fmt.Errorf("failed to get min-severity flag: %w", err)
	}
	minSev, ok := diag.ParseSeverity(minSevName)
	if !ok {
		return fmt.Errorf("unknown severity %q", minSevName)
	}
	r, err := report.Read(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	status := "ok"
	if r.Halted != "" {
		status = "halted at " + r.Halted
	}
	name := r.Scenario
	if name == "" {
		name = "run"
	}
	fmt.Fprintf(out, "%s %s: %s (snapshot v%d)\n", name, r.RunID, status, r.Version)
	fmt.Fprintf(out, "counters: %s\n\n", r.Counters)

	rows := make([][]string, 0, len(r.Stages))
	for _, st := range r.Stages {
		state := "ok"
		if st.Failed {
			state = "failed"
		}
		rows = append(rows, []string{st.Name, st.Kind.String(), strconv.Itoa(st.Units), strconv.Itoa(st.Instances), state})
	}
	if err := writeTable(out, []string{"STAGE", "KIND", "UNITS", "INSTANCES", "STATE"}, rows); err != nil {
		return err
	}

	shown := 0
	for _, d := range r.Diagnostics {
		if sev, ok := diag.ParseSeverity(d.Severity); ok && sev < minSev {
			continue
		}
		if shown == 0 {
			fmt.Fprintln(out)
		}
		shown++
		loc := ""
		if d.Path != "" {
			loc = fmt.Sprintf("%s:%d-%d: ", d.Path, d.Start, d.End)
		}
		fmt.Fprintf(out, "%s%s %s: %s\n", loc, d.Severity, d.Code, d.Message)
	}
	fmt.Fprintf(out, "\n%d diagnostic(s) (%d shown), %d suppressed, %d dropped, %d pending\n",
		len(r.Diagnostics), shown, r.Suppressed, r.Dropped, r.Pending)

	if showOutcomes {
		rows = rows[:0]
		for _, o := range r.Outcomes {
			rows = append(rows, []string{o.Step, o.Instance, strconv.Itoa(o.Index), o.Outcome, o.Message})
		}
		fmt.Fprintln(out)
		if err := writeTable(out, []string{"STEP", "INSTANCE", "INDEX", "OUTCOME", "MESSAGE"}, rows); err != nil {
			return err
		}
	}
	if showDecls {
		rows = rows[:0]
		for _, d := range r.Decls {
			rows = append(rows, []string{d.ID, d.Kind, strings.Join(d.Tags, ","), strings.Join(d.Bases, ",")})
		}
		fmt.Fprintln(out)
		if err := writeTable(out, []string{"DECL", "KIND", "TAGS", "BASES"}, rows); err != nil {
			return err
		}
	}
	return nil
}
