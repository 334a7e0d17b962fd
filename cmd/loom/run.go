package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"loom/internal/diag"
	"loom/internal/diagfmt"
	"loom/internal/pipeline"
	"loom/internal/report"
	"loom/internal/scenario"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <scenario.toml|scenario.yaml>",
	Short: "Execute a scenario through the pipeline",
	Long: `Execute a scenario: build its declaration tree and classes, run every
stage and print the diagnostics. Exits with status 1 when a stage halted or an
error was reported, unless --check is set and the scenario expected it.`,
	Args: cobra.ExactArgs(1),
	RunE: runScenario,
}

func init() {
	runCmd.Flags().String("format", "pretty", "output format (pretty|json)")
	runCmd.Flags().String("report", "", "write a MessagePack run report to this file")
	runCmd.Flags().Bool("check", false, "compare the result with the scenario's [expect] section")
	runCmd.Flags().Bool("with-notes", false, "include diagnostic notes in output")
	runCmd.Flags().Bool("suggest", false, "include fixes in output")
	runCmd.Flags().Bool("fullpath", false, "emit absolute file paths in output")
	runCmd.Flags().String("min-severity", "info", "hide diagnostics below this severity (info|warning|error)")
	runCmd.Flags().Int("jobs", 0, "max parallel declaring types per step (0 = from config)")
	runCmd.Flags().Bool("strict", false, "assert step order and warn about unordered layers")
}

type runOptions struct {
	format    string
	report    string
	check     bool
	withNotes bool
	suggest   bool
	fullPath  bool
	quiet     bool
	timings   bool
	color     bool
	minSev    diag.Severity
}

func readRunOptions(cmd *cobra.Command) (runOptions, error) {
	var (
		opts runOptions
		err  error
	)
	if opts.format, err = cmd.Flags().GetString("format"); err != nil {
		return opts, fmt.Errorf("failed to get format flag: %w", err)
	}
	switch opts.format {
	case "pretty", "json":
	default:
		return opts, fmt.Errorf("unknown format: %s", opts.format)
	}
	if opts.report, err = cmd.Flags().GetString("report"); err != nil {
		return opts, fmt.Errorf("failed to get report flag: %w", err)
	}
	if opts.check, err = cmd.Flags().GetBool("check"); err != nil {
		return opts, fmt.Errorf("failed to get check flag: %w", err)
	}
	if opts.withNotes, err = cmd.Flags().GetBool("with-notes"); err != nil {
		return opts, fmt.Errorf("failed to get with-notes flag: %w", err)
	}
	if opts.suggest, err = cmd.Flags().GetBool("suggest"); err != nil {
		return opts, fmt.Errorf("failed to get suggest flag: %w", err)
	}
	if opts.fullPath, err = cmd.Flags().GetBool("fullpath"); err != nil {
		return opts, fmt.Errorf("failed to get fullpath flag: %w", err)
	}
	minSev, err := cmd.Flags().GetString("min-severity")
	if err != nil {
		return opts, fmt.Errorf("failed to get min-severity flag: %w", err)
	}
	var ok bool
	if opts.minSev, ok = diag.ParseSeverity(minSev); !ok {
		return opts, fmt.Errorf("unknown severity %q", minSev)
	}
	if opts.quiet, err = cmd.Root().PersistentFlags().GetBool("quiet"); err != nil {
		return opts, fmt.Errorf("failed to get quiet flag: %w", err)
	}
	if opts.timings, err = cmd.Root().PersistentFlags().GetBool("timings"); err != nil {
		return opts, fmt.Errorf("failed to get timings flag: %w", err)
	}
	if opts.color, err = useColor(cmd, os.Stdout); err != nil {
		return opts, err
	}
	return opts, nil
}

// runScenario executes the "run" command.
func runScenario(cmd *cobra.Command, args []string) error {
	defer dumpTraceOnPanic()

	opts, err := readRunOptions(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadSettings(cmd, args[0])
	if err != nil {
		return err
	}
	cleanup, err := setupTracing(cmd, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	built, err := loadScenario(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	orch, err := pipeline.New(built.Options(cfg.Options()), built.Registry, built.Transformers, nil)
	if err != nil {
		var setup *pipeline.SetupError
		if errors.As(err, &setup) && len(setup.Diagnostics) > 0 {
			printDiagnostics(out, setup.Diagnostics, built, opts)
			return &exitError{code: 2}
		}
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	res, err := orch.Execute(ctx, built.Snapshot, built.Sources)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(cmd.ErrOrStderr(), "loom: interrupted")
			return &exitError{code: 130}
		}
		return err
	}

	printDiagnostics(out, res.Diagnostics, built, opts)
	if !opts.quiet && opts.format == "pretty" {
		printRunSummary(out, res)
	}
	if opts.timings {
		printStageTimings(cmd.ErrOrStderr(), res.Timings)
	}
	if opts.report != "" {
		if err := report.Write(opts.report, report.FromResult(built.Name, res, built.Files)); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	if opts.check {
		if built.Expect == nil {
			return fmt.Errorf("%s has no expectations to check", args[0])
		}
		problems := scenario.Check(built.Expect, res)
		for _, p := range problems {
			fmt.Fprintln(cmd.ErrOrStderr(), "expect:", p)
		}
		if len(problems) > 0 {
			return &exitError{code: 1}
		}
		return nil
	}
	if res.Halted != "" || res.HasErrors() {
		return &exitError{code: 1}
	}
	return nil
}

func loadScenario(path string) (*scenario.Built, error) {
	f, err := scenario.Load(path)
	if err != nil {
		return nil, err
	}
	built, err := scenario.Build(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return built, nil
}

func printDiagnostics(w io.Writer, items []diag.Diagnostic, built *scenario.Built, opts runOptions) {
	bag := diag.NewBag(0)
	for _, d := range items {
		bag.Add(d)
	}
	// exit status is decided from the result, not from what is printed
	bag.Filter(func(d *diag.Diagnostic) bool { return d.Severity >= opts.minSev })
	bag.Sort()

	pathMode := diagfmt.PathModeAuto
	if opts.fullPath {
		pathMode = diagfmt.PathModeAbsolute
	}
	switch opts.format {
	case "json":
		jsonOpts := diagfmt.JSONOpts{
			PathMode:     pathMode,
			IncludeNotes: opts.withNotes,
			IncludeFixes: opts.suggest,
		}
		if err := diagfmt.JSON(w, bag, built.Files, jsonOpts); err != nil {
			fmt.Fprintf(os.Stderr, "loom: failed to format diagnostics: %v\n", err)
		}
	default:
		diagfmt.Pretty(w, bag, built.Files, diagfmt.PrettyOpts{
			Color:     opts.color,
			PathMode:  pathMode,
			ShowNotes: opts.withNotes,
			ShowFixes: opts.suggest,
			Summary:   !opts.quiet,
		})
	}
}

func printRunSummary(w io.Writer, res *pipeline.Result) {
	status := "ok"
	if res.Halted != "" {
		status = "halted at " + res.Halted
	}
	fmt.Fprintf(w, "run %s: %s\n", res.RunID, status)
	fmt.Fprintf(w, "  %d stage(s), %d instance outcome(s), %d fix(es), %d suppressed, %d pending\n",
		len(res.Stages), len(res.Outcomes), len(res.Fixes), res.Suppressed, res.Pending)
	if res.Dropped > 0 {
		fmt.Fprintf(w, "  %d diagnostic(s) over the cap were dropped\n", res.Dropped)
	}
}
