package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"loom/internal/config"
	"loom/internal/observ"
	"loom/internal/pipeline"
	"loom/internal/scenario"
)

var testCmd = &cobra.Command{
	Use:   "test [flags] [file|directory]...",
	Short: "Run scenarios and compare them with their expectations",
	Long: `Run every scenario file (*.toml, *.yaml, *.yml) found in the given paths,
loom configuration files excepted, and check each against its [expect] section.`,
	RunE: runTests,
}

func init() {
	testCmd.Flags().Int("parallel", 0, "scenarios run at once (0 = GOMAXPROCS)")
	testCmd.Flags().Bool("verbose", false, "print diagnostics of failing scenarios")
}

type testOutcome struct {
	path     string
	problems []string
	err      error
	result   *pipeline.Result
}

func runTests(cmd *cobra.Command, args []string) error {
	parallel, err := cmd.Flags().GetInt("parallel")
	if err != nil {
		return fmt.Errorf("failed to get parallel flag: %w", err)
	}
	if parallel <= 0 {
		parallel = runtime.GOMAXPROCS(0)
	}
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return fmt.Errorf("failed to get verbose flag: %w", err)
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}
	colored, err := useColor(cmd, os.Stdout)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		args = []string{"."}
	}
	files, err := collectScenarios(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no scenarios found in %s", strings.Join(args, ", "))
	}

	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	counters := &observ.Counters{}
	outcomes := make([]testOutcome, len(files))
	var g errgroup.Group
	g.SetLimit(parallel)
	for i, path := range files {
		g.Go(func() error {
			outcomes[i] = runTest(cmd, path, counters)
			return nil
		})
	}
	_ = g.Wait()

	pass, fail := color.New(color.FgGreen, color.Bold), color.New(color.FgRed, color.Bold)
	for _, c := range []*color.Color{pass, fail} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	out := cmd.OutOrStdout()
	failed := 0
	for _, o := range outcomes {
		if o.err == nil && len(o.problems) == 0 {
			if !quiet {
				fmt.Fprintf(out, "%s %s\n", pass.Sprint("PASS"), o.path)
			}
			continue
		}
		failed++
		fmt.Fprintf(out, "%s %s\n", fail.Sprint("FAIL"), o.path)
		if o.err != nil {
			fmt.Fprintf(out, "    %v\n", o.err)
		}
		for _, p := range o.problems {
			fmt.Fprintf(out, "    %s\n", p)
		}
		if verbose && o.result != nil {
			for _, d := range o.result.Diagnostics {
				fmt.Fprintf(out, "      %s %s: %s\n", d.Severity, d.Code.ID(), d.Message)
			}
		}
	}
	if !quiet {
		fmt.Fprintf(out, "%d passed, %d failed (%s)\n", len(files)-failed, failed, counters.Snapshot())
	}
	if failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}

func runTest(cmd *cobra.Command, path string, counters *observ.Counters) testOutcome {
	o := testOutcome{path: path}
	cfg, err := loadSettings(cmd, path)
	if err != nil {
		o.err = err
		return o
	}
	built, err := loadScenario(path)
	if err != nil {
		o.err = err
		return o
	}
	if built.Expect == nil {
		o.err = fmt.Errorf("no expectations")
		return o
	}
	orch, err := pipeline.New(built.Options(cfg.Options()), built.Registry, built.Transformers, counters)
	if err != nil {
		o.err = err
		return o
	}
	res, err := orch.Execute(cmd.Context(), built.Snapshot, built.Sources)
	if err != nil {
		o.err = err
		return o
	}
	o.result = res
	o.problems = scenario.Check(built.Expect, res)
	return o
}

// collectScenarios expands directories into the scenario files they contain,
// sorted, without duplicates.
func collectScenarios(paths []string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if isScenarioFile(d.Name()) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

func isScenarioFile(name string) bool {
	if slices.Contains(config.FileNames, name) {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml", ".yaml", ".yml":
		return true
	}
	return false
}
