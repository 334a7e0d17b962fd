package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"loom/internal/pipeline"
)

var planCmd = &cobra.Command{
	Use:   "plan [flags] <scenario.toml|scenario.yaml>",
	Short: "Show the static layer order and stage plan of a scenario",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd, args[0])
	if err != nil {
		return err
	}
	built, err := loadScenario(args[0])
	if err != nil {
		return err
	}
	orch, err := pipeline.New(built.Options(cfg.Options()), built.Registry, built.Transformers, nil)
	if err != nil {
		var setup *pipeline.SetupError
		if errors.As(err, &setup) {
			for _, d := range setup.Diagnostics {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %s\n", d.Severity, d.Code.ID(), d.Message)
			}
			return &exitError{code: 2}
		}
		return err
	}

	stageOf := make(map[string]pipeline.Stage)
	for _, st := range orch.Stages() {
		for _, l := range st.Layers {
			stageOf[l.ID.String()] = st
		}
	}
	rows := make([][]string, 0, len(orch.Layers()))
	for _, l := range orch.Layers() {
		st := stageOf[l.ID.String()]
		rows = append(rows, []string{
			strconv.Itoa(l.Order),
			l.ID.String(),
			strconv.Itoa(st.Index),
			st.Kind.String(),
			l.Transformer,
		})
	}
	out := cmd.OutOrStdout()
	if err := writeTable(out, []string{"ORDER", "LAYER", "STAGE", "KIND", "TRANSFORMER"}, rows); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d layer(s) in %d stage(s), %d source(s)\n", len(orch.Layers()), len(orch.Stages()), len(built.Sources))
	return nil
}
