package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"loom/internal/config"
)

// loadSettings resolves the configuration for a scenario: --config wins,
// otherwise the nearest loom.toml/loom.yaml above the scenario, otherwise
// defaults. Command-line flags override the file.
func loadSettings(cmd *cobra.Command, scenarioPath string) (config.Config, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" && scenarioPath != "" {
		found, ok, err := config.Find(filepath.Dir(scenarioPath))
		if err != nil {
			return config.Config{}, err
		}
		if ok {
			path = found
		}
	}

	cfg := config.Default()
	if path != "" {
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	root := cmd.Root().PersistentFlags()
	if root.Changed("max-diagnostics") {
		if cfg.Pipeline.MaxDiagnostics, err = root.GetInt("max-diagnostics"); err != nil {
			return config.Config{}, fmt.Errorf("failed to get max-diagnostics flag: %w", err)
		}
	}
	if f := cmd.Flags().Lookup("jobs"); f != nil && f.Changed {
		if cfg.Pipeline.Jobs, err = cmd.Flags().GetInt("jobs"); err != nil {
			return config.Config{}, fmt.Errorf("failed to get jobs flag: %w", err)
		}
	}
	if f := cmd.Flags().Lookup("strict"); f != nil && f.Changed {
		if cfg.Pipeline.Strict, err = cmd.Flags().GetBool("strict"); err != nil {
			return config.Config{}, fmt.Errorf("failed to get strict flag: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
