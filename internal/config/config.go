// Package config loads pipeline settings from loom.toml or loom.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"loom/internal/layer"
	"loom/internal/pipeline"
	"loom/internal/trace"
)

// FileNames are the config files Find looks for, in priority order.
var FileNames = []string{"loom.toml", "loom.yaml", "loom.yml"}

const (
	DefaultMaxDiagnostics = 1000
	DefaultMaxAdviceDepth = 16
	DefaultRingSize       = 4096
)

// ErrUnsupportedFormat is returned for files that are neither TOML nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

type Config struct {
	// Path is the file the config was read from, "" for defaults.
	Path     string         `toml:"-" yaml:"-"`
	Pipeline PipelineConfig `toml:"pipeline" yaml:"pipeline"`
	Trace    TraceConfig    `toml:"trace" yaml:"trace"`
	Order    []OrderConfig  `toml:"order" yaml:"order"`
}

type PipelineConfig struct {
	Jobs           int  `toml:"jobs" yaml:"jobs"`
	Strict         bool `toml:"strict" yaml:"strict"`
	MaxDiagnostics int  `toml:"max_diagnostics" yaml:"max_diagnostics"`
	MaxAdviceDepth int  `toml:"max_advice_depth" yaml:"max_advice_depth"`
}

type TraceConfig struct {
	Level     string `toml:"level" yaml:"level"`
	Mode      string `toml:"mode" yaml:"mode"`
	Output    string `toml:"output" yaml:"output"`
	RingSize  int    `toml:"ring_size" yaml:"ring_size"`
	Heartbeat string `toml:"heartbeat" yaml:"heartbeat"` // Go duration, "" = off
}

// OrderConfig runs every layer of Before ahead of every layer of After.
type OrderConfig struct {
	Before string `toml:"before" yaml:"before"`
	After  string `toml:"after" yaml:"after"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Pipeline: PipelineConfig{
			Jobs:           runtime.GOMAXPROCS(0),
			MaxDiagnostics: DefaultMaxDiagnostics,
			MaxAdviceDepth: DefaultMaxAdviceDepth,
		},
		Trace: TraceConfig{
			Level:    "off",
			Mode:     "ring",
			RingSize: DefaultRingSize,
		},
	}
}

// Find walks up from startDir looking for one of FileNames.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true, nil
			} else if !errors.Is(err, os.ErrNotExist) {
				return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load reads path; the format follows the extension. Missing keys keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := loadTOML(path, &cfg); err != nil {
			return Config{}, err
		}
	case ".yaml", ".yml":
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("%s: %w (want .toml, .yaml or .yml)", path, ErrUnsupportedFormat)
	}
	cfg.Path = path
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func loadTOML(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if meta.IsDefined("pipeline", "max_diagnostics") && cfg.Pipeline.MaxDiagnostics == 0 {
		// 0 в файле означает "без лимита"
		cfg.Pipeline.MaxDiagnostics = -1
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}
	return nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	var probe struct {
		Pipeline map[string]any `yaml:"pipeline"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("%s: failed to parse YAML: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%s: failed to parse YAML: %w", path, err)
	}
	if v, ok := probe.Pipeline["max_diagnostics"]; ok && v == 0 {
		cfg.Pipeline.MaxDiagnostics = -1
	}
	return nil
}

func (c *Config) normalize() {
	for i := range c.Order {
		c.Order[i].Before = layer.Normalize(strings.TrimSpace(c.Order[i].Before))
		c.Order[i].After = layer.Normalize(strings.TrimSpace(c.Order[i].After))
	}
	c.Trace.Level = strings.ToLower(strings.TrimSpace(c.Trace.Level))
	c.Trace.Mode = strings.ToLower(strings.TrimSpace(c.Trace.Mode))
}

// Validate checks value ranges and trace settings.
func (c Config) Validate() error {
	if c.Pipeline.Jobs < 0 {
		return fmt.Errorf("[pipeline].jobs must be >= 0, got %d", c.Pipeline.Jobs)
	}
	if c.Pipeline.MaxAdviceDepth < 0 {
		return fmt.Errorf("[pipeline].max_advice_depth must be >= 0, got %d", c.Pipeline.MaxAdviceDepth)
	}
	for i, o := range c.Order {
		if o.Before == "" || o.After == "" {
			return fmt.Errorf("[[order]] #%d: before and after must be set", i+1)
		}
	}
	if _, err := c.TraceConfig(); err != nil {
		return err
	}
	return nil
}

// Options converts the pipeline section.
func (c Config) Options() pipeline.Options {
	opts := pipeline.Options{
		Jobs:           c.Pipeline.Jobs,
		Strict:         c.Pipeline.Strict,
		MaxDiagnostics: c.Pipeline.MaxDiagnostics,
		MaxAdviceDepth: c.Pipeline.MaxAdviceDepth,
	}
	for _, o := range c.Order {
		opts.Constraints = append(opts.Constraints, layer.Constraint{Before: o.Before, After: o.After})
	}
	return opts
}

// TraceConfig converts the trace section.
func (c Config) TraceConfig() (trace.Config, error) {
	level, err := trace.ParseLevel(c.Trace.Level)
	if err != nil {
		return trace.Config{}, fmt.Errorf("[trace].level: %w", err)
	}
	mode := trace.ModeRing
	if c.Trace.Mode != "" {
		if mode, err = trace.ParseMode(c.Trace.Mode); err != nil {
			return trace.Config{}, fmt.Errorf("[trace].mode: %w", err)
		}
	}
	var heartbeat time.Duration
	if c.Trace.Heartbeat != "" {
		if heartbeat, err = time.ParseDuration(c.Trace.Heartbeat); err != nil {
			return trace.Config{}, fmt.Errorf("[trace].heartbeat: %w", err)
		}
	}
	return trace.Config{
		Level:      level,
		Mode:       mode,
		OutputPath: c.Trace.Output,
		RingSize:   c.Trace.RingSize,
		Heartbeat:  heartbeat,
	}, nil
}
