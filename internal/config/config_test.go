package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"loom/internal/trace"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "loom.toml", `
[pipeline]
jobs = 3
strict = true
max_advice_depth = 4

[trace]
level = "Step"
mode = "stream"
output = "run.ndjson"
heartbeat = "2s"

[[order]]
before = "audit"
after = "cache"

[[order]]
before = "cache"
after = "café"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Path != path {
		t.Fatalf("path = %q", cfg.Path)
	}

	opts := cfg.Options()
	if opts.Jobs != 3 || !opts.Strict || opts.MaxAdviceDepth != 4 {
		t.Fatalf("options = %+v", opts)
	}
	if opts.MaxDiagnostics != DefaultMaxDiagnostics {
		t.Fatalf("max diagnostics = %d, want default %d", opts.MaxDiagnostics, DefaultMaxDiagnostics)
	}
	if len(opts.Constraints) != 2 || opts.Constraints[1].After != "café" {
		t.Fatalf("constraints = %+v", opts.Constraints)
	}

	tc, err := cfg.TraceConfig()
	if err != nil {
		t.Fatalf("TraceConfig: %v", err)
	}
	if tc.Level != trace.LevelStep || tc.Mode != trace.ModeStream || tc.Heartbeat != 2*time.Second || tc.OutputPath != "run.ndjson" {
		t.Fatalf("trace config = %+v", tc)
	}
	if tc.RingSize != DefaultRingSize {
		t.Fatalf("ring size = %d", tc.RingSize)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "loom.yaml", `
pipeline:
  jobs: 1
  max_diagnostics: 0
order:
  - before: log
    after: "cafe\u0301"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts := cfg.Options()
	if opts.Jobs != 1 || opts.Strict {
		t.Fatalf("options = %+v", opts)
	}
	if opts.MaxDiagnostics >= 0 {
		t.Fatalf("max_diagnostics: 0 should lift the cap, got %d", opts.MaxDiagnostics)
	}
	if opts.MaxAdviceDepth != DefaultMaxAdviceDepth {
		t.Fatalf("max advice depth = %d", opts.MaxAdviceDepth)
	}
	// decomposed input is normalized to NFC
	if got := opts.Constraints[0].After; got != "caf\u00e9" {
		t.Fatalf("after = %q", got)
	}
}

func TestLoadTOMLZeroDiagnosticsLiftsCap(t *testing.T) {
	path := writeFile(t, t.TempDir(), "loom.toml", "[pipeline]\nmax_diagnostics = 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.MaxDiagnostics >= 0 {
		t.Fatalf("max diagnostics = %d", cfg.Pipeline.MaxDiagnostics)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name, file, content string
	}{
		{"unknown toml key", "a.toml", "[pipeline]\nworkers = 2\n"},
		{"unknown yaml key", "b.yaml", "pipeline:\n  workers: 2\n"},
		{"negative jobs", "c.toml", "[pipeline]\njobs = -1\n"},
		{"bad level", "d.toml", "[trace]\nlevel = \"loud\"\n"},
		{"bad heartbeat", "e.toml", "[trace]\nheartbeat = \"soon\"\n"},
		{"half constraint", "f.toml", "[[order]]\nbefore = \"audit\"\n"},
		{"broken toml", "g.toml", "[pipeline\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeFile(t, dir, tc.file, tc.content)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}

	_, err := Load(writeFile(t, dir, "loom.json", "{}"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("json: got %v", err)
	}
}

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	want := writeFile(t, root, "loom.yml", "pipeline:\n  strict: true\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, ok, err := Find(nested)
	if err != nil || !ok {
		t.Fatalf("Find: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("Find = %q, want %q", got, want)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	tc, err := cfg.TraceConfig()
	if err != nil || tc.Level != trace.LevelOff {
		t.Fatalf("trace config = %+v, %v", tc, err)
	}
	if cfg.Options().Jobs < 1 {
		t.Fatalf("jobs = %d", cfg.Options().Jobs)
	}
}
