package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"loom/internal/report"
)

const fixtures = "../../internal/scenario/testdata"

// resetFlags restores flag defaults: cobra keeps values between Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRunCheckWritesReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.mp")
	out, err := execute(t, "run", "--color=off", "--check", "--report", path, filepath.Join(fixtures, "weave.toml"))
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, ": ok") {
		t.Fatalf("missing summary:\n%s", out)
	}
	r, err := report.Read(path)
	if err != nil {
		t.Fatalf("report.Read: %v", err)
	}
	if r.Scenario != "weave" || r.Halted != "" || len(r.Stages) != 2 {
		t.Fatalf("report = %+v", r)
	}
}

func TestReportFiltersSeverity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "misc.mp")
	if out, err := execute(t, "run", "--color=off", "--report", path, filepath.Join(fixtures, "misc.toml")); err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	out, err := execute(t, "report", "--outcomes", path)
	if err != nil {
		t.Fatalf("report: %v\n%s", err, out)
	}
	if !strings.Contains(out, "XFM3000") || !strings.Contains(out, "OUTCOME") {
		t.Fatalf("output:\n%s", out)
	}
	out, err = execute(t, "report", "--min-severity=error", path)
	if err != nil {
		t.Fatalf("report: %v\n%s", err, out)
	}
	if strings.Contains(out, "XFM3000") || !strings.Contains(out, "(0 shown)") {
		t.Fatalf("filtered output:\n%s", out)
	}
	if _, err := execute(t, "report", "--min-severity=loud", path); err == nil {
		t.Fatalf("unknown severity accepted")
	}
}

func TestRunHaltedExitsNonZero(t *testing.T) {
	out, err := execute(t, "run", "--color=off", filepath.Join(fixtures, "late.toml"))
	var exit *exitError
	if !errors.As(err, &exit) || exit.code != 1 {
		t.Fatalf("err = %v\n%s", err, out)
	}
	if !strings.Contains(out, "SCH2001") || !strings.Contains(out, "halted at") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestPlan(t *testing.T) {
	out, err := execute(t, "plan", filepath.Join(fixtures, "inherit.yaml"))
	if err != nil {
		t.Fatalf("plan: %v\n%s", err, out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 4 || !strings.HasPrefix(lines[0], "ORDER") {
		t.Fatalf("output:\n%s", out)
	}
	for i, want := range []string{"audit/early", "codegen/default", "audit/late"} {
		if !strings.Contains(lines[i+1], want) {
			t.Fatalf("line %d = %q, want %s", i+1, lines[i+1], want)
		}
	}
	if !strings.Contains(out, "3 layer(s) in 3 stage(s), 3 source(s)") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestTestCommandRunsFixtures(t *testing.T) {
	out, err := execute(t, "test", "--color=off", "--parallel=2", fixtures)
	if err != nil {
		t.Fatalf("test: %v\n%s", err, out)
	}
	if n := strings.Count(out, "PASS "); n != 4 {
		t.Fatalf("PASS lines = %d, want 4:\n%s", n, out)
	}
	if !strings.Contains(out, "4 passed, 0 failed") {
		t.Fatalf("missing summary:\n%s", out)
	}
}

func TestTestCommandReportsFailures(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.toml")
	data := "name = \"broken\"\n\n[[decl]]\nid = \"a\"\nkind = \"ns\"\n\n[expect]\nhalted = true\n"
	if err := os.WriteFile(broken, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "test", "--color=off", "--verbose", filepath.Join(fixtures, "weave.toml"), broken)
	var exit *exitError
	if !errors.As(err, &exit) || exit.code != 1 {
		t.Fatalf("err = %v\n%s", err, out)
	}
	if !strings.Contains(out, "FAIL "+broken) || !strings.Contains(out, "halted = false, want true") {
		t.Fatalf("output:\n%s", out)
	}
	if !strings.Contains(out, "1 passed, 1 failed") {
		t.Fatalf("missing summary:\n%s", out)
	}
}

func TestRunMinSeverityHidesWarnings(t *testing.T) {
	out, err := execute(t, "run", "--color=off", "--min-severity=error", filepath.Join(fixtures, "misc.toml"))
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if strings.Contains(out, "XFM3000") {
		t.Fatalf("warning printed despite --min-severity=error:\n%s", out)
	}
	out, err = execute(t, "run", "--color=off", filepath.Join(fixtures, "misc.toml"))
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "XFM3000") {
		t.Fatalf("warning missing:\n%s", out)
	}
}

func TestCollectScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.toml", "b.yaml", "loom.toml", "notes.txt", ".hidden/c.toml", "sub/d.yml"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	files, err := collectScenarios([]string{dir, filepath.Join(dir, "a.toml")})
	if err != nil {
		t.Fatalf("collectScenarios: %v", err)
	}
	var got []string
	for _, f := range files {
		rel, _ := filepath.Rel(dir, f)
		got = append(got, filepath.ToSlash(rel))
	}
	if strings.Join(got, " ") != "a.toml b.yaml sub/d.yml" {
		t.Fatalf("files = %v", got)
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	err := writeTable(&buf, []string{"DECL", "TAGS"}, [][]string{
		{"shop.Order", "audited"},
		{"магазин", "x"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "DECL        TAGS\nshop.Order  audited\nмагазин     x\n"
	if buf.String() != want {
		t.Fatalf("table:\n%q\nwant\n%q", buf.String(), want)
	}
}
