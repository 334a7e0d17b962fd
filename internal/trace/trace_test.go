package trace

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLevelFiltersScopes(t *testing.T) {
	cases := []struct {
		level Level
		scope Scope
		want  bool
	}{
		{LevelOff, ScopePipeline, false},
		{LevelStage, ScopeStage, true},
		{LevelStage, ScopeStep, false},
		{LevelStep, ScopeStep, true},
		{LevelStep, ScopeInstance, false},
		{LevelDebug, ScopeInstance, true},
	}
	for _, tc := range cases {
		if got := tc.level.ShouldEmit(tc.scope); got != tc.want {
			t.Fatalf("%v.ShouldEmit(%v) = %v, want %v", tc.level, tc.scope, got, tc.want)
		}
	}
}

func TestStreamTracerWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tr := NewStreamTracer(&buf, LevelStep, FormatText)
	ctx := WithTracer(context.Background(), tr)

	stage := Begin(FromContext(ctx), ScopeStage, "stage:0", 0)
	ctx = WithSpan(ctx, stage)
	step := Begin(FromContext(ctx), ScopeStep, "step:a", CurrentSpan(ctx))
	step.WithExtra("units", "1").End("ok")
	Begin(tr, ScopeInstance, "hidden", step.ID()).End("")
	stage.End("")

	out := buf.String()
	for _, want := range []string{"stage:0", "step:a (ok) {units=1}"} {
		if !strings.Contains(out, want) {
			t.Fatalf("trace output %q does not contain %q", out, want)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("instance scope must be filtered at step level: %q", out)
	}
}

func TestRingTracerKeepsLastEvents(t *testing.T) {
	ring := NewRingTracer(2, LevelDebug)
	for _, name := range []string{"a", "b", "c"} {
		Point(ring, ScopeStep, name, "", 0)
	}
	events := ring.Snapshot()
	if len(events) != 2 || events[0].Name != "b" || events[1].Name != "c" {
		t.Fatalf("ring snapshot = %+v, want [b c]", events)
	}
}

func TestNewOffReturnsNop(t *testing.T) {
	tr, err := New(Config{Level: LevelOff})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.Enabled() {
		t.Fatalf("off tracer must be disabled")
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("ParseLevel(verbose) should fail")
	}
}
