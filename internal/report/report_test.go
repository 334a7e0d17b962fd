package report

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/pipeline"
	"loom/internal/source"
)

func sampleRun(t *testing.T) (*pipeline.Result, *source.FileSet) {
	t.Helper()
	files := source.NewFileSet()
	fid := files.Add("shop.cs")
	ed := decl.Empty().Edit("")
	if _, err := ed.AddMember("", decl.KindNamespace, "shop", decl.Origin{Path: "shop.cs"}); err != nil {
		t.Fatal(err)
	}
	origin := decl.Origin{Path: "shop.cs", Span: source.Span{File: fid, Start: 10, End: 15}}
	if _, err := ed.AddMember("shop", decl.KindType, "Order", origin); err != nil {
		t.Fatal(err)
	}
	snap := ed.Commit()

	reg := aspect.NewRegistry().MustAdd(&aspect.Class{
		Name: "audit",
		Transformation: aspect.TransformationFunc(func(_ context.Context, c *aspect.Context) (aspect.Outcome, error) {
			if err := c.Editor.AddTag(c.Instance.Target, "audited"); err != nil {
				return aspect.OutcomeError, err
			}
			c.Report(diag.NewWarning(diag.XfmInfo, c.Editor.View().SpanOf(c.Instance.Target), "audited").
				OnDecl(string(c.Instance.Target)))
			c.AddFix("drop audit")
			return aspect.OutcomeApplied, nil
		}),
	})
	orch, err := pipeline.New(pipeline.Options{Jobs: 1}, reg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	src := &aspect.StaticSource{SourceName: "attrs", ClassName: "audit", Items: []aspect.Request{{Target: "shop.Order"}}}
	res, err := orch.Execute(context.Background(), snap, []aspect.Source{src})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res, files
}

func TestFromResult(t *testing.T) {
	res, files := sampleRun(t)
	r := FromResult("sample", res, files)

	if r.Schema != SchemaVersion || r.RunID != res.RunID.String() || r.Halted != "" {
		t.Fatalf("header = %+v", r)
	}
	if len(r.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v", r.Diagnostics)
	}
	d := r.Diagnostics[0]
	if d.Code != "XFM3000" || d.Path != "shop.cs" || d.Start != 10 || d.Decl != "shop.Order" || d.Severity != "WARNING" {
		t.Fatalf("diagnostic = %+v", d)
	}
	if len(r.Outcomes) != 1 || r.Outcomes[0].Instance != "audit@shop.Order" || r.Outcomes[0].Outcome != "applied" {
		t.Fatalf("outcomes = %+v", r.Outcomes)
	}
	if len(r.Fixes) != 1 || r.Fixes[0] != "drop audit" {
		t.Fatalf("fixes = %v", r.Fixes)
	}
	var order *Decl
	for i := range r.Decls {
		if r.Decls[i].ID == "shop.Order" {
			order = &r.Decls[i]
		}
	}
	if order == nil || order.Kind != decl.KindType.String() || len(order.Tags) != 1 || order.Tags[0] != "audited" {
		t.Fatalf("decls = %+v", r.Decls)
	}
	if r.Version != res.Snapshot.Version() {
		t.Fatalf("version = %d", r.Version)
	}
}

func TestWriteRead(t *testing.T) {
	res, files := sampleRun(t)
	want := FromResult("sample", res, files)
	path := filepath.Join(t.TempDir(), "out", "run.mp")

	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.RunID != want.RunID || got.Scenario != "sample" || len(got.Decls) != len(want.Decls) {
		t.Fatalf("read back %+v", got)
	}
	if got.Counters != want.Counters {
		t.Fatalf("counters = %+v, want %+v", got.Counters, want.Counters)
	}
	if len(got.Stages) != 1 || got.Stages[0].Kind != pipeline.StageHighLevel {
		t.Fatalf("stages = %+v", got.Stages)
	}

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if err != nil || len(matches) != 0 {
		t.Fatalf("temp files left behind: %v %v", matches, err)
	}
}

func TestDecodeRejectsOtherSchema(t *testing.T) {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(&Report{Schema: SchemaVersion + 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := Decode(&buf); !errors.Is(err, ErrSchema) {
		t.Fatalf("Decode: %v", err)
	}
}
