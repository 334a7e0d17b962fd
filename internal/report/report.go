// Package report stores the outcome of one pipeline run as a MessagePack
// document, so that hosts and tooling can inspect a run after the fact.
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"loom/internal/decl"
	"loom/internal/observ"
	"loom/internal/pipeline"
	"loom/internal/source"
)

// SchemaVersion is bumped whenever the Report layout changes.
const SchemaVersion uint16 = 1

// ErrSchema is returned when a stored report has another schema version.
var ErrSchema = errors.New("report schema mismatch")

// Report is the serialized form of a pipeline.Result.
type Report struct {
	Schema   uint16 `msgpack:"schema"`
	RunID    string `msgpack:"run_id"`
	Scenario string `msgpack:"scenario,omitempty"`
	Halted   string `msgpack:"halted,omitempty"`
	Version  uint64 `msgpack:"version"` // version of the final snapshot

	Diagnostics []Diagnostic           `msgpack:"diagnostics"`
	Suppressed  int                    `msgpack:"suppressed"`
	Dropped     int                    `msgpack:"dropped"`
	Fixes       []string               `msgpack:"fixes,omitempty"`
	Outcomes    []Outcome              `msgpack:"outcomes"`
	Stages      []pipeline.StageReport `msgpack:"stages"`
	Pending     int                    `msgpack:"pending"`
	Counters    observ.CounterSnapshot `msgpack:"counters"`
	Timings     observ.Report          `msgpack:"timings"`
	Decls       []Decl                 `msgpack:"decls"`
}

// Diagnostic is a flattened diag.Diagnostic with the file path resolved.
type Diagnostic struct {
	Severity string   `msgpack:"severity"`
	Code     string   `msgpack:"code"`
	Message  string   `msgpack:"message"`
	Path     string   `msgpack:"path,omitempty"`
	Start    uint32   `msgpack:"start"`
	End      uint32   `msgpack:"end"`
	Decl     string   `msgpack:"decl,omitempty"`
	Notes    []string `msgpack:"notes,omitempty"`
}

// Outcome is how one instance ended at one step.
type Outcome struct {
	Step     string `msgpack:"step"`
	Instance string `msgpack:"instance"`
	Index    int    `msgpack:"index"`
	Outcome  string `msgpack:"outcome"`
	Message  string `msgpack:"message,omitempty"`
}

// Decl is a declaration of the final snapshot.
type Decl struct {
	ID    string   `msgpack:"id"`
	Kind  string   `msgpack:"kind"`
	Tags  []string `msgpack:"tags,omitempty"`
	Bases []string `msgpack:"bases,omitempty"`
}

// FromResult converts res. files resolves diagnostic paths and may be nil.
func FromResult(name string, res *pipeline.Result, files *source.FileSet) *Report {
	r := &Report{
		Schema:     SchemaVersion,
		RunID:      res.RunID.String(),
		Scenario:   name,
		Halted:     res.Halted,
		Suppressed: res.Suppressed,
		Dropped:    res.Dropped,
		Stages:     res.Stages,
		Pending:    res.Pending,
		Counters:   res.Counters,
		Timings:    res.Timings,
	}
	for _, d := range res.Diagnostics {
		entry := Diagnostic{
			Severity: d.Severity.String(),
			Code:     d.Code.ID(),
			Message:  d.Message,
			Start:    d.Primary.Start,
			End:      d.Primary.End,
			Decl:     d.Decl,
		}
		if files != nil && d.Primary.Valid() {
			entry.Path = files.Path(d.Primary.File)
		}
		for _, n := range d.Notes {
			entry.Notes = append(entry.Notes, n.Msg)
		}
		r.Diagnostics = append(r.Diagnostics, entry)
	}
	for _, f := range res.Fixes {
		r.Fixes = append(r.Fixes, f.Title)
	}
	for _, o := range res.Outcomes {
		r.Outcomes = append(r.Outcomes, Outcome{
			Step:     o.Key.String(),
			Instance: o.Instance.String(),
			Index:    o.Index,
			Outcome:  o.Outcome.String(),
			Message:  o.Message,
		})
	}
	if snap := res.Snapshot; snap != nil {
		r.Version = snap.Version()
		r.Decls = declsOf(snap)
	}
	return r
}

func declsOf(snap *decl.Snapshot) []Decl {
	ids := snap.IDs()
	out := make([]Decl, 0, len(ids))
	for _, id := range ids {
		d, ok := snap.Lookup(id)
		if !ok {
			continue
		}
		entry := Decl{ID: string(id), Kind: d.Kind.String(), Tags: append([]string(nil), d.Tags...)}
		for _, b := range d.Bases {
			entry.Bases = append(entry.Bases, string(b))
		}
		out = append(out, entry)
	}
	return out
}

// Encode writes r to w.
func Encode(w io.Writer, r *Report) error {
	return msgpack.NewEncoder(w).Encode(r)
}

// Decode reads a report from rd and checks its schema.
func Decode(rd io.Reader) (*Report, error) {
	var r Report
	if err := msgpack.NewDecoder(rd).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	if r.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchema, r.Schema, SchemaVersion)
	}
	return &r, nil
}

// Write stores r at path, replacing any previous report atomically.
func Write(path string, r *Report) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "report-*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()
	if err = Encode(f, r); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	// атомарная замена
	return os.Rename(f.Name(), path)
}

// Read loads a report written by Write.
func Read(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
