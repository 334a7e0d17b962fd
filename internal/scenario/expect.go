package scenario

import (
	"fmt"

	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/pipeline"
)

// Check compares res against the expectations and returns one line per
// mismatch. A nil spec accepts everything.
func Check(exp *ExpectSpec, res *pipeline.Result) []string {
	if exp == nil || res == nil {
		return nil
	}
	var out []string
	if exp.Halted != nil && *exp.Halted != (res.Halted != "") {
		out = append(out, fmt.Sprintf("halted = %v, want %v", res.Halted != "", *exp.Halted))
	}
	if exp.Errors != nil {
		n := 0
		for _, d := range res.Diagnostics {
			if d.Severity >= diag.SevError {
				n++
			}
		}
		if n != *exp.Errors {
			out = append(out, fmt.Sprintf("errors = %d, want %d", n, *exp.Errors))
		}
	}

	seen := make(map[string]bool, len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		seen[d.Code.ID()] = true
	}
	for _, id := range exp.Diagnostics {
		if code, ok := diag.ParseCode(id); !ok || !seen[code.ID()] {
			out = append(out, fmt.Sprintf("diagnostic %s not reported", id))
		}
	}
	for _, id := range exp.Absent {
		if code, ok := diag.ParseCode(id); ok && seen[code.ID()] {
			out = append(out, fmt.Sprintf("diagnostic %s reported", id))
		}
	}

	for _, de := range exp.Decls {
		d, ok := res.Snapshot.Lookup(decl.ID(de.ID))
		switch {
		case de.Missing && ok:
			out = append(out, fmt.Sprintf("%s exists", de.ID))
			continue
		case de.Missing:
			continue
		case !ok:
			out = append(out, fmt.Sprintf("%s does not exist", de.ID))
			continue
		}
		for _, tag := range de.Tags {
			if !d.HasTag(tag) {
				out = append(out, fmt.Sprintf("%s lacks tag %q", de.ID, tag))
			}
		}
		for _, tag := range de.NotTags {
			if d.HasTag(tag) {
				out = append(out, fmt.Sprintf("%s has tag %q", de.ID, tag))
			}
		}
	}
	return out
}
