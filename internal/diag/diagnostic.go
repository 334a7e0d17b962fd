package diag

import (
	"loom/internal/source"
)

type Note struct {
	Span source.Span
	Msg  string
}

type FixEdit struct {
	Span    source.Span
	NewText string
}

// Fix is a code-fix record. Transformations attach fixes to diagnostics or
// publish them standalone; the pipeline never applies them.
type Fix struct {
	Title string
	Decl  string // declaration the fix belongs to, if any
	Edits []FixEdit
}

// Suppression silences diagnostics with Code reported on Decl or any
// declaration nested in it.
type Suppression struct {
	Code Code
	Decl string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Primary  source.Span
	// Decl is the declaration the diagnostic is about ("" for pipeline-level).
	Decl  string
	Notes []Note
	Fixes []Fix
}

// Suppressed reports whether s applies to d.
func (s Suppression) Suppressed(d *Diagnostic) bool {
	if d == nil || s.Code != d.Code || d.Decl == "" {
		return false
	}
	if s.Decl == "" || s.Decl == d.Decl {
		return true
	}
	// вложенные объявления: "ns.Type" покрывает "ns.Type.Member"
	return len(d.Decl) > len(s.Decl) && d.Decl[:len(s.Decl)] == s.Decl && d.Decl[len(s.Decl)] == '.'
}
