package diag

import "loom/internal/source"

// New builds a diagnostic with no notes or fixes.
func New(sev Severity, code Code, primary source.Span, msg string) Diagnostic {
	return Diagnostic{Severity: sev, Code: code, Primary: primary, Message: msg}
}

func NewError(code Code, primary source.Span, msg string) Diagnostic {
	return New(SevError, code, primary, msg)
}

func NewWarning(code Code, primary source.Span, msg string) Diagnostic {
	return New(SevWarning, code, primary, msg)
}

// OnDecl binds the diagnostic to a declaration so suppressions can match it.
func (d Diagnostic) OnDecl(id string) Diagnostic {
	d.Decl = id
	return d
}

func (d Diagnostic) WithNote(sp source.Span, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{Span: sp, Msg: msg})
	return d
}

// WithFix attaches a fix scoped to the diagnostic's declaration; set the
// declaration with OnDecl first.
func (d Diagnostic) WithFix(title string, edits ...FixEdit) Diagnostic {
	d.Fixes = append(d.Fixes, Fix{Title: title, Decl: d.Decl, Edits: edits})
	return d
}
