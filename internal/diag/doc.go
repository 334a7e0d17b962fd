// Package diag defines the diagnostic model shared by every pipeline stage.
//
// # Purpose
//
//   - Provide deterministic data structures for findings produced while
//     ordering layers, discovering transformation sources, scheduling work
//     and applying transformations.
//   - Offer light-weight utilities (Reporter, Bag) that let producers emit
//     diagnostics without coupling to storage or formatting.
//   - Carry suppressions and code-fix records next to diagnostics so the
//     pipeline result can hand all three to its caller.
//
// # Scope
//
// Package diag does not format or print anything. Rendering lives in
// internal/diagfmt.
//
// # Data model
//
// Diagnostic is the central record:
//
//   - Severity: tri-level enum (Info, Warning, Error), see severity.go.
//   - Code: compact numeric identifier (see codes.go) with a stable string
//     form such as SCH2001.
//   - Message: short human-oriented text.
//   - Primary: source.Span of the offending declaration, zero for
//     pipeline-level findings.
//   - Decl: declaration id the finding is about; suppressions match on it.
//   - Notes: secondary spans, e.g. the predecessor of a late contribution.
//   - Fixes: optional Fix records.
//
// # Concurrency
//
// Bag and DedupReporter are goroutine-safe: apply units fan out per declaring
// type and every worker reports into the same Bag. The pipeline never removes
// a diagnostic once added, even when the effects of the transformation that
// produced it are rolled back.
package diag
