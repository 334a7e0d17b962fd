package diagfmt

import (
	"fmt"
	"path/filepath"

	"loom/internal/source"
)

func formatPath(path string, mode PathMode) string {
	if path == "" {
		return ""
	}
	switch mode {
	case PathModeAbsolute:
		if abs, err := filepath.Abs(path); err == nil {
			return filepath.ToSlash(abs)
		}
	case PathModeBasename:
		return filepath.Base(path)
	}
	return path
}

// location renders span as path:start-end, or "" for spans outside any file.
func location(span source.Span, fs *source.FileSet, mode PathMode) string {
	if fs == nil || !span.Valid() {
		return ""
	}
	path := formatPath(fs.Path(span.File), mode)
	if path == "" {
		return ""
	}
	if span.Empty() {
		return fmt.Sprintf("%s:%d", path, span.Start)
	}
	return fmt.Sprintf("%s:%d-%d", path, span.Start, span.End)
}
