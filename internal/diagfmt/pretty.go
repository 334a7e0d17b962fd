package diagfmt

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"loom/internal/diag"
	"loom/internal/source"
)

type palette struct {
	err, warn, info, code, loc, note, fix *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		err:  color.New(color.FgRed, color.Bold),
		warn: color.New(color.FgYellow, color.Bold),
		info: color.New(color.FgCyan),
		code: color.New(color.Faint),
		loc:  color.New(color.Bold),
		note: color.New(color.FgBlue),
		fix:  color.New(color.FgGreen),
	}
	for _, c := range []*color.Color{p.err, p.warn, p.info, p.code, p.loc, p.note, p.fix} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p palette) severity(s diag.Severity) *color.Color {
	switch s {
	case diag.SevError:
		return p.err
	case diag.SevWarning:
		return p.warn
	}
	return p.info
}

// Pretty форматирует диагностики в человекочитаемый вид.
// Идёт по bag.Items() (ожидается bag.Sort() заранее).
// Для каждого diag печатает:
// <path>:<start>-<end>: <SEV> <CODE>: <Message> [<decl>]
// затем Notes и Fixes, если они включены опциями.
func Pretty(w io.Writer, bag *diag.Bag, fs *source.FileSet, opts PrettyOpts) {
	p := newPalette(opts.Color)
	var errs, warns int
	for _, d := range bag.Items() {
		switch d.Severity {
		case diag.SevError:
			errs++
		case diag.SevWarning:
			warns++
		}
		if loc := location(d.Primary, fs, opts.PathMode); loc != "" {
			fmt.Fprint(w, p.loc.Sprint(loc), ": ")
		}
		fmt.Fprintf(w, "%s %s: %s",
			p.severity(d.Severity).Sprint(d.Severity.String()),
			p.code.Sprint(d.Code.ID()),
			truncate(d.Message, opts.Width))
		if d.Decl != "" {
			fmt.Fprintf(w, " [%s]", d.Decl)
		}
		fmt.Fprintln(w)

		if opts.ShowNotes {
			for _, n := range d.Notes {
				fmt.Fprintf(w, "  %s", p.note.Sprint("note"))
				if loc := location(n.Span, fs, opts.PathMode); loc != "" {
					fmt.Fprintf(w, " %s", loc)
				}
				fmt.Fprintf(w, ": %s\n", truncate(n.Msg, opts.Width))
			}
		}
		if opts.ShowFixes {
			for _, f := range d.Fixes {
				fmt.Fprintf(w, "  %s: %s\n", p.fix.Sprint("fix"), truncate(f.Title, opts.Width))
			}
		}
	}
	if opts.Summary && (errs > 0 || warns > 0) {
		fmt.Fprintf(w, "%s, %s\n",
			p.err.Sprint(plural(errs, "error")),
			p.warn.Sprint(plural(warns, "warning")))
	}
}

func truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
