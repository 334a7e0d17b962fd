package diagfmt

import (
	"bytes"
	"strings"
	"testing"

	"loom/internal/diag"
	"loom/internal/source"
)

func sampleBag(t *testing.T) (*diag.Bag, *source.FileSet) {
	t.Helper()
	fs := source.NewFileSet()
	fileID := fs.Add("/home/user/shop/src/order.cs")

	bag := diag.NewBag(10)
	bag.Add(diag.NewError(diag.SchPlacementTooLate, source.Span{File: fileID, Start: 10, End: 15},
		"log@shop.Order cannot be placed at log/default 0.1 apply+0").
		OnDecl("shop.Order").
		WithNote(source.Span{File: fileID, Start: 60, End: 64}, "contributed by log@shop.Order.Line").
		WithFix("reorder the log layer"))
	bag.Add(diag.NewWarning(diag.XfmInfo, source.Span{}, "pipeline-level warning"))
	bag.Sort()
	return bag, fs
}

func TestPathModes(t *testing.T) {
	bag, fs := sampleBag(t)
	tests := []struct {
		name     string
		mode     PathMode
		contains string
	}{
		{"Auto", PathModeAuto, "/home/user/shop/src/order.cs:10-15"},
		{"Absolute", PathModeAbsolute, "/home/user/shop/src/order.cs:10-15"},
		{"Basename", PathModeBasename, "order.cs:10-15: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			Pretty(&buf, bag, fs, PrettyOpts{PathMode: tt.mode})
			output := buf.String()
			if !strings.Contains(output, tt.contains) {
				t.Errorf("Expected output to contain %q, got:\n%s", tt.contains, output)
			}
			if !strings.Contains(output, "ERROR SCH2001") {
				t.Errorf("Expected ERROR SCH2001 in output, got:\n%s", output)
			}
			if !strings.Contains(output, "[shop.Order]") {
				t.Errorf("Expected declaration in output, got:\n%s", output)
			}
		})
	}
}

func TestPrettyNotesFixesSummary(t *testing.T) {
	bag, fs := sampleBag(t)

	var plain bytes.Buffer
	Pretty(&plain, bag, fs, PrettyOpts{PathMode: PathModeBasename})
	if strings.Contains(plain.String(), "note") || strings.Contains(plain.String(), "fix") {
		t.Fatalf("notes and fixes must be opt-in:\n%s", plain.String())
	}

	var buf bytes.Buffer
	Pretty(&buf, bag, fs, PrettyOpts{PathMode: PathModeBasename, ShowNotes: true, ShowFixes: true, Summary: true})
	want := []string{
		"  note order.cs:60-64: contributed by log@shop.Order.Line\n",
		"  fix: reorder the log layer\n",
		"WARNING XFM3000: pipeline-level warning\n",
		"1 error, 1 warning\n",
	}
	for _, w := range want {
		if !strings.Contains(buf.String(), w) {
			t.Errorf("missing %q in:\n%s", w, buf.String())
		}
	}
}

func TestPrettyColor(t *testing.T) {
	bag, fs := sampleBag(t)

	var colored, plain bytes.Buffer
	Pretty(&colored, bag, fs, PrettyOpts{Color: true})
	Pretty(&plain, bag, fs, PrettyOpts{Color: false})
	if !strings.Contains(colored.String(), "\x1b[") {
		t.Fatalf("expected ANSI escapes:\n%q", colored.String())
	}
	if strings.Contains(plain.String(), "\x1b[") {
		t.Fatalf("unexpected ANSI escapes:\n%q", plain.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 0); got != "short" {
		t.Fatalf("no width: %q", got)
	}
	if got := truncate("declaration", 8); got != "decla..." {
		t.Fatalf("truncate = %q", got)
	}
	// широкие символы занимают две колонки
	if got := truncate("日本語テキスト", 7); got != "日本..." {
		t.Fatalf("wide truncate = %q", got)
	}
}
