package source

import "testing"

func TestFileSetAddIsIdempotent(t *testing.T) {
	fs := NewFileSet()
	a := fs.Add("src/a.cs")
	b := fs.Add("src/b.cs")
	again := fs.Add("src/./a.cs")

	if a == NoFile || b == NoFile {
		t.Fatalf("Add returned NoFile: a=%d b=%d", a, b)
	}
	if again != a {
		t.Fatalf("Add(src/./a.cs) = %d, want %d", again, a)
	}
	if fs.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", fs.Len())
	}
	if got := fs.Path(b); got != "src/b.cs" {
		t.Fatalf("Path(b) = %q, want %q", got, "src/b.cs")
	}
	if id, ok := fs.Lookup("src/b.cs"); !ok || id != b {
		t.Fatalf("Lookup(src/b.cs) = %d, %v", id, ok)
	}
}

func TestFileSetUnknownIDs(t *testing.T) {
	fs := NewFileSet()
	if _, ok := fs.Get(NoFile); ok {
		t.Fatalf("Get(NoFile) should fail")
	}
	if got := fs.Path(42); got != "" {
		t.Fatalf("Path(42) = %q, want empty", got)
	}
}

func TestSpanValid(t *testing.T) {
	if (Span{}).Valid() {
		t.Fatalf("zero span must not be valid")
	}
	if (Span{File: 1, Start: 9, End: 3}).Valid() {
		t.Fatalf("reversed span must not be valid")
	}
	sp := Span{File: 1, Start: 4, End: 4}
	if !sp.Valid() || !sp.Empty() {
		t.Fatalf("%v should be a valid empty span", sp)
	}
	if got := (Span{File: 2, Start: 5, End: 12}).String(); got != "2:5-12" {
		t.Fatalf("String = %q", got)
	}
}
