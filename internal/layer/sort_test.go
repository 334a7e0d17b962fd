package layer

import (
	"errors"
	"testing"

	"loom/internal/diag"
)

func orderNames(o *Order) []string {
	out := make([]string, 0, o.Len())
	for _, l := range o.Layers() {
		out = append(out, l.ID.String())
	}
	return out
}

func TestSortKeepsClassSequenceAndConstraints(t *testing.T) {
	classes := []ClassSpec{
		{Name: "logging"},
		{Name: "caching", Layers: []string{"build", "wire"}},
		{Name: "audit"},
	}
	constraints := []Constraint{{Before: "logging", After: "caching"}}

	bag := diag.NewBag(10)
	o, err := Sort(classes, constraints, diag.BagReporter{Bag: bag})
	if err != nil {
		t.Fatalf("Sort: %v (%v)", err, bag.Items())
	}
	got := orderNames(o)
	want := []string{"audit/default", "logging/default", "caching/build", "caching/wire"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	for i, l := range o.Layers() {
		if l.Order != i {
			t.Fatalf("layer %s Order = %d, want %d", l.ID, l.Order, i)
		}
	}
	first, ok := o.First("caching")
	if !ok || first.ID.Name != "build" || first.Index != 0 {
		t.Fatalf("First(caching) = %+v, %v", first, ok)
	}
	if n := len(o.OfClass("caching")); n != 2 {
		t.Fatalf("OfClass(caching) = %d layers, want 2", n)
	}
}

func TestSortBatches(t *testing.T) {
	o, err := Sort([]ClassSpec{{Name: "b"}, {Name: "a"}, {Name: "c"}},
		[]Constraint{{Before: "b", After: "c"}}, nil)
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	batches := o.Batches()
	if len(batches) != 2 || len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Fatalf("batches = %v", batches)
	}
	if batches[0][0].Class != "a" || batches[0][1].Class != "b" || batches[1][0].Class != "c" {
		t.Fatalf("batches = %v", batches)
	}
}

func TestSortReportsCycles(t *testing.T) {
	bag := diag.NewBag(10)
	_, err := Sort(
		[]ClassSpec{{Name: "a"}, {Name: "b"}},
		[]Constraint{{Before: "a", After: "b"}, {Before: "b", After: "a"}},
		diag.BagReporter{Bag: bag},
	)
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("err = %v, want ErrCycle", err)
	}
	if bag.Len() != 2 {
		t.Fatalf("diagnostics = %d, want 2", bag.Len())
	}
	for _, d := range bag.Items() {
		if d.Code != diag.OrdLayerCycle {
			t.Fatalf("code = %v, want %v", d.Code, diag.OrdLayerCycle)
		}
	}
}

func TestSortRejectsBrokenDeclarations(t *testing.T) {
	bag := diag.NewBag(10)
	_, err := Sort(
		[]ClassSpec{{Name: "a"}, {Name: "a"}, {Name: "b", Layers: []string{"x", "x"}}},
		[]Constraint{{Before: "a", After: "zzz"}, {Before: "b", After: "b"}},
		diag.BagReporter{Bag: bag},
	)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	want := map[diag.Code]int{
		diag.OrdDuplicateLayer: 2,
		diag.OrdUnknownClass:   1,
		diag.OrdSelfConstraint: 1,
	}
	got := map[diag.Code]int{}
	for _, d := range bag.Items() {
		got[d.Code]++
	}
	for code, n := range want {
		if got[code] != n {
			t.Fatalf("%v count = %d, want %d (all: %v)", code, got[code], n, bag.Items())
		}
	}
}

func TestNormalizeMergesEquivalentNames(t *testing.T) {
	// "é" precomposed vs e + combining acute
	bag := diag.NewBag(10)
	_, err := Sort([]ClassSpec{{Name: "caf\u00e9"}, {Name: "cafe\u0301"}}, nil, diag.BagReporter{Bag: bag})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid for duplicate class", err)
	}
}
