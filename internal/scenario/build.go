package scenario

import (
	"fmt"
	"slices"
	"strings"

	"fortio.org/safecast"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/layer"
	"loom/internal/pipeline"
	"loom/internal/source"
)

// Built is a scenario ready to execute.
type Built struct {
	Name         string
	Snapshot     *decl.Snapshot
	Registry     *aspect.Registry
	Transformers map[string]pipeline.Transformer
	Sources      []aspect.Source
	Constraints  []layer.Constraint
	Files        *source.FileSet
	Expect       *ExpectSpec
}

// Options adds the scenario ordering constraints to base.
func (b *Built) Options(base pipeline.Options) pipeline.Options {
	base.Constraints = append(slices.Clone(base.Constraints), b.Constraints...)
	return base
}

// Build turns the decoded file into a snapshot, a class registry, scripted
// transformers and sources.
func Build(f *File) (*Built, error) {
	b := &Built{
		Name:         f.Name,
		Registry:     aspect.NewRegistry(),
		Transformers: make(map[string]pipeline.Transformer),
		Files:        source.NewFileSet(),
		Expect:       f.Expect,
	}
	snap, err := buildDecls(f, b.Files)
	if err != nil {
		return nil, err
	}
	b.Snapshot = snap

	for i, spec := range f.Transformers {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("transformer #%d: missing name", i+1)
		}
		if _, dup := b.Transformers[name]; dup {
			return nil, fmt.Errorf("transformer %q declared twice", name)
		}
		t := &transformer{name: name}
		for j, as := range spec.Actions {
			a, err := compileAction(as, true)
			if err != nil {
				return nil, fmt.Errorf("transformer %q action #%d: %w", name, j+1, err)
			}
			t.actions = append(t.actions, a)
		}
		b.Transformers[name] = t
	}

	for i, spec := range f.Classes {
		class, err := buildClass(spec)
		if err != nil {
			return nil, fmt.Errorf("class #%d (%s): %w", i+1, spec.Name, err)
		}
		if err := b.Registry.Add(class); err != nil {
			return nil, err
		}
	}

	for i, spec := range f.Sources {
		src, err := buildSource(i, spec)
		if err != nil {
			return nil, err
		}
		b.Sources = append(b.Sources, src)
	}

	for i, o := range f.Order {
		if o.Before == "" || o.After == "" {
			return nil, fmt.Errorf("order #%d: before and after must be set", i+1)
		}
		b.Constraints = append(b.Constraints, layer.Constraint{Before: o.Before, After: o.After})
	}
	return b, nil
}

func buildDecls(f *File, files *source.FileSet) (*decl.Snapshot, error) {
	defaultPath := f.SourcePath
	if defaultPath == "" {
		defaultPath = f.Path
	}
	ed := decl.Empty().Edit("")
	for i, spec := range f.Decls {
		id := decl.ID(strings.TrimSpace(spec.ID))
		if id == "" {
			return nil, fmt.Errorf("decl #%d: missing id", i+1)
		}
		kind, ok := decl.ParseKind(spec.Kind)
		if !ok {
			return nil, fmt.Errorf("decl %s: unknown kind %q", id, spec.Kind)
		}
		origin := decl.Origin{Synthesized: spec.Synthesized}
		if !spec.Synthesized {
			origin.Path = spec.Path
			if origin.Path == "" {
				origin.Path = defaultPath
			}
			pos, err := declPos(i, spec.Pos)
			if err != nil {
				return nil, fmt.Errorf("decl %s: %w", id, err)
			}
			width, err := safecast.Conv[uint32](len(id.Name()))
			if err != nil {
				return nil, fmt.Errorf("decl %s: %w", id, err)
			}
			origin.Span = source.Span{File: files.Add(origin.Path), Start: pos, End: pos + width}
		}
		if _, err := ed.AddMember(id.Parent(), kind, id.Name(), origin); err != nil {
			return nil, fmt.Errorf("decl %s: %w", id, err)
		}
		for _, tag := range spec.Tags {
			if err := ed.AddTag(id, tag); err != nil {
				return nil, fmt.Errorf("decl %s: %w", id, err)
			}
		}
	}
	// базы только после всех объявлений: допускаем ссылки вперёд
	for _, spec := range f.Decls {
		id := decl.ID(strings.TrimSpace(spec.ID))
		for _, base := range spec.Bases {
			if !ed.View().Has(decl.ID(base)) {
				return nil, fmt.Errorf("decl %s: unknown base %q", id, base)
			}
			if err := ed.AddBase(id, decl.ID(base)); err != nil {
				return nil, fmt.Errorf("decl %s: %w", id, err)
			}
		}
	}
	return ed.Commit(), nil
}

func declPos(index int, pos *uint32) (uint32, error) {
	if pos != nil {
		return *pos, nil
	}
	p, err := safecast.Conv[uint32](index * 16)
	if err != nil {
		return 0, err
	}
	return p, nil
}

func buildClass(spec ClassSpec) (*aspect.Class, error) {
	class := &aspect.Class{
		Name:          spec.Name,
		Layers:        spec.Layers,
		ExplicitOrder: spec.ExplicitOrder,
		Transformer:   strings.TrimSpace(spec.Transformer),
	}
	if class.Transformer != "" {
		if len(spec.Actions) > 0 {
			return nil, fmt.Errorf("low-level class delegates to transformer %q and cannot have actions", class.Transformer)
		}
	} else {
		s := &script{}
		for j, as := range spec.Actions {
			a, err := compileAction(as, false)
			if err != nil {
				return nil, fmt.Errorf("action #%d: %w", j+1, err)
			}
			s.actions = append(s.actions, a)
		}
		class.Transformation = s
	}
	if len(spec.Eligible) > 0 {
		kinds := make(map[decl.Kind]bool, len(spec.Eligible))
		for _, k := range spec.Eligible {
			kind, ok := decl.ParseKind(k)
			if !ok {
				return nil, fmt.Errorf("unknown eligible kind %q", k)
			}
			kinds[kind] = true
		}
		class.Eligible = func(d *decl.Decl) bool { return kinds[d.Kind] }
	}
	return class, nil
}

func buildSource(index int, spec SourceSpec) (aspect.Source, error) {
	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("%s#%d", spec.Class, index+1)
	}
	if spec.Class == "" {
		return nil, fmt.Errorf("source %q: missing class", name)
	}
	src := &aspect.StaticSource{SourceName: name, ClassName: layer.Normalize(spec.Class)}
	for j, r := range spec.Requests {
		kind, ok := aspect.ParseRequestKind(r.Kind)
		if !ok {
			return nil, fmt.Errorf("source %q request #%d: unknown kind %q", name, j+1, r.Kind)
		}
		if r.Target == "" {
			return nil, fmt.Errorf("source %q request #%d: missing target", name, j+1)
		}
		src.Items = append(src.Items, aspect.Request{Kind: kind, Target: decl.ID(r.Target), Args: r.Args})
	}
	return src, nil
}
