package scenario

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"loom/internal/aspect"
	"loom/internal/decl"
	"loom/internal/diag"
	"loom/internal/layer"
	"loom/internal/pipeline"
)

type verb uint8

const (
	verbTag verb = iota + 1
	verbMember
	verbBase
	verbPropagate
	verbWarn
	verbError
	verbSuppress
	verbFix
	verbIgnore
	verbFail
	verbPanic
)

var verbs = map[string]verb{
	"tag":       verbTag,
	"member":    verbMember,
	"base":      verbBase,
	"propagate": verbPropagate,
	"warn":      verbWarn,
	"error":     verbError,
	"suppress":  verbSuppress,
	"fix":       verbFix,
	"ignore":    verbIgnore,
	"fail":      verbFail,
	"panic":     verbPanic,
}

// transformers only see the snapshot and a reporter
var lowLevelVerbs = map[verb]bool{
	verbTag: true, verbMember: true, verbBase: true,
	verbWarn: true, verbError: true, verbFail: true,
}

type action struct {
	verb   verb
	when   string
	layer  string
	target string
	class  string
	value  string
	kind   decl.Kind
	code   diag.Code
	args   map[string]string
}

func compileAction(spec ActionSpec, lowLevel bool) (action, error) {
	v, ok := verbs[strings.ToLower(strings.TrimSpace(spec.Do))]
	if !ok {
		return action{}, fmt.Errorf("unknown action %q", spec.Do)
	}
	if lowLevel && !lowLevelVerbs[v] {
		return action{}, fmt.Errorf("action %q is not available to transformers", spec.Do)
	}
	a := action{
		verb:   v,
		when:   spec.When,
		layer:  layer.Normalize(spec.Layer),
		target: spec.Target,
		value:  spec.Value,
		args:   spec.Args,
	}
	if a.when != "" {
		if _, err := path.Match(a.when, ""); err != nil {
			return action{}, fmt.Errorf("bad when pattern %q: %w", a.when, err)
		}
	}
	switch v {
	case verbTag, verbBase, verbWarn, verbError, verbFix:
		if a.value == "" {
			return action{}, fmt.Errorf("action %q needs a value", spec.Do)
		}
	case verbMember:
		if a.value == "" {
			return action{}, errors.New(`action "member" needs a value`)
		}
		a.kind = decl.KindMethod
		if spec.Kind != "" {
			if a.kind, ok = decl.ParseKind(spec.Kind); !ok {
				return action{}, fmt.Errorf("unknown declaration kind %q", spec.Kind)
			}
		}
	case verbPropagate:
		if spec.Class == "" {
			return action{}, errors.New(`action "propagate" needs a class`)
		}
		a.class = layer.Normalize(spec.Class)
	case verbSuppress:
		if a.code, ok = diag.ParseCode(spec.Value); !ok {
			return action{}, fmt.Errorf("unknown diagnostic code %q", spec.Value)
		}
	case verbFail, verbPanic:
		if a.value == "" {
			a.value = spec.Do
		}
	}
	return a, nil
}

func (a action) matches(target decl.ID, layerName string) bool {
	if a.layer != "" && a.layer != layerName {
		return false
	}
	if a.when == "" {
		return true
	}
	ok, _ := path.Match(a.when, string(target))
	return ok
}

// text expands {target}, {class} and {layer} in the action value.
func (a action) text(target decl.ID, l layer.Layer) string {
	if !strings.Contains(a.value, "{") {
		return a.value
	}
	return strings.NewReplacer(
		"{target}", string(target),
		"{class}", l.ID.Class,
		"{layer}", l.ID.Name,
	).Replace(a.value)
}

// selectIDs resolves the action target relative to the instance target.
func (a action) selectIDs(view *decl.Snapshot, target decl.ID) []decl.ID {
	switch a.target {
	case "", "@self":
		return []decl.ID{target}
	case "@parent":
		if p := target.Parent(); p != "" && view.Has(p) {
			return []decl.ID{p}
		}
		return nil
	case "@children":
		return view.Children(target)
	case "@siblings":
		var out []decl.ID
		for _, id := range view.Children(target.Parent()) {
			if id != target {
				out = append(out, id)
			}
		}
		return out
	case "@derived":
		return view.Derived(target)
	}
	return []decl.ID{decl.ID(a.target)}
}

// edit applies an edit verb through ed.
func (a action) edit(ed *decl.Editor, target decl.ID, l layer.Layer) error {
	value := a.text(target, l)
	for _, id := range a.selectIDs(ed.View(), target) {
		var err error
		switch a.verb {
		case verbTag:
			err = ed.AddTag(id, value)
		case verbMember:
			_, err = ed.AddMember(id, a.kind, value, decl.Origin{Synthesized: true})
			if errors.Is(err, decl.ErrDuplicate) {
				err = nil
			}
		case verbBase:
			err = ed.AddBase(id, decl.ID(value))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a action) diagnostic(view *decl.Snapshot, target decl.ID, l layer.Layer) diag.Diagnostic {
	msg := a.text(target, l)
	var d diag.Diagnostic
	if a.verb == verbError {
		d = diag.NewError(diag.XfmInfo, view.SpanOf(target), msg)
	} else {
		d = diag.NewWarning(diag.XfmInfo, view.SpanOf(target), msg)
	}
	return d.OnDecl(string(target))
}

// script is the Transformation of a scenario class.
type script struct {
	actions []action
}

func (s *script) Apply(ctx context.Context, c *aspect.Context) (aspect.Outcome, error) {
	target := c.Instance.Target
	for _, a := range s.actions {
		if err := ctx.Err(); err != nil {
			return aspect.OutcomeError, err
		}
		if !a.matches(target, c.Layer.ID.Name) {
			continue
		}
		switch a.verb {
		case verbTag, verbMember, verbBase:
			if err := a.edit(c.Editor, target, c.Layer); err != nil {
				return aspect.OutcomeError, err
			}
		case verbPropagate:
			for _, id := range a.selectIDs(c.Editor.View(), target) {
				c.AddAspect(a.class, id, a.args)
			}
		case verbWarn, verbError:
			c.Report(a.diagnostic(c.Editor.View(), target, c.Layer))
		case verbSuppress:
			for _, id := range a.selectIDs(c.Editor.View(), target) {
				c.Suppress(a.code, id)
			}
		case verbFix:
			c.AddFix(a.text(target, c.Layer))
		case verbIgnore:
			return aspect.OutcomeIgnored, nil
		case verbFail:
			return aspect.OutcomeError, errors.New(a.text(target, c.Layer))
		case verbPanic:
			panic(a.text(target, c.Layer))
		}
	}
	return aspect.OutcomeApplied, nil
}

// transformer is a scripted low-level transformer: every action runs for
// every instance over one unscoped editor.
type transformer struct {
	name    string
	actions []action
}

func (t *transformer) Transform(ctx context.Context, in *decl.Snapshot, w *pipeline.Weave) (*decl.Snapshot, error) {
	ed := in.Edit("")
	for _, p := range w.Instances {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target := p.Instance.Target
		for _, a := range t.actions {
			if !a.matches(target, p.Layer.ID.Name) {
				continue
			}
			switch a.verb {
			case verbTag, verbMember, verbBase:
				if err := a.edit(ed, target, p.Layer); err != nil {
					return nil, fmt.Errorf("%s on %s: %w", t.name, p.Instance, err)
				}
			case verbWarn, verbError:
				w.Reporter.Report(a.diagnostic(ed.View(), target, p.Layer))
			case verbFail:
				return nil, errors.New(a.text(target, p.Layer))
			}
		}
	}
	return ed.Commit(), nil
}
