package decl

import (
	"strings"

	"loom/internal/source"
)

// ID is the qualified name of a declaration ("shop.Order.Total"). Ids are
// derived from the parent id and the declaration name, so two independent
// editors can never allocate the same id for different declarations.
type ID string

// Parent returns the id of the enclosing declaration, "" for roots.
func (id ID) Parent() ID {
	if i := strings.LastIndexByte(string(id), '.'); i >= 0 {
		return id[:i]
	}
	return ""
}

// Name returns the last segment of the id.
func (id ID) Name() string {
	if i := strings.LastIndexByte(string(id), '.'); i >= 0 {
		return string(id[i+1:])
	}
	return string(id)
}

// Child builds the id of member name declared in id.
func (id ID) Child(name string) ID {
	if id == "" {
		return ID(name)
	}
	return id + "." + ID(name)
}

// Within reports whether id equals scope or is nested in it.
func (id ID) Within(scope ID) bool {
	if scope == "" || id == scope {
		return true
	}
	return len(id) > len(scope) && id[:len(scope)] == scope && id[len(scope)] == '.'
}

// Kind classifies declarations.
type Kind uint8

const (
	KindNamespace Kind = iota + 1
	KindType
	KindMethod
	KindField
	KindProperty
	KindParameter
)

func (k Kind) String() string {
	switch k {
	case KindNamespace:
		return "namespace"
	case KindType:
		return "type"
	case KindMethod:
		return "method"
	case KindField:
		return "field"
	case KindProperty:
		return "property"
	case KindParameter:
		return "parameter"
	}
	return "unknown"
}

// ParseKind converts the textual form used in scenario files.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case "namespace", "ns":
		return KindNamespace, true
	case "type", "class", "struct":
		return KindType, true
	case "method":
		return KindMethod, true
	case "field":
		return KindField, true
	case "property":
		return KindProperty, true
	case "parameter", "param":
		return KindParameter, true
	}
	return 0, false
}

// Origin says where a declaration comes from.
type Origin struct {
	Path string      // source path, "" for synthesized declarations
	Span source.Span // position in Path
	// Synthesized declarations (added by transformations, implicit members)
	// have no source position.
	Synthesized bool
	// Signature is a structural signature used to order synthesized
	// declarations deterministically.
	Signature string
}

// Decl is one node of the declaration graph. Values stored in a Snapshot are
// never modified; editors copy a Decl before changing it.
type Decl struct {
	ID      ID
	Parent  ID
	Kind    Kind
	Name    string
	Origin  Origin
	Bases   []ID // base types (KindType only)
	Tags    []string
	Members []ID // children in declaration order
}

// HasTag reports whether the declaration carries tag.
func (d *Decl) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (d *Decl) clone() *Decl {
	cp := *d
	cp.Bases = append([]ID(nil), d.Bases...)
	cp.Tags = append([]string(nil), d.Tags...)
	cp.Members = append([]ID(nil), d.Members...)
	return &cp
}
