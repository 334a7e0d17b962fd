// Package scenario reads declarative pipeline fixtures: a declaration tree,
// transformation classes built from a small action vocabulary, low-level
// transformers, sources and the expected outcome. The CLI runs them and the
// tests use them as end-to-end fixtures.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned for files that are neither TOML nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported scenario format")

// File is the decoded form of a scenario file.
type File struct {
	Path        string `toml:"-" yaml:"-"`
	Name        string `toml:"name" yaml:"name"`
	Description string `toml:"description" yaml:"description"`
	// SourcePath is the default path recorded in declaration origins.
	SourcePath string `toml:"file" yaml:"file"`

	Decls        []DeclSpec        `toml:"decl" yaml:"decls"`
	Classes      []ClassSpec       `toml:"class" yaml:"classes"`
	Transformers []TransformerSpec `toml:"transformer" yaml:"transformers"`
	Sources      []SourceSpec      `toml:"source" yaml:"sources"`
	Order        []OrderSpec       `toml:"order" yaml:"order"`
	Expect       *ExpectSpec       `toml:"expect" yaml:"expect"`
}

// DeclSpec declares one node. Parents must be declared before children.
type DeclSpec struct {
	ID          string   `toml:"id" yaml:"id"`
	Kind        string   `toml:"kind" yaml:"kind"`
	Path        string   `toml:"path" yaml:"path"`
	Pos         *uint32  `toml:"pos" yaml:"pos"` // byte offset in Path; default: declaration order
	Bases       []string `toml:"bases" yaml:"bases"`
	Tags        []string `toml:"tags" yaml:"tags"`
	Synthesized bool     `toml:"synthesized" yaml:"synthesized"`
}

type ClassSpec struct {
	Name          string       `toml:"name" yaml:"name"`
	Layers        []string     `toml:"layers" yaml:"layers"`
	ExplicitOrder int          `toml:"explicit_order" yaml:"explicit_order"`
	Transformer   string       `toml:"transformer" yaml:"transformer"`
	Eligible      []string     `toml:"eligible" yaml:"eligible"` // declaration kinds, empty = all
	Actions       []ActionSpec `toml:"action" yaml:"actions"`
}

// TransformerSpec is a low-level transformer applying edit actions to every
// instance it receives.
type TransformerSpec struct {
	Name    string       `toml:"name" yaml:"name"`
	Actions []ActionSpec `toml:"action" yaml:"actions"`
}

// ActionSpec is one step of a scripted transformation.
//
//	tag       add tag Value to the selected declarations
//	member    declare member Value (of Kind) under the selected declarations
//	base      make the selected declarations inherit from Value
//	propagate request Class on the selected declarations
//	warn      report Value as a warning; error reports it as an error
//	suppress  suppress code Value on the selected declarations
//	fix       publish a code fix titled Value
//	ignore    stop with the Ignored outcome
//	fail      stop with the Error outcome and message Value
//	panic     panic with Value
//
// Target selects declarations relative to the instance target: @self (the
// default), @parent, @children, @siblings, @derived or a literal id. When
// restricts the action to targets matching a glob, Layer to one layer.
type ActionSpec struct {
	Do     string            `toml:"do" yaml:"do"`
	When   string            `toml:"when" yaml:"when"`
	Layer  string            `toml:"layer" yaml:"layer"`
	Target string            `toml:"target" yaml:"target"`
	Class  string            `toml:"class" yaml:"class"`
	Value  string            `toml:"value" yaml:"value"`
	Kind   string            `toml:"kind" yaml:"kind"`
	Args   map[string]string `toml:"args" yaml:"args"`
}

type SourceSpec struct {
	Name     string        `toml:"name" yaml:"name"`
	Class    string        `toml:"class" yaml:"class"`
	Requests []RequestSpec `toml:"request" yaml:"requests"`
}

type RequestSpec struct {
	Kind   string            `toml:"kind" yaml:"kind"` // explicit (default), inheritable, required, exclude
	Target string            `toml:"target" yaml:"target"`
	Args   map[string]string `toml:"args" yaml:"args"`
}

type OrderSpec struct {
	Before string `toml:"before" yaml:"before"`
	After  string `toml:"after" yaml:"after"`
}

// ExpectSpec describes the outcome a scenario must produce.
type ExpectSpec struct {
	Halted      *bool        `toml:"halted" yaml:"halted"`
	Errors      *int         `toml:"errors" yaml:"errors"`
	Diagnostics []string     `toml:"diagnostics" yaml:"diagnostics"` // code ids, each must appear
	Absent      []string     `toml:"absent" yaml:"absent"`           // code ids that must not appear
	Decls       []DeclExpect `toml:"decl" yaml:"decls"`
}

type DeclExpect struct {
	ID      string   `toml:"id" yaml:"id"`
	Tags    []string `toml:"tags" yaml:"tags"`
	NotTags []string `toml:"not_tags" yaml:"not_tags"`
	Missing bool     `toml:"missing" yaml:"missing"`
}

// Load reads a scenario file; the format follows the extension.
func Load(path string) (*File, error) {
	var parse func([]byte) (*File, error)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		parse = ParseTOML
	case ".yaml", ".yml":
		parse = ParseYAML
	default:
		return nil, fmt.Errorf("%s: %w (want .toml, .yaml or .yml)", path, ErrUnsupportedFormat)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	f, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = path
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return f, nil
}

// ParseTOML decodes a TOML scenario.
func ParseTOML(data []byte) (*File, error) {
	var f File
	meta, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	if !meta.IsDefined("decl") {
		return nil, errors.New("missing [[decl]]")
	}
	return &f, nil
}

// ParseYAML decodes a YAML scenario.
func ParseYAML(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(f.Decls) == 0 {
		return nil, errors.New("missing decls")
	}
	return &f, nil
}
