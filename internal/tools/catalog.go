// Package tools holds the tour-data tool catalog: the declarations offered
// to the model and the argument rules checked before any upstream call.
package tools

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"sync"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Param describes one tool argument and the upstream query key it maps to.
type Param struct {
	Name        string        `yaml:"name"`
	Query       string        `yaml:"query"`
	Type        string        `yaml:"type"` // integer, number or string
	Required    bool          `yaml:"required"`
	Nullable    bool          `yaml:"nullable"`
	Enum        []interface{} `yaml:"enum"`
	Pattern     string        `yaml:"pattern"`
	Minimum     *float64      `yaml:"minimum"`
	Maximum     *float64      `yaml:"maximum"`
	Description string        `yaml:"description"`
	// Message overrides the default text of a failed check on this param.
	Message string `yaml:"message"`

	re *regexp.Regexp
}

// Rule makes one argument depend on others.
type Rule struct {
	If      string   `yaml:"if"`
	Needs   []string `yaml:"needs"`
	Message string   `yaml:"message"`
}

// ParamSet is a reusable group of params and their rules.
type ParamSet struct {
	Params   []Param `yaml:"params"`
	Requires []Rule  `yaml:"requires"`
}

// Spec is a resolved tool entry: its own params followed by those of every
// set it uses.
type Spec struct {
	Name        string   `yaml:"name"`
	Path        string   `yaml:"path"`
	Description string   `yaml:"description"`
	Uses        []string `yaml:"uses"`
	Params      []Param  `yaml:"params"`
	Requires    []Rule   `yaml:"requires"`

	byName map[string]*Param
}

// Param returns the named param, if declared.
func (s *Spec) Param(name string) (*Param, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// Catalog is a loaded tool catalog.
type Catalog struct {
	Service   string              `yaml:"service"`
	Version   int                 `yaml:"version"`
	ParamSets map[string]ParamSet `yaml:"param_sets"`
	Tools     []*Spec             `yaml:"tools"`

	index map[string]*Spec
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
	defaultErr     error
)

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCatalog, defaultErr = Load(bytes.NewReader(embeddedCatalog))
	})
	return defaultCatalog, defaultErr
}

// LoadFile parses a catalog from a YAML file on disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tool catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and resolves a YAML catalog.
func Load(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse tool catalog YAML: %w", err)
	}
	if err := c.resolve(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) resolve() error {
	c.index = make(map[string]*Spec, len(c.Tools))
	for _, spec := range c.Tools {
		if spec.Name == "" || spec.Path == "" {
			return fmt.Errorf("tool entry needs a name and a path: %+v", spec)
		}
		if _, dup := c.index[spec.Name]; dup {
			return fmt.Errorf("duplicate tool %q", spec.Name)
		}

		for _, setName := range spec.Uses {
			set, ok := c.ParamSets[setName]
			if !ok {
				return fmt.Errorf("tool %q uses unknown param set %q", spec.Name, setName)
			}
			spec.Params = append(spec.Params, set.Params...)
			spec.Requires = append(spec.Requires, set.Requires...)
		}

		spec.byName = make(map[string]*Param, len(spec.Params))
		for i := range spec.Params {
			p := &spec.Params[i]
			if _, dup := spec.byName[p.Name]; dup {
				return fmt.Errorf("tool %q declares %q twice", spec.Name, p.Name)
			}
			switch p.Type {
			case "integer", "number", "string":
			default:
				return fmt.Errorf("tool %q param %q has unsupported type %q", spec.Name, p.Name, p.Type)
			}
			if p.Query == "" {
				p.Query = p.Name
			}
			if p.Pattern != "" {
				re, err := regexp.Compile(p.Pattern)
				if err != nil {
					return fmt.Errorf("tool %q param %q: %w", spec.Name, p.Name, err)
				}
				p.re = re
			}
			spec.byName[p.Name] = p
		}

		for _, rule := range spec.Requires {
			for _, name := range append([]string{rule.If}, rule.Needs...) {
				if _, ok := spec.byName[name]; !ok {
					return fmt.Errorf("tool %q rule references unknown param %q", spec.Name, name)
				}
			}
		}
		c.index[spec.Name] = spec
	}
	return nil
}

// Lookup returns the spec for a tool name.
func (c *Catalog) Lookup(name string) (*Spec, bool) {
	spec, ok := c.index[name]
	return spec, ok
}

// Names returns the tool names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.index))
	for name := range c.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subset returns the specs for names, in catalog order. An empty list
// selects every tool.
func (c *Catalog) Subset(names []string) ([]*Spec, error) {
	if len(names) == 0 {
		return append([]*Spec(nil), c.Tools...), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := c.index[n]; !ok {
			return nil, fmt.Errorf("unknown tool %q", n)
		}
		want[n] = true
	}
	out := make([]*Spec, 0, len(names))
	for _, spec := range c.Tools {
		if want[spec.Name] {
			out = append(out, spec)
		}
	}
	return out, nil
}

// Definitions returns the model-facing declarations for specs.
func Definitions(specs []*Spec) []nomadly.ToolDefinition {
	defs := make([]nomadly.ToolDefinition, 0, len(specs))
	for _, spec := range specs {
		defs = append(defs, spec.Definition())
	}
	return defs
}

// Definition renders the spec as a function declaration with a JSON schema.
func (s *Spec) Definition() nomadly.ToolDefinition {
	properties := make(map[string]interface{}, len(s.Params))
	required := []string{}
	for _, p := range s.Params {
		prop := map[string]interface{}{"type": p.Type}
		if p.Nullable {
			prop["nullable"] = true
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Pattern != "" {
			prop["pattern"] = p.Pattern
		}
		if p.Minimum != nil {
			prop["minimum"] = *p.Minimum
		}
		if p.Maximum != nil {
			prop["maximum"] = *p.Maximum
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return nomadly.ToolDefinition{
		Type: "function",
		Function: nomadly.FunctionDefinition{
			Name:        s.Name,
			Description: s.Description,
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": properties,
				"required":   required,
			},
		},
	}
}
