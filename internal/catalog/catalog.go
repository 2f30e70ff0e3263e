package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCatalog is returned when rules or templates fail validation.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Rule pairs a marker filename with the tool it implies.
type Rule struct {
	// Marker is a bare filename looked up directly inside the project directory.
	Marker string

	// Tool is the tool that owns a directory containing Marker.
	Tool Tool
}

// Template is the native invocation of a tool for each verb.
type Template struct {
	// Executable is the program name, resolved through PATH at spawn time.
	Executable string

	// Run, Test and Build are passed positionally after Executable.
	Run   []string
	Test  []string
	Build []string
}

// Args returns a copy of the argument vector for verb.
func (t Template) Args(verb Verb) ([]string, error) {
	var src []string
	switch verb {
	case VerbRun:
		src = t.Run
	case VerbTest:
		src = t.Test
	case VerbBuild:
		src = t.Build
	default:
		return nil, fmt.Errorf("unknown verb %q", verb)
	}
	return append([]string(nil), src...), nil
}

// Argv returns the executable followed by the arguments for verb.
func (t Template) Argv(verb Verb) ([]string, error) {
	args, err := t.Args(verb)
	if err != nil {
		return nil, err
	}
	return append([]string{t.Executable}, args...), nil
}

func (t Template) validate() error {
	if strings.TrimSpace(t.Executable) == "" {
		return errors.New("empty executable")
	}
	for _, verb := range Verbs() {
		args, _ := t.Args(verb)
		if len(args) == 0 {
			return fmt.Errorf("empty %s arguments", verb)
		}
	}
	return nil
}

func (t Template) clone() Template {
	return Template{
		Executable: t.Executable,
		Run:        append([]string(nil), t.Run...),
		Test:       append([]string(nil), t.Test...),
		Build:      append([]string(nil), t.Build...),
	}
}

// uniform builds the template shared by tools whose verbs are bare words.
func uniform(exe string) Template {
	return Template{
		Executable: exe,
		Run:        []string{"run"},
		Test:       []string{"test"},
		Build:      []string{"build"},
	}
}

// DefaultRules is the built-in marker order.
func DefaultRules() []Rule {
	return []Rule{
		{Marker: "Makefile", Tool: ToolMake},
		{Marker: "GNUmakefile", Tool: ToolMake},
		{Marker: "makefile", Tool: ToolMake},
		{Marker: "Taskfile.yml", Tool: ToolTask},
		{Marker: "Taskfile.yaml", Tool: ToolTask},
		{Marker: "Earthfile", Tool: ToolEarthly},
		{Marker: "mix.exs", Tool: ToolMix},
		{Marker: "Cargo.toml", Tool: ToolCargo},
		{Marker: "go.mod", Tool: ToolGo},
		{Marker: "Dockerfile", Tool: ToolDocker},
		{Marker: "docker-compose.yml", Tool: ToolDockerCompose},
		{Marker: "docker-compose.yaml", Tool: ToolDockerCompose},
		{Marker: "compose.yml", Tool: ToolDockerCompose},
		{Marker: "compose.yaml", Tool: ToolDockerCompose},
	}
}

// DefaultTemplates is the built-in per-tool invocation table.
func DefaultTemplates() map[Tool]Template {
	return map[Tool]Template{
		ToolMake: uniform("make"),
		ToolTask: uniform("task"),
		ToolEarthly: {
			Executable: "earthly",
			Run:        []string{"+run"},
			Test:       []string{"+test"},
			Build:      []string{"+build"},
		},
		ToolMix:   uniform("mix"),
		ToolCargo: uniform("cargo"),
		ToolGo: {
			Executable: "go",
			Run:        []string{"run", "./..."},
			Test:       []string{"test", "./..."},
			Build:      []string{"build", "./..."},
		},
		ToolDocker:        uniform("docker"),
		ToolDockerCompose: uniform("docker-compose"),
	}
}

// Catalog is an ordered, immutable set of marker rules and templates.
type Catalog struct {
	rules     []Rule
	templates map[Tool]Template
	byMarker  map[string]Tool
}

var defaultCatalog = mustNew(DefaultRules(), DefaultTemplates())

// Default returns the built-in catalog.
func Default() *Catalog {
	return defaultCatalog
}

func mustNew(rules []Rule, templates map[Tool]Template) *Catalog {
	c, err := New(rules, templates)
	if err != nil {
		panic(err)
	}
	return c
}

// New validates rules and templates and builds a catalog.
// Both arguments are copied.
func New(rules []Rule, templates map[Tool]Template) (*Catalog, error) {
	c := &Catalog{
		rules:     make([]Rule, 0, len(rules)),
		templates: make(map[Tool]Template, len(templates)),
		byMarker:  make(map[string]Tool, len(rules)),
	}

	for tool, tmpl := range templates {
		if !tool.Valid() {
			return nil, fmt.Errorf("%w: template for %s", ErrInvalidCatalog, tool)
		}
		if err := tmpl.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, tool, err)
		}
		c.templates[tool] = tmpl.clone()
	}

	for i, rule := range rules {
		marker := rule.Marker
		if marker == "" || strings.TrimSpace(marker) != marker {
			return nil, fmt.Errorf("%w: rule %d: bad marker %q", ErrInvalidCatalog, i, marker)
		}
		if strings.ContainsAny(marker, `/\`) || marker == "." || marker == ".." {
			return nil, fmt.Errorf("%w: rule %d: marker %q is not a bare filename", ErrInvalidCatalog, i, marker)
		}
		if prev, dup := c.byMarker[marker]; dup {
			return nil, fmt.Errorf("%w: marker %q declared for both %s and %s", ErrInvalidCatalog, marker, prev, rule.Tool)
		}
		if _, ok := c.templates[rule.Tool]; !ok {
			return nil, fmt.Errorf("%w: marker %q maps to %s which has no template", ErrInvalidCatalog, marker, rule.Tool)
		}
		c.byMarker[marker] = rule.Tool
		c.rules = append(c.rules, rule)
	}

	return c, nil
}

// Rules returns the marker rules in priority order.
func (c *Catalog) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Lookup returns the tool for an exact marker filename.
func (c *Catalog) Lookup(marker string) (Tool, bool) {
	tool, ok := c.byMarker[marker]
	return tool, ok
}

// Template returns the command template for tool.
func (c *Catalog) Template(tool Tool) (Template, bool) {
	tmpl, ok := c.templates[tool]
	if !ok {
		return Template{}, false
	}
	return tmpl.clone(), true
}

// Tools returns each tool that owns at least one rule, ordered by its
// highest-priority marker.
func (c *Catalog) Tools() []Tool {
	seen := make(map[Tool]bool, len(c.templates))
	tools := make([]Tool, 0, len(c.templates))
	for _, rule := range c.rules {
		if seen[rule.Tool] {
			continue
		}
		seen[rule.Tool] = true
		tools = append(tools, rule.Tool)
	}
	return tools
}

// Reorder returns a catalog whose rules for the given tools come first, in
// the given order. Markers of one tool keep their relative order, and tools
// not listed keep theirs after the listed ones.
func (c *Catalog) Reorder(tools ...Tool) (*Catalog, error) {
	rank := make(map[Tool]int, len(tools))
	for i, tool := range tools {
		if _, ok := c.templates[tool]; !ok {
			return nil, fmt.Errorf("%w: cannot prioritise %s", ErrInvalidCatalog, tool)
		}
		if _, dup := rank[tool]; dup {
			return nil, fmt.Errorf("%w: %s listed twice in priority", ErrInvalidCatalog, tool)
		}
		rank[tool] = i
	}

	buckets := make([][]Rule, len(tools))
	rest := make([]Rule, 0, len(c.rules))
	for _, rule := range c.rules {
		if i, ok := rank[rule.Tool]; ok {
			buckets[i] = append(buckets[i], rule)
			continue
		}
		rest = append(rest, rule)
	}

	rules := make([]Rule, 0, len(c.rules))
	for _, b := range buckets {
		rules = append(rules, b...)
	}
	rules = append(rules, rest...)

	return New(rules, c.templates)
}

// WithTemplate returns a catalog with tool's template replaced.
func (c *Catalog) WithTemplate(tool Tool, tmpl Template) (*Catalog, error) {
	templates := make(map[Tool]Template, len(c.templates)+1)
	for t, v := range c.templates {
		templates[t] = v
	}
	templates[tool] = tmpl
	return New(c.rules, templates)
}
