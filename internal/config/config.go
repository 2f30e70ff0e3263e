// Package config loads buildany's optional configuration.
//
// Settings come from up to three layers, later layers winning:
//
//  1. the user file, $XDG_CONFIG_HOME/buildany/config.toml
//  2. the project file, the first of .buildany.toml, .buildany.yaml and
//     .buildany.yml in the project directory
//  3. BUILDANY_* environment variables
//
// An explicit -config path replaces layers 1 and 2. A missing file is never
// an error unless it was named explicitly.
//
// Example .buildany.toml:
//
//	priority = ["cargo", "go"]
//	log_level = "info"
//	timeout = "10m"
//
//	[tools.earthly]
//	executable = "earth"
//
//	[tools.go]
//	test = ["test", "-race", "./..."]
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/buildany/internal/catalog"
	"github.com/dshills/buildany/internal/logging"
)

// Config is the merged configuration.
type Config struct {
	// Priority lists tools whose markers are checked before all others.
	Priority []string `toml:"priority" yaml:"priority"`

	// Tool forces a tool when the command line does not name one.
	Tool string `toml:"tool" yaml:"tool"`

	// Tools overrides per-tool invocation templates, keyed by tool name.
	Tools map[string]ToolConfig `toml:"tools" yaml:"tools"`

	LogLevel string `toml:"log_level" yaml:"log_level"`

	// Timeout bounds one execution; zero means none.
	Timeout Duration `toml:"timeout" yaml:"timeout"`

	Watch WatchConfig `toml:"watch" yaml:"watch"`

	// Sources lists the files and layers that contributed, lowest first.
	Sources []string `toml:"-" yaml:"-"`
}

// ToolConfig overrides parts of a tool's template. Empty fields keep the
// built-in value.
type ToolConfig struct {
	Executable string   `toml:"executable" yaml:"executable"`
	Run        []string `toml:"run" yaml:"run"`
	Test       []string `toml:"test" yaml:"test"`
	Build      []string `toml:"build" yaml:"build"`
}

// WatchConfig tunes watch mode.
type WatchConfig struct {
	Debounce Duration `toml:"debounce" yaml:"debounce"`
	// Ignore adds directory names to the built-in ignore list.
	Ignore []string `toml:"ignore" yaml:"ignore"`
}

// Duration is a time.Duration written as a string such as "90s" or "5m".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string", value.Line)
	}
	return d.UnmarshalText([]byte(value.Value))
}

// Merge overlays the non-zero settings of src onto c. Tool overrides merge
// per tool and per field.
func (c *Config) Merge(src *Config) {
	if src == nil {
		return
	}
	if len(src.Priority) > 0 {
		c.Priority = append([]string(nil), src.Priority...)
	}
	if src.Tool != "" {
		c.Tool = src.Tool
	}
	if src.LogLevel != "" {
		c.LogLevel = src.LogLevel
	}
	if src.Timeout != 0 {
		c.Timeout = src.Timeout
	}
	if src.Watch.Debounce != 0 {
		c.Watch.Debounce = src.Watch.Debounce
	}
	if len(src.Watch.Ignore) > 0 {
		c.Watch.Ignore = append(c.Watch.Ignore, src.Watch.Ignore...)
	}
	for name, tc := range src.Tools {
		if c.Tools == nil {
			c.Tools = make(map[string]ToolConfig)
		}
		key := toolKey(name)
		c.Tools[key] = c.Tools[key].merge(tc)
	}
	c.Sources = append(c.Sources, src.Sources...)
}

func (t ToolConfig) merge(src ToolConfig) ToolConfig {
	if src.Executable != "" {
		t.Executable = src.Executable
	}
	if len(src.Run) > 0 {
		t.Run = src.Run
	}
	if len(src.Test) > 0 {
		t.Test = src.Test
	}
	if len(src.Build) > 0 {
		t.Build = src.Build
	}
	return t
}

// Validate checks the settings that can be checked without a catalog.
func (c *Config) Validate() error {
	for i, name := range c.Priority {
		if _, err := catalog.ParseTool(name); err != nil {
			return invalid(fmt.Sprintf("priority[%d]", i), "%v", err)
		}
	}
	if c.Tool != "" {
		if _, err := catalog.ParseTool(c.Tool); err != nil {
			return invalid("tool", "%v", err)
		}
	}
	for name := range c.Tools {
		if _, err := catalog.ParseTool(name); err != nil {
			return invalid("tools."+name, "%v", err)
		}
	}
	if _, ok := logging.ParseLevel(c.LogLevel); c.LogLevel != "" && !ok {
		return invalid("log_level", "unknown level %q", c.LogLevel)
	}
	if c.Timeout < 0 {
		return invalid("timeout", "must not be negative")
	}
	if c.Watch.Debounce < 0 {
		return invalid("watch.debounce", "must not be negative")
	}
	return nil
}

// OverrideTool returns the configured default tool, or catalog.ToolUnknown.
func (c *Config) OverrideTool() (catalog.Tool, error) {
	if c.Tool == "" {
		return catalog.ToolUnknown, nil
	}
	tool, err := catalog.ParseTool(c.Tool)
	if err != nil {
		return catalog.ToolUnknown, invalid("tool", "%v", err)
	}
	return tool, nil
}

// Apply derives the effective catalog from base: template overrides first,
// then the priority order. base is not modified.
func (c *Config) Apply(base *catalog.Catalog) (*catalog.Catalog, error) {
	if base == nil {
		base = catalog.Default()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	overrides := make(map[string]ToolConfig, len(c.Tools))
	for name, tc := range c.Tools {
		key := toolKey(name)
		overrides[key] = overrides[key].merge(tc)
	}

	result := base
	for _, tool := range catalog.AllTools() {
		tc, ok := overrides[tool.String()]
		if !ok {
			continue
		}
		tmpl, ok := result.Template(tool)
		if !ok {
			return nil, invalid("tools."+tool.String(), "tool is not in the catalog")
		}
		next, err := result.WithTemplate(tool, overlay(tmpl, tc))
		if err != nil {
			return nil, invalid("tools."+tool.String(), "%v", err)
		}
		result = next
	}

	if len(c.Priority) > 0 {
		tools := make([]catalog.Tool, 0, len(c.Priority))
		for _, name := range c.Priority {
			tool, _ := catalog.ParseTool(name)
			tools = append(tools, tool)
		}
		reordered, err := result.Reorder(tools...)
		if err != nil {
			return nil, invalid("priority", "%v", err)
		}
		result = reordered
	}
	return result, nil
}

func overlay(tmpl catalog.Template, tc ToolConfig) catalog.Template {
	if tc.Executable != "" {
		tmpl.Executable = tc.Executable
	}
	if len(tc.Run) > 0 {
		tmpl.Run = append([]string(nil), tc.Run...)
	}
	if len(tc.Test) > 0 {
		tmpl.Test = append([]string(nil), tc.Test...)
	}
	if len(tc.Build) > 0 {
		tmpl.Build = append([]string(nil), tc.Build...)
	}
	return tmpl
}

// toolKey returns the canonical name for a tool key so that aliases such as
// "earth" and "earthly" land on the same entry. Unknown names are kept for
// Validate to report.
func toolKey(name string) string {
	if tool, err := catalog.ParseTool(name); err == nil {
		return tool.String()
	}
	return strings.ToLower(strings.TrimSpace(name))
}
