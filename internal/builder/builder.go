// Package builder resolves a project directory to the build tool that owns it.
package builder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/dshills/buildany/internal/catalog"
)

// Sentinel errors returned by Resolve.
var (
	// ErrNotADirectory is returned when the project path is missing or is not a directory.
	ErrNotADirectory = errors.New("not a directory")

	// ErrNotFound is returned when no marker file matches and no override was given.
	ErrNotFound = errors.New("no build tool found")

	// ErrUnknownTool is returned when an override names a tool missing from the catalog.
	ErrUnknownTool = errors.New("unknown build tool")
)

// Builder is a resolved unit of work: a directory and the tool that builds it.
// A Builder is never modified after Resolve returns it.
type Builder struct {
	// Dir is the absolute project directory.
	Dir string

	// Tool is the resolved tool.
	Tool catalog.Tool

	// Marker is the filename that selected Tool; empty when Tool was forced.
	Marker string

	// Template is the tool's invocation table.
	Template catalog.Template
}

// Overridden reports whether the tool was forced by the caller.
func (b *Builder) Overridden() bool {
	return b.Marker == ""
}

// Command returns the executable and arguments for verb.
func (b *Builder) Command(verb catalog.Verb) (string, []string, error) {
	args, err := b.Template.Args(verb)
	if err != nil {
		return "", nil, err
	}
	return b.Template.Executable, args, nil
}

// String describes the builder for log and CLI output.
func (b *Builder) String() string {
	if b.Overridden() {
		return fmt.Sprintf("%s (forced) in %s", b.Tool, b.Dir)
	}
	return fmt.Sprintf("%s (%s) in %s", b.Tool, b.Marker, b.Dir)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// Resolver maps directories to Builders using a catalog.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	catalog *catalog.Catalog
	logger  zerolog.Logger
}

// NewResolver creates a resolver. A nil catalog means catalog.Default().
func NewResolver(c *catalog.Catalog, opts ...Option) *Resolver {
	if c == nil {
		c = catalog.Default()
	}
	r := &Resolver{
		catalog: c,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the catalog the resolver consults.
func (r *Resolver) Catalog() *catalog.Catalog {
	return r.catalog
}

// Resolve returns the Builder for dir.
//
// An override other than catalog.ToolUnknown skips marker scanning. Otherwise
// the catalog rules are tried in order against the entries directly inside
// dir and the first present marker wins; subdirectories are never scanned.
func (r *Resolver) Resolve(dir string, override catalog.Tool) (*Builder, error) {
	abs, err := projectDir(dir)
	if err != nil {
		return nil, err
	}

	if override != catalog.ToolUnknown {
		tmpl, ok := r.catalog.Template(override)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, override)
		}
		r.logger.Debug().Str("dir", abs).Stringer("tool", override).Msg("tool forced by override")
		return &Builder{Dir: abs, Tool: override, Template: tmpl}, nil
	}

	matches, err := r.scan(abs, true)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		r.logger.Debug().Str("dir", abs).Msg("no marker file matched")
		return nil, fmt.Errorf("%w in %s", ErrNotFound, abs)
	}

	rule := matches[0]
	tmpl, _ := r.catalog.Template(rule.Tool)
	r.logger.Debug().Str("dir", abs).Str("marker", rule.Marker).Stringer("tool", rule.Tool).Msg("resolved build tool")
	return &Builder{Dir: abs, Tool: rule.Tool, Marker: rule.Marker, Template: tmpl}, nil
}

// Candidates returns every rule whose marker is present in dir, in priority order.
func (r *Resolver) Candidates(dir string) ([]catalog.Rule, error) {
	abs, err := projectDir(dir)
	if err != nil {
		return nil, err
	}
	return r.scan(abs, false)
}

// scan lists dir once and walks the rules in catalog order.
func (r *Resolver) scan(dir string, firstOnly bool) ([]catalog.Rule, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotADirectory, dir, err)
	}

	present := make(map[string]bool, len(entries))
	for _, entry := range entries {
		present[entry.Name()] = true
	}

	var matches []catalog.Rule
	for _, rule := range r.catalog.Rules() {
		if !present[rule.Marker] {
			continue
		}
		if !isMarkerFile(filepath.Join(dir, rule.Marker)) {
			continue
		}
		matches = append(matches, rule)
		if firstOnly {
			break
		}
	}
	return matches, nil
}

// projectDir makes dir absolute and checks that it is a directory.
// An empty dir is the current working directory.
func projectDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrNotADirectory, dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrNotADirectory, abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotADirectory, abs)
	}
	return abs, nil
}

// isMarkerFile reports whether path, with symlinks followed, exists and is
// not a directory.
func isMarkerFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
