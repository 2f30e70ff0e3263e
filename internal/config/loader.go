package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Loader produces one configuration layer.
type Loader interface {
	// Load returns nil, nil when the source does not exist.
	Load() (*Config, error)
}

// FileSystem is the file access config needs. testing/fstest.MapFS
// satisfies it.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
}

// OSFS implements FileSystem using the real OS file system.
type OSFS struct{}

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat returns file info for path.
func (OSFS) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// Format is a configuration file syntax.
type Format int

const (
	FormatTOML Format = iota + 1
	FormatYAML
)

// FormatFor picks the format from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("%w: %s: unsupported config format (want .toml, .yaml or .yml)", ErrInvalidConfig, path)
	}
}

// FileLoader loads one TOML or YAML file.
type FileLoader struct {
	fs   FileSystem
	path string
}

// NewFileLoader creates a loader for path on the OS file system.
func NewFileLoader(path string) *FileLoader {
	return NewFileLoaderWithFS(OSFS{}, path)
}

// NewFileLoaderWithFS creates a loader with a custom file system.
func NewFileLoaderWithFS(fsys FileSystem, path string) *FileLoader {
	return &FileLoader{fs: fsys, path: path}
}

// Path returns the file the loader reads.
func (l *FileLoader) Path() string { return l.path }

// Load reads and decodes the file. Unknown keys are parse errors.
func (l *FileLoader) Load() (*Config, error) {
	format, err := FormatFor(l.path)
	if err != nil {
		return nil, err
	}
	data, err := l.fs.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", l.path, err)
	}

	cfg, err := Decode(l.path, bytes.NewReader(data), format)
	if err != nil {
		return nil, err
	}
	cfg.Sources = []string{l.path}
	return cfg, nil
}

// Decode parses r in the given format. source names the input in errors.
func Decode(source string, r io.Reader, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(r).DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, tomlParseError(source, err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, yamlParseError(source, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s: unknown format", ErrInvalidConfig, source)
	}
	return &cfg, nil
}

func tomlParseError(source string, err error) error {
	perr := &ParseError{Path: source, Message: err.Error(), Err: err}

	var decErr *toml.DecodeError
	var strictErr *toml.StrictMissingError
	switch {
	case errors.As(err, &decErr):
		perr.Line, perr.Column = decErr.Position()
	case errors.As(err, &strictErr) && len(strictErr.Errors) > 0:
		first := strictErr.Errors[0]
		perr.Line, perr.Column = first.Position()
		perr.Message = fmt.Sprintf("unknown key %s", strings.Join(first.Key(), "."))
	}
	return perr
}

var yamlLine = regexp.MustCompile(`line (\d+)`)

func yamlParseError(source string, err error) error {
	perr := &ParseError{Path: source, Message: err.Error(), Err: err}
	if m := yamlLine.FindStringSubmatch(err.Error()); m != nil {
		perr.Line, _ = strconv.Atoi(m[1])
	}
	return perr
}
