package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ProjectFileNames are searched in order in the project directory.
var ProjectFileNames = []string{".buildany.toml", ".buildany.yaml", ".buildany.yml"}

// UserFileName is the file read from the user config directory.
const UserFileName = "config.toml"

// Options controls where Load looks.
type Options struct {
	// Path is an explicit config file. When set, it must exist and the
	// project and user files are skipped.
	Path string

	// ProjectDir is searched for ProjectFileNames.
	ProjectDir string

	// UserDir overrides the user config directory. Empty means
	// DefaultUserDir().
	UserDir string

	// FS defaults to the OS file system.
	FS FileSystem

	// Env is the environment layer. Nil means NewEnvLoader().
	Env Loader
}

// DefaultUserDir returns $XDG_CONFIG_HOME/buildany, falling back to the
// platform config directory.
func DefaultUserDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "buildany")
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "buildany")
}

// Load reads and merges every layer and validates the result.
func Load(opts Options) (*Config, error) {
	fsys := opts.FS
	if fsys == nil {
		fsys = OSFS{}
	}
	env := opts.Env
	if env == nil {
		env = NewEnvLoader()
	}

	var loaders []Loader
	if opts.Path != "" {
		if _, err := fsys.Stat(opts.Path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", opts.Path, err)
		}
		loaders = append(loaders, NewFileLoaderWithFS(fsys, opts.Path))
	} else {
		userDir := opts.UserDir
		if userDir == "" {
			userDir = DefaultUserDir()
		}
		if userDir != "" {
			loaders = append(loaders, NewFileLoaderWithFS(fsys, filepath.Join(userDir, UserFileName)))
		}
		if path, ok := FindProjectFile(fsys, opts.ProjectDir); ok {
			loaders = append(loaders, NewFileLoaderWithFS(fsys, path))
		}
	}
	loaders = append(loaders, env)

	cfg := &Config{}
	for _, l := range loaders {
		layer, err := l.Load()
		if err != nil {
			return nil, err
		}
		cfg.Merge(layer)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindProjectFile returns the first of ProjectFileNames present in dir.
func FindProjectFile(fsys FileSystem, dir string) (string, bool) {
	if dir == "" {
		return "", false
	}
	for _, name := range ProjectFileNames {
		path := filepath.Join(dir, name)
		info, err := fsys.Stat(path)
		if err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}
