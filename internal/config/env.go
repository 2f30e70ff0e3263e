package config

import (
	"os"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable config reads.
const EnvPrefix = "BUILDANY_"

// Environment variables read by EnvLoader.
const (
	EnvLogLevel = EnvPrefix + "LOG_LEVEL"
	EnvTool     = EnvPrefix + "TOOL"
	EnvPriority = EnvPrefix + "PRIORITY"
	EnvTimeout  = EnvPrefix + "TIMEOUT"
)

// EnvLoader builds a layer from BUILDANY_* variables.
type EnvLoader struct {
	lookup func(string) (string, bool)
}

// NewEnvLoader reads the process environment.
func NewEnvLoader() *EnvLoader {
	return &EnvLoader{lookup: os.LookupEnv}
}

// NewEnvLoaderWithLookup reads variables through lookup.
func NewEnvLoaderWithLookup(lookup func(string) (string, bool)) *EnvLoader {
	return &EnvLoader{lookup: lookup}
}

// Load returns nil, nil when none of the variables is set. Empty values are
// treated as unset.
func (l *EnvLoader) Load() (*Config, error) {
	var (
		cfg Config
		set []string
	)

	if v, ok := l.get(EnvLogLevel); ok {
		cfg.LogLevel = v
		set = append(set, EnvLogLevel)
	}
	if v, ok := l.get(EnvTool); ok {
		cfg.Tool = v
		set = append(set, EnvTool)
	}
	if v, ok := l.get(EnvPriority); ok {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.Priority = append(cfg.Priority, name)
			}
		}
		set = append(set, EnvPriority)
	}
	if v, ok := l.get(EnvTimeout); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, invalid(EnvTimeout, "%v", err)
		}
		cfg.Timeout = Duration(d)
		set = append(set, EnvTimeout)
	}

	if len(set) == 0 {
		return nil, nil
	}
	cfg.Sources = []string{"env:" + strings.Join(set, ",")}
	return &cfg, nil
}

func (l *EnvLoader) get(name string) (string, bool) {
	v, ok := l.lookup(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}
