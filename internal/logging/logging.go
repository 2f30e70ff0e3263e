// Package logging configures the zerolog logger shared by buildany's packages.
//
// Logs go to stderr through a console writer so they never mix with the
// build tool's stdout. The default level is warn; the tool's own output is
// the main event.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment overrides.
const (
	EnvLogLevel     = "BUILDANY_LOG_LEVEL"
	EnvLogTimestamp = "BUILDANY_LOG_TIMESTAMP"
	EnvLogNoColor   = "BUILDANY_LOG_NOCOLOR"
	EnvNoColor      = "NO_COLOR"
)

// Profile selects a set of defaults.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config describes a logger.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Out       io.Writer
}

// DefaultConfig returns the defaults for profile.
func DefaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, NoColor: true, Out: os.Stderr}
	default:
		return Config{Level: zerolog.WarnLevel, Timestamp: true, NoColor: !colorTerminal(os.Stderr), Out: os.Stderr}
	}
}

// ApplyEnv overlays the BUILDANY_LOG_* variables and NO_COLOR onto cfg.
// Unset or unparsable values leave cfg unchanged.
func ApplyEnv(cfg *Config) {
	applyEnv(cfg, os.Getenv)
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if lvl, ok := ParseLevel(getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if getenv(EnvNoColor) != "" {
		cfg.NoColor = true
	}
}

// New builds a console logger from cfg and installs it as the zerolog
// global logger.
func New(cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	console := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
	}
	if !cfg.Timestamp {
		console.PartsExclude = []string{zerolog.TimestampFieldName}
	}

	ctx := zerolog.New(console).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Str("app", "buildany").Logger()
	log.Logger = logger
	return logger
}

// ParseLevel maps a level name to a zerolog level. The boolean is false for
// empty or unknown names.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.NoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func colorTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
