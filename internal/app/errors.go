package app

import (
	"errors"

	"github.com/dshills/buildany/internal/builder"
	"github.com/dshills/buildany/internal/config"
	"github.com/dshills/buildany/internal/runner"
)

// Exit statuses for failures that are not the child's own.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitUsage    = 64
	ExitNoInput  = 66
	ExitIOErr    = 74
	ExitConfig   = 78
	ExitNoExec   = 127
	ExitCanceled = 130
)

var (
	// ErrUsage marks invalid command line input.
	ErrUsage = errors.New("usage")

	// ErrConfig marks a configuration that could not be loaded or applied.
	ErrConfig = errors.New("configuration")
)

// ExitCode maps an error from Run to a process exit status. A child's
// non-zero exit passes through unchanged, or as 128+signal.
func ExitCode(err error) int {
	var exitErr *runner.ExitError
	var parseErr *config.ParseError

	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &exitErr):
		return exitErr.ExitCode()
	case errors.Is(err, ErrUsage), errors.Is(err, builder.ErrUnknownTool):
		return ExitUsage
	case errors.Is(err, ErrConfig), errors.Is(err, config.ErrInvalidConfig), errors.As(err, &parseErr):
		return ExitConfig
	case errors.Is(err, builder.ErrNotADirectory), errors.Is(err, builder.ErrNotFound):
		return ExitNoInput
	case errors.Is(err, runner.ErrCanceled):
		return ExitCanceled
	case errors.Is(err, runner.ErrSpawnFailed):
		return ExitNoExec
	case errors.Is(err, runner.ErrStreamCapture), errors.Is(err, runner.ErrStreamIO):
		return ExitIOErr
	default:
		return ExitFailure
	}
}

// childFailure reports whether err only relays the child's own status, in
// which case the child has already said everything worth saying.
func childFailure(err error) bool {
	var exitErr *runner.ExitError
	return errors.As(err, &exitErr)
}
