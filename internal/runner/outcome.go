package runner

import (
	"os"
	"time"

	"github.com/dshills/buildany/internal/catalog"
)

// Outcome describes one execution of a build tool.
type Outcome struct {
	// ID is the supervisor's id for the child; empty if it never started.
	ID string

	Tool catalog.Tool
	Verb catalog.Verb

	// Argv is the executable followed by its arguments.
	Argv []string

	// Dir is the child's working directory.
	Dir string

	// ExitCode is the child's exit status, -1 if it never exited normally.
	ExitCode int

	// Signal is the signal that terminated the child, if any.
	Signal os.Signal

	StdoutBytes int64
	StderrBytes int64

	Start time.Time
	End   time.Time

	State State
}

// Success reports whether the child completed with status 0.
func (o *Outcome) Success() bool {
	return o.State == StateCompleted && o.ExitCode == 0 && o.Signal == nil
}

// Err returns an *ExitError when the child completed unsuccessfully, nil
// otherwise. Runner failures are reported by Execute, not here.
func (o *Outcome) Err() error {
	if o.State != StateCompleted || o.Success() {
		return nil
	}
	return &ExitError{Code: o.ExitCode, Signal: o.Signal}
}

// Duration returns the wall time between spawn and reap.
func (o *Outcome) Duration() time.Duration {
	if o.Start.IsZero() || o.End.IsZero() {
		return 0
	}
	return o.End.Sub(o.Start)
}
