package runner

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Kind classifies a runner failure.
type Kind int

const (
	// KindSpawnFailed means the executable was missing or could not be launched or reaped.
	KindSpawnFailed Kind = iota + 1
	// KindStreamCapture means a handle to the child's stdout or stderr could not be obtained.
	KindStreamCapture
	// KindStreamIO means relaying bytes from the child failed mid-stream.
	KindStreamIO
	// KindCanceled means the context ended before the child finished.
	KindCanceled
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSpawnFailed:
		return "SpawnFailed"
	case KindStreamCapture:
		return "StreamCaptureFailed"
	case KindStreamIO:
		return "StreamIOError"
	case KindCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrSpawnFailed   = errors.New("spawn failed")
	ErrStreamCapture = errors.New("stream capture failed")
	ErrStreamIO      = errors.New("stream i/o error")
	ErrCanceled      = errors.New("execution canceled")
)

var kindSentinels = map[Kind]error{
	KindSpawnFailed:   ErrSpawnFailed,
	KindStreamCapture: ErrStreamCapture,
	KindStreamIO:      ErrStreamIO,
	KindCanceled:      ErrCanceled,
}

// Error is a failure of the runner itself, as opposed to a child that ran
// and reported a non-zero status.
type Error struct {
	Kind Kind
	// Op is the step that failed, e.g. "start" or "relay stdout".
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, kindSentinels[e.Kind])
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, kindSentinels[e.Kind], e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// ExitError reports a child that ran to completion unsuccessfully.
type ExitError struct {
	// Code is the child's exit status, -1 when it was killed by a signal.
	Code int
	// Signal is the terminating signal, nil for a normal exit.
	Signal os.Signal
}

func (e *ExitError) Error() string {
	if e.Signal != nil {
		return fmt.Sprintf("terminated by signal: %v", e.Signal)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode returns the status a shell would report: the child's own code, or
// 128 plus the signal number.
func (e *ExitError) ExitCode() int {
	if e.Signal != nil {
		if sig, ok := e.Signal.(syscall.Signal); ok {
			return 128 + int(sig)
		}
		return 128
	}
	return e.Code
}
