package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/multierr"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process exited on its own, with any status.
	StateExited
	// StateKilled indicates the process was terminated by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is a supervised child process.
type Process struct {
	// ID is the unique identifier for this process.
	ID string

	// Name is a human-readable name for the process.
	Name string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Stdout is the read end of the child's stdout pipe, nil if the caller
	// attached its own writer before Start.
	Stdout io.ReadCloser

	// Stderr is the read end of the child's stderr pipe, nil if the caller
	// attached its own writer before Start.
	Stderr io.ReadCloser

	// Started is the time the process was started.
	Started time.Time

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error
	signal  os.Signal
	ended   time.Time

	waitOnce sync.Once
}

// NewProcess wraps cmd. The command must not have been started.
func NewProcess(id, name string, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:   id,
		Name: name,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the exit code, or -1 if the process has not exited or was
// terminated by a signal.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitSignal returns the signal that terminated the process, if any.
func (p *Process) ExitSignal() os.Signal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.signal
}

// ExitError returns the error from waiting on the process.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Ended returns when Wait observed the exit.
func (p *Process) Ended() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ended
}

// Done returns a channel that is closed once Wait has reaped the process.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Signal sends sig to the process.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return ErrProcessNotStarted
	}
	err := p.Cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Kill sends SIGKILL to the process.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Terminate sends SIGTERM to the process.
func (p *Process) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

// start starts the process. Called by the Supervisor.
func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}

	if err := p.Cmd.Start(); err != nil {
		return err
	}

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))
	return nil
}

// Wait waits for the process to exit and records its status. The caller must
// have read Stdout and Stderr to EOF first; Wait closes the pipes.
//
// A non-zero exit status is not an error: Wait returns nil and the status is
// available from ExitCode and ExitSignal. Only failures to reap the process
// are returned.
func (p *Process) Wait() error {
	if p.State() == StateCreated {
		return ErrProcessNotStarted
	}

	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()

		exitCode := 0
		state := StateExited
		var sig os.Signal

		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				state = StateKilled
				sig = status.Signal()
			}
			err = nil
		default:
			exitCode = -1
		}

		p.mu.Lock()
		p.exitErr = err
		p.signal = sig
		p.ended = time.Now()
		p.mu.Unlock()

		p.exitCode.Store(int32(exitCode))
		p.state.Store(int32(state))
		close(p.done)
	})

	return p.ExitError()
}

// Close closes the read ends of the output pipes. It does not kill the
// process; a reader blocked on either pipe returns with an error.
func (p *Process) Close() error {
	var err error
	if p.Stdout != nil {
		if cerr := p.Stdout.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("close stdout: %w", cerr))
		}
	}
	if p.Stderr != nil {
		if cerr := p.Stderr.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("close stderr: %w", cerr))
		}
	}
	return err
}

// Runtime returns how long the process ran, or has been running so far.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	if ended := p.Ended(); !ended.IsZero() {
		return ended.Sub(p.Started)
	}
	return time.Since(p.Started)
}

// Sentinel errors for the process package.
var (
	// ErrProcessNotStarted is returned when operations require a started process.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrProcessAlreadyStarted is returned when starting a process twice.
	ErrProcessAlreadyStarted = errors.New("process already started")
)
