package process

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Supervisor starts child processes and tracks them until they are reaped.
//
// Processes are removed from tracking once Wait has returned for them.
// Shutdown terminates whatever is still running.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process
	monitors  sync.WaitGroup

	closed atomic.Bool
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		processes: make(map[string]*Process),
	}
}

// Start starts cmd under a fresh random ID.
//
// Stdout and Stderr are attached to pipes unless the caller already set them.
// Stdin is left as configured; a nil Stdin reads from the null device.
//
// Pipe setup failures wrap ErrPipe and launch failures wrap ErrStart, so the
// caller can tell an unusable stream apart from a missing executable.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}

	proc := NewProcess(uuid.New().String(), name, cmd)

	if cmd.Stdout == nil {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("%w: stdout: %w", ErrPipe, err)
		}
		proc.Stdout = stdout
	}
	if cmd.Stderr == nil {
		stderr, err := cmd.StderrPipe()
		if err != nil {
			_ = proc.Close()
			return nil, fmt.Errorf("%w: stderr: %w", ErrPipe, err)
		}
		proc.Stderr = stderr
	}

	if err := proc.start(); err != nil {
		_ = proc.Close()
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}

	s.processes[proc.ID] = proc
	s.monitors.Add(1)
	go s.monitorProcess(proc)

	return proc, nil
}

// monitorProcess untracks proc once it has been reaped.
func (s *Supervisor) monitorProcess(proc *Process) {
	defer s.monitors.Done()
	<-proc.Done()

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// List returns all tracked processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Shutdown refuses new processes, sends SIGTERM to every tracked process and
// reaps them. Processes still alive after timeout are killed. Shutdown
// returns once nothing is tracked.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	procs := s.List()
	for _, p := range procs {
		_ = p.Terminate()
	}

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			// Closing the read ends first unblocks any reader still draining.
			_ = p.Close()
			_ = p.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		for _, p := range procs {
			if p.IsRunning() {
				_ = p.Kill()
			}
		}
		<-done
	}

	s.monitors.Wait()
}

// Sentinel errors.
var (
	// ErrSupervisorShutdown is returned when the supervisor is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrPipe is returned when an output pipe cannot be created.
	ErrPipe = errors.New("create pipe")

	// ErrStart is returned when the executable cannot be launched.
	ErrStart = errors.New("start process")
)
