// Package runner executes a resolved build tool and relays its output.
//
// Execute starts the tool directly (never through a shell) in the builder's
// directory, drains stdout and stderr concurrently into the configured sinks
// as bytes arrive, and reaps the child only after both pipes reach EOF. A
// child that exits non-zero is a normal Outcome; Execute returns an error
// only when the runner itself could not do its job.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/buildany/internal/builder"
	"github.com/dshills/buildany/internal/catalog"
	"github.com/dshills/buildany/internal/process"
)

const (
	// DefaultGracePeriod is how long a canceled child gets between SIGTERM and SIGKILL.
	DefaultGracePeriod = 5 * time.Second

	// DefaultBufferSize is the relay chunk size per stream.
	DefaultBufferSize = 32 * 1024
)

// Option configures a Runner.
type Option func(*Runner)

// WithStdout sets the sink for the child's stdout.
func WithStdout(w io.Writer) Option {
	return func(r *Runner) { r.stdout = w }
}

// WithStderr sets the sink for the child's stderr.
func WithStderr(w io.Writer) Option {
	return func(r *Runner) { r.stderr = w }
}

// WithStdin sets the child's stdin. Nil reads from the null device.
func WithStdin(rd io.Reader) Option {
	return func(r *Runner) { r.stdin = rd }
}

// WithEnv sets the child's environment. Nil inherits the caller's.
func WithEnv(env []string) Option {
	return func(r *Runner) { r.env = env }
}

// WithLogger sets the runner's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithListener adds a state transition listener.
func WithListener(l Listener) Option {
	return func(r *Runner) { r.listeners = append(r.listeners, l) }
}

// WithGracePeriod sets the delay between SIGTERM and SIGKILL on cancellation.
func WithGracePeriod(d time.Duration) Option {
	return func(r *Runner) { r.grace = d }
}

// WithBufferSize sets the relay chunk size.
func WithBufferSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

// Runner executes builders. A Runner may be used for many sequential or
// concurrent executions.
type Runner struct {
	stdout    io.Writer
	stderr    io.Writer
	stdin     io.Reader
	env       []string
	logger    zerolog.Logger
	listeners []Listener

	supervisor *process.Supervisor
	grace      time.Duration
	bufSize    int
}

// New creates a Runner writing to os.Stdout and os.Stderr by default.
func New(opts ...Option) *Runner {
	r := &Runner{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		logger:     zerolog.Nop(),
		grace:      DefaultGracePeriod,
		bufSize:    DefaultBufferSize,
		supervisor: process.NewSupervisor(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close terminates any child still running and waits for it to be reaped.
func (r *Runner) Close() error {
	r.supervisor.Shutdown(r.grace)
	return nil
}

// Execute runs verb for b and blocks until the child has been reaped.
//
// The returned Outcome is never nil. On success err is nil even when the
// child exited non-zero; see Outcome.Err. Otherwise err is an *Error whose
// kind matches ErrSpawnFailed, ErrStreamCapture, ErrStreamIO or ErrCanceled.
func (r *Runner) Execute(ctx context.Context, b *builder.Builder, verb catalog.Verb) (*Outcome, error) {
	out := &Outcome{ExitCode: -1, State: StateIdle}
	if b == nil {
		return out, errors.New("runner: nil builder")
	}
	out.Tool, out.Verb, out.Dir = b.Tool, verb, b.Dir

	exe, args, err := b.Command(verb)
	if err != nil {
		return out, fmt.Errorf("runner: %w", err)
	}
	out.Argv = append([]string{exe}, args...)

	if err := ctx.Err(); err != nil {
		r.transition(out, StateFailed)
		return out, &Error{Kind: KindCanceled, Op: "start", Err: err}
	}

	cmd := exec.Command(exe, args...)
	cmd.Dir = b.Dir
	cmd.Stdin = r.stdin
	cmd.Env = r.env

	proc, err := r.supervisor.Start(fmt.Sprintf("%s %s", b.Tool, verb), cmd)
	if err != nil {
		kind := KindSpawnFailed
		if errors.Is(err, process.ErrPipe) {
			kind = KindStreamCapture
		}
		r.logger.Debug().Err(err).Strs("argv", out.Argv).Str("dir", out.Dir).Msg("spawn failed")
		r.transition(out, StateFailed)
		return out, &Error{Kind: kind, Op: "start " + exe, Err: err}
	}
	out.ID = proc.ID
	out.Start = proc.Started
	r.logger.Debug().Str("id", proc.ID).Int("pid", proc.PID()).Strs("argv", out.Argv).Str("dir", out.Dir).Msg("spawned")
	r.transition(out, StateSpawned)

	drained := make(chan struct{})
	watcherDone := make(chan struct{})
	var gate drainGate
	go func() {
		defer close(watcherDone)
		r.watchCancel(ctx, proc, drained, &gate)
	}()

	r.transition(out, StateStreaming)
	streamErr := r.drain(proc, out)
	gate.finish()
	close(drained)
	<-watcherDone
	r.transition(out, StateDrained)

	waitErr := proc.Wait()
	out.End = proc.Ended()
	out.ExitCode = proc.ExitCode()
	out.Signal = proc.ExitSignal()

	log := r.logger.Debug().Str("id", proc.ID).Int("exit_code", out.ExitCode).
		Dur("runtime", proc.Runtime()).Int64("stdout_bytes", out.StdoutBytes).Int64("stderr_bytes", out.StderrBytes)
	if out.Signal != nil {
		log = log.Stringer("signal", out.Signal)
	}
	log.Msg("reaped")

	switch {
	case gate.canceled():
		r.transition(out, StateFailed)
		return out, &Error{Kind: KindCanceled, Op: "execute", Err: ctx.Err()}
	case waitErr != nil:
		r.transition(out, StateFailed)
		return out, &Error{Kind: KindSpawnFailed, Op: "wait", Err: waitErr}
	case streamErr != nil:
		r.transition(out, StateFailed)
		return out, &Error{Kind: KindStreamIO, Op: "relay", Err: streamErr}
	}

	r.transition(out, StateCompleted)
	return out, nil
}

// drain relays both pipes concurrently until each reaches EOF.
func (r *Runner) drain(proc *process.Process, out *Outcome) error {
	stdout, stderr := sinks(r.stdout, r.stderr)

	// No group context: one stream failing must not stop the other from
	// draining, so every error is kept and combined.
	var g errgroup.Group
	var stdoutErr, stderrErr error
	g.Go(func() error {
		out.StdoutBytes, stdoutErr = relay(stdout, proc.Stdout, make([]byte, r.bufSize))
		if stdoutErr != nil {
			stdoutErr = fmt.Errorf("stdout: %w", stdoutErr)
		}
		return stdoutErr
	})
	g.Go(func() error {
		out.StderrBytes, stderrErr = relay(stderr, proc.Stderr, make([]byte, r.bufSize))
		if stderrErr != nil {
			stderrErr = fmt.Errorf("stderr: %w", stderrErr)
		}
		return stderrErr
	})
	if err := g.Wait(); err != nil {
		return multierr.Combine(stdoutErr, stderrErr)
	}
	return nil
}

// drainGate settles the race between the drains finishing and ctx ending:
// whichever claims it first wins, so a child whose output was fully relayed
// is never reported as canceled.
type drainGate struct {
	phase atomic.Int32
}

const (
	phaseStreaming int32 = iota
	phaseDrained
	phaseCanceled
)

// finish claims the gate for the drains. It reports false if cancellation
// got there first.
func (g *drainGate) finish() bool {
	return g.phase.CompareAndSwap(phaseStreaming, phaseDrained)
}

// cancel claims the gate for cancellation. It reports false if the drains
// already finished.
func (g *drainGate) cancel() bool {
	return g.phase.CompareAndSwap(phaseStreaming, phaseCanceled)
}

func (g *drainGate) canceled() bool {
	return g.phase.Load() == phaseCanceled
}

// watchCancel terminates proc when ctx ends before the pipes are drained.
// SIGTERM comes first; if the pipes are still open after the grace period
// the child is killed and the read ends are closed so both drains return.
func (r *Runner) watchCancel(ctx context.Context, proc *process.Process, drained <-chan struct{}, gate *drainGate) {
	select {
	case <-drained:
		return
	case <-ctx.Done():
	}
	if !gate.cancel() {
		return
	}

	r.logger.Debug().Str("id", proc.ID).Err(ctx.Err()).Msg("terminating child")
	_ = proc.Terminate()

	timer := time.NewTimer(r.grace)
	defer timer.Stop()
	select {
	case <-drained:
		return
	case <-timer.C:
	}

	r.logger.Debug().Str("id", proc.ID).Dur("grace", r.grace).Msg("killing child")
	_ = proc.Kill()
	_ = proc.Close()
}

func (r *Runner) transition(out *Outcome, to State) {
	from := out.State
	out.State = to
	r.logger.Trace().Str("id", out.ID).Str("from", string(from)).Str("to", string(to)).Msg("state")
	for _, l := range r.listeners {
		l.OnTransition(out, from, to)
	}
}
