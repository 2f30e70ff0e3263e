package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/buildany/internal/builder"
	"github.com/dshills/buildany/internal/catalog"
	"github.com/dshills/buildany/internal/process"
)

const helperEnv = "BUILDANY_WANT_HELPER_PROCESS"

// TestHelperProcess is not a real test. It is the child process the other
// tests start by re-executing the test binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "helper: no mode")
		os.Exit(2)
	}

	switch mode, rest := args[0], args[1:]; mode {
	case "exit":
		code, _ := strconv.Atoi(rest[0])
		fmt.Fprintln(os.Stdout, "exiting", code)
		os.Exit(code)
	case "echo":
		fmt.Fprintln(os.Stdout, "out")
		fmt.Fprintln(os.Stderr, "err")
	case "lines":
		n, _ := strconv.Atoi(rest[0])
		w := bufio.NewWriter(os.Stdout)
		for i := 0; i < n; i++ {
			fmt.Fprintln(w, i)
		}
		_ = w.Flush()
	case "burst":
		// Fill stderr well past any pipe buffer before touching stdout, then
		// interleave.
		size, _ := strconv.Atoi(rest[0])
		chunk := bytes.Repeat([]byte("x"), 8192)
		for written := 0; written < size; written += len(chunk) {
			_, _ = os.Stderr.Write(chunk)
		}
		for written := 0; written < size; written += len(chunk) {
			_, _ = os.Stdout.Write(chunk)
			_, _ = os.Stderr.Write(chunk)
		}
	case "pwd":
		wd, _ := os.Getwd()
		fmt.Fprintln(os.Stdout, wd)
	case "sleep":
		fmt.Fprintln(os.Stdout, "ready")
		time.Sleep(time.Minute)
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		fmt.Fprintln(os.Stdout, "ready")
		time.Sleep(time.Minute)
	default:
		fmt.Fprintf(os.Stderr, "helper: unknown mode %q\n", mode)
		os.Exit(2)
	}
	os.Exit(0)
}

// helperBuilder returns a builder whose run verb re-executes the test binary
// in the given helper mode.
func helperBuilder(t *testing.T, mode ...string) *builder.Builder {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("helper processes rely on POSIX signals")
	}
	args := append([]string{"-test.run=^TestHelperProcess$", "--"}, mode...)
	return &builder.Builder{
		Dir:    t.TempDir(),
		Tool:   catalog.ToolMake,
		Marker: "Makefile",
		Template: catalog.Template{
			Executable: os.Args[0],
			Run:        args,
			Test:       args,
			Build:      args,
		},
	}
}

func helperEnvOpt() Option {
	return WithEnv(append(os.Environ(), helperEnv+"=1"))
}

func testLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// executeWithin fails the test if Execute does not return in time, which is
// how a pipe deadlock would show up.
func executeWithin(t *testing.T, d time.Duration, r *Runner, ctx context.Context, b *builder.Builder) (*Outcome, error) {
	t.Helper()
	type result struct {
		out *Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := r.Execute(ctx, b, catalog.VerbRun)
		done <- result{out, err}
	}()
	select {
	case res := <-done:
		return res.out, res.err
	case <-time.After(d):
		t.Fatalf("Execute did not return within %v", d)
		return nil, nil
	}
}

func TestExecute_ExitStatusIsOutcome(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := New(WithStdout(&stdout), WithStderr(&stderr), helperEnvOpt(), WithLogger(testLogger(t)))
	defer r.Close()

	out, err := r.Execute(context.Background(), helperBuilder(t, "exit", "42"), catalog.VerbRun)
	require.NoError(t, err, "a non-zero child is not a runner error")

	assert.Equal(t, 42, out.ExitCode)
	assert.Nil(t, out.Signal)
	assert.Equal(t, StateCompleted, out.State)
	assert.False(t, out.Success())
	assert.Equal(t, "exiting 42\n", stdout.String())
	assert.NotEmpty(t, out.ID)
	assert.False(t, out.End.Before(out.Start))

	var exitErr *ExitError
	require.ErrorAs(t, out.Err(), &exitErr)
	assert.Equal(t, 42, exitErr.ExitCode())
}

func TestExecute_Success(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := New(WithStdout(&stdout), WithStderr(&stderr), helperEnvOpt())
	defer r.Close()

	b := helperBuilder(t, "echo")
	out, err := r.Execute(context.Background(), b, catalog.VerbRun)
	require.NoError(t, err)

	assert.True(t, out.Success())
	assert.NoError(t, out.Err())
	assert.Equal(t, "out\n", stdout.String())
	assert.Equal(t, "err\n", stderr.String())
	assert.Equal(t, int64(4), out.StdoutBytes)
	assert.Equal(t, int64(4), out.StderrBytes)
	assert.Equal(t, b.Dir, out.Dir)
	assert.Equal(t, catalog.ToolMake, out.Tool)
	assert.Equal(t, catalog.VerbRun, out.Verb)
	assert.Equal(t, os.Args[0], out.Argv[0])
}

func TestExecute_WorkingDirectory(t *testing.T) {
	var stdout bytes.Buffer
	r := New(WithStdout(&stdout), WithStderr(&bytes.Buffer{}), helperEnvOpt())
	defer r.Close()

	b := helperBuilder(t, "pwd")
	_, err := r.Execute(context.Background(), b, catalog.VerbRun)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(b.Dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(stdout.String()))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExecute_LargeOutputOnBothStreams(t *testing.T) {
	const size = 4 << 20
	var stdout, stderr bytes.Buffer
	r := New(WithStdout(&stdout), WithStderr(&stderr), helperEnvOpt())
	defer r.Close()

	out, err := executeWithin(t, 30*time.Second, r, context.Background(), helperBuilder(t, "burst", strconv.Itoa(size)))
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, size, stdout.Len())
	assert.Equal(t, 2*size, stderr.Len())
	assert.Equal(t, int64(size), out.StdoutBytes)
	assert.Equal(t, int64(2*size), out.StderrBytes)
}

func TestExecute_PreservesStreamOrder(t *testing.T) {
	var stdout bytes.Buffer
	r := New(WithStdout(&stdout), WithStderr(&bytes.Buffer{}), helperEnvOpt(), WithBufferSize(7))
	defer r.Close()

	_, err := r.Execute(context.Background(), helperBuilder(t, "lines", "2000"), catalog.VerbRun)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(stdout.String(), "\n"), "\n")
	require.Len(t, lines, 2000)
	for i, line := range lines {
		require.Equal(t, strconv.Itoa(i), line)
	}
}

func TestExecute_SharedSink(t *testing.T) {
	const size = 1 << 20
	var sink bytes.Buffer
	r := New(WithStdout(&sink), WithStderr(&sink), helperEnvOpt())
	defer r.Close()

	out, err := executeWithin(t, 30*time.Second, r, context.Background(), helperBuilder(t, "burst", strconv.Itoa(size)))
	require.NoError(t, err)
	assert.Equal(t, 3*size, sink.Len())
	assert.Equal(t, int64(3*size), out.StdoutBytes+out.StderrBytes)
}

func TestExecute_SpawnFailed(t *testing.T) {
	var transitions []State
	r := New(WithListener(ListenerFunc(func(_ *Outcome, _, to State) {
		transitions = append(transitions, to)
	})))
	defer r.Close()

	b := &builder.Builder{
		Dir:      t.TempDir(),
		Tool:     catalog.ToolCargo,
		Template: catalog.Template{Executable: "buildany-no-such-tool", Run: []string{"run"}, Test: []string{"test"}, Build: []string{"build"}},
	}
	out, err := r.Execute(context.Background(), b, catalog.VerbTest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.NotErrorIs(t, err, ErrStreamIO)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindSpawnFailed, rerr.Kind)

	assert.Equal(t, StateFailed, out.State)
	assert.Empty(t, out.ID)
	assert.Equal(t, []string{"buildany-no-such-tool", "test"}, out.Argv)
	assert.Equal(t, []State{StateFailed}, transitions)
}

func TestExecute_Transitions(t *testing.T) {
	type step struct{ from, to State }
	var steps []step
	r := New(
		WithStdout(&bytes.Buffer{}), WithStderr(&bytes.Buffer{}), helperEnvOpt(),
		WithListener(ListenerFunc(func(_ *Outcome, from, to State) {
			steps = append(steps, step{from, to})
		})),
	)
	defer r.Close()

	_, err := r.Execute(context.Background(), helperBuilder(t, "exit", "3"), catalog.VerbRun)
	require.NoError(t, err)

	assert.Equal(t, []step{
		{StateIdle, StateSpawned},
		{StateSpawned, StateStreaming},
		{StateStreaming, StateDrained},
		{StateDrained, StateCompleted},
	}, steps)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("sink closed") }

func TestExecute_SinkFailureKeepsDraining(t *testing.T) {
	const size = 1 << 20
	var stderr bytes.Buffer
	r := New(WithStdout(failingWriter{}), WithStderr(&stderr), helperEnvOpt())
	defer r.Close()

	out, err := executeWithin(t, 30*time.Second, r, context.Background(), helperBuilder(t, "burst", strconv.Itoa(size)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamIO)
	assert.Contains(t, err.Error(), "sink closed")

	// The child was never blocked by the broken sink.
	assert.Equal(t, 0, out.ExitCode)
	assert.Equal(t, int64(size), out.StdoutBytes)
	assert.Equal(t, 2*size, stderr.Len())
	assert.Equal(t, StateFailed, out.State)
}

func TestExecute_BothSinksFail(t *testing.T) {
	r := New(WithStdout(failingWriter{}), WithStderr(failingWriter{}), helperEnvOpt())
	defer r.Close()

	out, err := executeWithin(t, 30*time.Second, r, context.Background(), helperBuilder(t, "burst", "65536"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamIO)
	assert.Contains(t, err.Error(), "stdout: write: sink closed")
	assert.Contains(t, err.Error(), "stderr: write: sink closed")
	assert.Equal(t, 0, out.ExitCode)
}

func TestExecute_AfterClose(t *testing.T) {
	r := New(WithStdout(&bytes.Buffer{}), WithStderr(&bytes.Buffer{}), helperEnvOpt())
	require.NoError(t, r.Close())

	out, err := r.Execute(context.Background(), helperBuilder(t, "echo"), catalog.VerbRun)
	assert.ErrorIs(t, err, ErrSpawnFailed)
	assert.ErrorIs(t, err, process.ErrSupervisorShutdown)
	assert.Equal(t, StateFailed, out.State)
}

func TestExecute_CancelAfterDrainKeepsExitStatus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(
		WithStdout(&bytes.Buffer{}), WithStderr(&bytes.Buffer{}), helperEnvOpt(),
		WithListener(ListenerFunc(func(_ *Outcome, _, to State) {
			if to == StateDrained {
				cancel()
			}
		})),
	)
	defer r.Close()

	out, err := executeWithin(t, 10*time.Second, r, ctx, helperBuilder(t, "exit", "3"))
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, StateCompleted, out.State)
}

func TestWatchCancel_DrainedFirstWins(t *testing.T) {
	r := New(WithGracePeriod(time.Millisecond))
	defer r.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Both channels are ready; the outcome must not depend on which one
	// select happens to pick.
	for i := 0; i < 100; i++ {
		proc := process.NewProcess("id", "never started", exec.Command("true"))
		drained := make(chan struct{})
		var gate drainGate
		require.True(t, gate.finish())
		close(drained)

		r.watchCancel(ctx, proc, drained, &gate)
		require.False(t, gate.canceled(), "iteration %d", i)
	}
}

func TestDrainGate(t *testing.T) {
	var drainedFirst drainGate
	assert.True(t, drainedFirst.finish())
	assert.False(t, drainedFirst.cancel())
	assert.False(t, drainedFirst.canceled())

	var canceledFirst drainGate
	assert.True(t, canceledFirst.cancel())
	assert.False(t, canceledFirst.finish())
	assert.True(t, canceledFirst.canceled())
}

// readyWriter closes ready on the first write.
type readyWriter struct {
	once  sync.Once
	ready chan struct{}
}

func (w *readyWriter) Write(p []byte) (int, error) {
	w.once.Do(func() { close(w.ready) })
	return len(p), nil
}

func TestExecute_CancelTerminatesChild(t *testing.T) {
	w := &readyWriter{ready: make(chan struct{})}
	r := New(WithStdout(w), WithStderr(&bytes.Buffer{}), helperEnvOpt(), WithLogger(testLogger(t)))
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-w.ready
		cancel()
	}()

	start := time.Now()
	out, err := executeWithin(t, 10*time.Second, r, ctx, helperBuilder(t, "sleep"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, syscall.SIGTERM, out.Signal)
	assert.Equal(t, StateFailed, out.State)
	assert.Less(t, time.Since(start), DefaultGracePeriod)
}

func TestExecute_CancelKillsAfterGrace(t *testing.T) {
	w := &readyWriter{ready: make(chan struct{})}
	r := New(WithStdout(w), WithStderr(&bytes.Buffer{}), helperEnvOpt(), WithGracePeriod(200*time.Millisecond))
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-w.ready
		cancel()
	}()

	out, err := executeWithin(t, 10*time.Second, r, ctx, helperBuilder(t, "stubborn"))
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, syscall.SIGKILL, out.Signal)
}

func TestExecute_Timeout(t *testing.T) {
	r := New(WithStdout(&bytes.Buffer{}), WithStderr(&bytes.Buffer{}), helperEnvOpt())
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := executeWithin(t, 10*time.Second, r, ctx, helperBuilder(t, "sleep"))
	assert.ErrorIs(t, err, ErrCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_AlreadyCanceled(t *testing.T) {
	r := New()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := r.Execute(ctx, helperBuilder(t, "echo"), catalog.VerbRun)
	assert.ErrorIs(t, err, ErrCanceled)
	assert.Empty(t, out.ID)
}

func TestExecute_UnknownVerb(t *testing.T) {
	r := New()
	defer r.Close()

	_, err := r.Execute(context.Background(), helperBuilder(t, "echo"), catalog.Verb("deploy"))
	require.Error(t, err)
	var rerr *Error
	assert.False(t, errors.As(err, &rerr))
}

func TestExitError(t *testing.T) {
	assert.Equal(t, 42, (&ExitError{Code: 42}).ExitCode())
	assert.Equal(t, "exit status 42", (&ExitError{Code: 42}).Error())
	assert.Equal(t, 137, (&ExitError{Code: -1, Signal: syscall.SIGKILL}).ExitCode())
	assert.Equal(t, 143, (&ExitError{Code: -1, Signal: syscall.SIGTERM}).ExitCode())
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindStreamIO, Op: "relay", Err: errors.New("boom")})
	assert.ErrorIs(t, err, ErrStreamIO)
	assert.NotErrorIs(t, err, ErrSpawnFailed)
	assert.Contains(t, err.Error(), "relay: stream i/o error: boom")
	assert.Equal(t, "StreamCaptureFailed", KindStreamCapture.String())
}
