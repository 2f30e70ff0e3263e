package process

import (
	"errors"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestNewProcess(t *testing.T) {
	proc := NewProcess("test-id", "cargo build", exec.Command("echo", "hello"))

	if proc.ID != "test-id" {
		t.Errorf("expected ID 'test-id', got %q", proc.ID)
	}
	if proc.State() != StateCreated {
		t.Errorf("expected state StateCreated, got %v", proc.State())
	}
	if proc.ExitCode() != -1 {
		t.Errorf("expected exit code -1, got %d", proc.ExitCode())
	}
	if proc.PID() != -1 {
		t.Errorf("expected PID -1 before start, got %d", proc.PID())
	}
	if proc.IsRunning() {
		t.Error("expected IsRunning() to be false before start")
	}
	if proc.Runtime() != 0 {
		t.Errorf("expected zero runtime before start, got %v", proc.Runtime())
	}
	if err := proc.Wait(); !errors.Is(err, ErrProcessNotStarted) {
		t.Errorf("expected ErrProcessNotStarted from Wait, got %v", err)
	}
}

func TestProcess_StartTwice(t *testing.T) {
	proc := NewProcess("id", "echo", exec.Command("echo", "hello"))
	if err := proc.start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	defer proc.Wait()

	if err := proc.start(); !errors.Is(err, ErrProcessAlreadyStarted) {
		t.Errorf("expected ErrProcessAlreadyStarted, got %v", err)
	}
}

func TestProcess_WaitIsExplicit(t *testing.T) {
	proc := NewProcess("id", "true", exec.Command("true"))
	if err := proc.start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	// Nothing reaps the child until Wait is called.
	select {
	case <-proc.Done():
		t.Fatal("process reaped without Wait")
	case <-time.After(50 * time.Millisecond):
	}
	if !proc.IsRunning() {
		t.Errorf("expected StateRunning before Wait, got %v", proc.State())
	}

	if err := proc.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	select {
	case <-proc.Done():
	default:
		t.Fatal("Done not closed after Wait")
	}

	// Repeated waits report the same outcome.
	if err := proc.Wait(); err != nil {
		t.Errorf("second Wait: %v", err)
	}
}

func TestProcess_ExitCode(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *exec.Cmd
		wantCode int
	}{
		{"success", exec.Command("true"), 0},
		{"failure", exec.Command("false"), 1},
		{"exit 42", exec.Command("sh", "-c", "exit 42"), 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := NewProcess("id", tt.name, tt.cmd)
			if err := proc.start(); err != nil {
				t.Fatalf("failed to start process: %v", err)
			}
			if err := proc.Wait(); err != nil {
				t.Fatalf("non-zero exit must not be a Wait error, got %v", err)
			}
			if proc.ExitCode() != tt.wantCode {
				t.Errorf("expected exit code %d, got %d", tt.wantCode, proc.ExitCode())
			}
			if proc.State() != StateExited {
				t.Errorf("expected StateExited, got %v", proc.State())
			}
			if proc.ExitSignal() != nil {
				t.Errorf("expected no signal, got %v", proc.ExitSignal())
			}
		})
	}
}

func TestProcess_KilledBySignal(t *testing.T) {
	proc := NewProcess("id", "sleep", exec.Command("sleep", "10"))
	if err := proc.start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	if err := proc.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if err := proc.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if proc.State() != StateKilled {
		t.Errorf("expected StateKilled, got %v", proc.State())
	}
	if proc.ExitSignal() != syscall.SIGKILL {
		t.Errorf("expected SIGKILL, got %v", proc.ExitSignal())
	}
	if proc.ExitCode() != -1 {
		t.Errorf("expected exit code -1 for a signaled process, got %d", proc.ExitCode())
	}
	if proc.Runtime() <= 0 {
		t.Error("expected positive runtime")
	}
}

func TestProcess_SignalAfterExit(t *testing.T) {
	proc := NewProcess("id", "true", exec.Command("true"))
	if err := proc.start(); err != nil {
		t.Fatalf("failed to start process: %v", err)
	}
	if err := proc.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if err := proc.Terminate(); !errors.Is(err, ErrProcessNotStarted) {
		t.Errorf("expected ErrProcessNotStarted after exit, got %v", err)
	}
}

func TestProcess_DrainThenWait(t *testing.T) {
	s := NewSupervisor()
	defer s.Shutdown(time.Second)

	proc, err := s.Start("sh", exec.Command("sh", "-c", "echo out; echo err 1>&2"))
	if err != nil {
		t.Fatalf("failed to start process: %v", err)
	}

	out, err := io.ReadAll(proc.Stdout)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	errOut, err := io.ReadAll(proc.Stderr)
	if err != nil {
		t.Fatalf("read stderr: %v", err)
	}
	if err := proc.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if strings.TrimSpace(string(out)) != "out" {
		t.Errorf("stdout = %q", out)
	}
	if strings.TrimSpace(string(errOut)) != "err" {
		t.Errorf("stderr = %q", errOut)
	}

	// The pipes are already closed by Wait.
	if err := proc.Close(); err != nil {
		t.Errorf("Close after Wait: %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "created"},
		{StateRunning, "running"},
		{StateExited, "exited"},
		{StateKilled, "killed"},
		{State(99), "unknown(99)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
