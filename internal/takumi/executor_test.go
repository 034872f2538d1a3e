package takumi

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"testing"
)

func TestExitCodeOf(t *testing.T) {
	err := exec.Command("sh", "-c", "exit 3").Run()
	if err == nil {
		t.Fatal("expected a nonzero exit")
	}
	if got := exitCodeOf(err); got != 3 {
		t.Errorf("exitCodeOf = %d, want 3", got)
	}
	if got := exitCodeOf(fmt.Errorf("not an exit error")); got != -1 {
		t.Errorf("exitCodeOf(non-exec) = %d, want -1", got)
	}
}

func TestExecutorCaptureCollectsOutput(t *testing.T) {
	e := NewExecutor(context.Background())

	res, err := e.Capture(exec.Command("sh", "-c", "echo out; echo err >&2"))
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !strings.Contains(res.Output, "out") || !strings.Contains(res.Output, "err") {
		t.Errorf("combined output = %q", res.Output)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d", res.ExitCode)
	}
}

func TestExecutorCaptureReportsFailure(t *testing.T) {
	e := NewExecutor(context.Background())

	res, err := e.Capture(exec.Command("sh", "-c", "echo boom >&2; exit 2"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if res.ExitCode != 2 {
		t.Errorf("exit code = %d, want 2", res.ExitCode)
	}
	if !strings.Contains(res.Output, "boom") {
		t.Errorf("failure output lost: %q", res.Output)
	}
}

func TestExecutorHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewExecutor(ctx)

	if err := e.Run(exec.Command("sleep", "10")); err == nil {
		t.Fatal("cancelled context did not abort the command")
	}
}

func TestExecutorPreservesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	e := NewExecutor(context.Background())

	cmd := exec.Command("pwd")
	cmd.Dir = dir
	res, err := e.Capture(cmd)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if strings.TrimSpace(res.Output) != dir {
		t.Errorf("command ran in %q, want %q", res.Output, dir)
	}
}
