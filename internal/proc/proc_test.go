package proc

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestRealCommandRunner_CapturesOutputAndExitCode(t *testing.T) {
	r := &RealCommandRunner{}
	var stdout, stderr bytes.Buffer
	code, err := r.Run(context.Background(), "", []string{"sh", "-c", "echo out; echo err >&2; exit 3"}, nil, nil, &stdout, &stderr)
	if err == nil {
		t.Fatalf("expected error for non-zero exit")
	}
	if code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
	if strings.TrimSpace(stdout.String()) != "out" || strings.TrimSpace(stderr.String()) != "err" {
		t.Fatalf("unexpected output: stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
	if !Started(err) {
		t.Fatalf("expected Started for a process that exited")
	}
}

func TestRealCommandRunner_Success(t *testing.T) {
	r := &RealCommandRunner{}
	var stdout bytes.Buffer
	code, err := r.Run(context.Background(), t.TempDir(), []string{"sh", "-c", "pwd"}, []string{"VIBE_TEST=1"}, nil, &stdout, &bytes.Buffer{})
	if err != nil || code != 0 {
		t.Fatalf("expected success, got code=%d err=%v", code, err)
	}
	if stdout.Len() == 0 {
		t.Fatalf("expected pwd output")
	}
}

func TestRealCommandRunner_StdinAndEnv(t *testing.T) {
	r := &RealCommandRunner{}
	var stdout bytes.Buffer
	_, err := r.Run(context.Background(), "", []string{"sh", "-c", "cat; printf %s \"$VIBE_TEST\""}, []string{"VIBE_TEST=x"}, strings.NewReader("in-"), &stdout, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stdout.String() != "in-x" {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}

func TestRealCommandRunner_MissingBinary(t *testing.T) {
	r := &RealCommandRunner{}
	code, err := r.Run(context.Background(), "", []string{"vibe-definitely-missing-binary"}, nil, nil, &bytes.Buffer{}, &bytes.Buffer{})
	if code != -1 {
		t.Fatalf("expected -1, got %d", code)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected exec.ErrNotFound, got %v", err)
	}
	if Started(err) {
		t.Fatalf("expected not started")
	}
}

func TestRealCommandRunner_EmptyArgv(t *testing.T) {
	r := &RealCommandRunner{}
	if _, err := r.Run(context.Background(), "", nil, nil, nil, nil, nil); !errors.Is(err, ErrNoCommand) {
		t.Fatalf("expected ErrNoCommand, got %v", err)
	}
}

func TestRealCommandRunner_CancelKillsProcessGroup(t *testing.T) {
	r := &RealCommandRunner{}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	// sleep runs as a child of sh and holds the output pipes open
	code, err := r.Run(ctx, "", []string{"sh", "-c", "sleep 3; true"}, nil, nil, &bytes.Buffer{}, &bytes.Buffer{})
	elapsed := time.Since(start)

	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
	if code != -1 {
		t.Fatalf("expected -1 for a killed process, got %d", code)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("command outlived its context: took %s", elapsed)
	}
}
