package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

type FakeRunner struct {
	LastDir  string
	LastArgv []string
	Stdout   string
	Stderr   string
	Code     int
	Err      error
}

func (f *FakeRunner) Run(ctx context.Context, dir string, argv []string, env []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	f.LastDir = dir
	f.LastArgv = append([]string{}, argv...)
	_, _ = io.WriteString(stdout, f.Stdout)
	_, _ = io.WriteString(stderr, f.Stderr)
	return f.Code, f.Err
}

func TestInvoke_BuildsArgvAndParsesOutput(t *testing.T) {
	f := &FakeRunner{Stdout: `{"session_id":"abc-123","result":"done","cost_usd":0.1}`}
	c := NewClient(Config{Dir: "/repo"}, f)

	out, err := c.Invoke(context.Background(), "fix the bug", Options{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	want := []string{"claude", "-p", "fix the bug", "--output-format", "json", "--allowedTools", "Bash,Read,Edit", "--dangerously-skip-permissions"}
	if strings.Join(f.LastArgv, "\x00") != strings.Join(want, "\x00") {
		t.Fatalf("unexpected argv:\n got %q\nwant %q", f.LastArgv, want)
	}
	if f.LastDir != "/repo" {
		t.Fatalf("unexpected dir %q", f.LastDir)
	}
	if out.SessionID() != "abc-123" || out.Result() != "done" {
		t.Fatalf("unexpected output: %v", out)
	}
	if _, ok := out["cost_usd"]; !ok {
		t.Fatalf("unknown fields should be preserved")
	}
}

func TestInvoke_SystemPromptFile(t *testing.T) {
	f := &FakeRunner{Stdout: `{}`}
	c := NewClient(Config{Command: "claude-dev", AllowedTools: "Read"}, f)

	if _, err := c.Invoke(context.Background(), "p", Options{SystemPromptFile: "sys.md"}); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	got := strings.Join(f.LastArgv, " ")
	if !strings.HasPrefix(got, "claude-dev -p p --system-prompt-file sys.md --output-format json") {
		t.Fatalf("unexpected argv %q", got)
	}
	if !strings.Contains(got, "--allowedTools Read") {
		t.Fatalf("allowed tools not applied: %q", got)
	}
}

func TestInvoke_MissingFields(t *testing.T) {
	f := &FakeRunner{Stdout: `{"other":1}`}
	out, err := NewClient(Config{}, f).Invoke(context.Background(), "p", Options{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.SessionID() != "" || out.Result() != "" {
		t.Fatalf("expected empty accessors, got %q %q", out.SessionID(), out.Result())
	}
}

func TestInvoke_NotFound(t *testing.T) {
	f := &FakeRunner{Code: -1, Err: &exec.Error{Name: "claude", Err: exec.ErrNotFound}}
	_, err := NewClient(Config{}, f).Invoke(context.Background(), "p", Options{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrCommandFailed) || errors.Is(err, ErrParse) {
		t.Fatalf("error must match exactly one kind")
	}
	if !strings.Contains(err.Error(), "'claude' command not found") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestInvoke_CommandFailed(t *testing.T) {
	f := &FakeRunner{Code: 2, Stderr: "rate limited", Err: fmt.Errorf("exit status 2")}
	_, err := NewClient(Config{}, f).Invoke(context.Background(), "p", Options{})
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ae.Kind != KindCommandFailed || ae.ExitCode != 2 || ae.Stderr != "rate limited" {
		t.Fatalf("unexpected error: %+v", ae)
	}
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed")
	}
}

func TestInvoke_ParseError(t *testing.T) {
	for _, stdout := range []string{"not json", "", `["a"]`, `"str"`} {
		f := &FakeRunner{Stdout: stdout}
		_, err := NewClient(Config{}, f).Invoke(context.Background(), "p", Options{})
		var ae *Error
		if !errors.As(err, &ae) || ae.Kind != KindParse {
			t.Fatalf("expected parse error for %q, got %v", stdout, err)
		}
		if ae.RawOutput != stdout {
			t.Fatalf("raw output not preserved: %q", ae.RawOutput)
		}
	}
}

func TestInvoke_RealProcess(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-claude")
	body := "#!/bin/sh\nprintf '{\"session_id\":\"s1\",\"result\":\"%s\"}' \"$2\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	out, err := NewClient(Config{Command: script}, nil).Invoke(context.Background(), "hello", Options{})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.SessionID() != "s1" || out.Result() != "hello" {
		t.Fatalf("unexpected output %v", out)
	}

	_, err = NewClient(Config{Command: filepath.Join(dir, "missing")}, nil).Invoke(context.Background(), "hello", Options{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing binary, got %v", err)
	}
}

func TestInvoke_MissingWorkDirIsNotNotFound(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")

	f := &FakeRunner{Code: -1, Err: &fs.PathError{Op: "chdir", Path: missing, Err: fs.ErrNotExist}}
	_, err := NewClient(Config{Dir: missing}, f).Invoke(context.Background(), "p", Options{})
	if errors.Is(err, ErrNotFound) || !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed for a missing directory, got %v", err)
	}

	_, err = NewClient(Config{Command: "sh", Dir: missing}, nil).Invoke(context.Background(), "p", Options{})
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected a non not-found failure for a missing directory, got %v", err)
	}
}

func TestParseErrorTruncatesOnRuneBoundary(t *testing.T) {
	raw := `"` + strings.Repeat("é", 30) + `"`
	f := &FakeRunner{Stdout: raw}
	_, err := NewClient(Config{}, f).Invoke(context.Background(), "p", Options{})
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind != KindParse {
		t.Fatalf("expected parse error, got %v", err)
	}
	msg := ae.Err.Error()
	if !utf8.ValidString(msg) {
		t.Fatalf("truncated message is not valid UTF-8: %q", msg)
	}
	if !strings.HasSuffix(msg, "...") {
		t.Fatalf("expected truncation marker, got %q", msg)
	}
}
