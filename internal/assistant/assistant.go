// Package assistant invokes the external coding assistant CLI in headless
// mode and decodes its JSON reply.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/throw-if-null/vibe/internal/proc"
	"github.com/throw-if-null/vibe/internal/telemetry"
)

const (
	DefaultCommand      = "claude"
	DefaultAllowedTools = "Bash,Read,Edit"
)

// Kind classifies invocation failures.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindCommandFailed
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindCommandFailed:
		return "command_failed"
	case KindParse:
		return "parse"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	ErrNotFound      = errors.New("assistant command not found")
	ErrCommandFailed = errors.New("assistant command failed")
	ErrParse         = errors.New("assistant output is not valid JSON")
)

// Error is returned by Invoke for every failure. Exactly one Kind applies.
type Error struct {
	Kind    Kind
	Command string
	// ExitCode and Stderr are set for KindCommandFailed.
	ExitCode int
	Stderr   string
	// RawOutput is set for KindParse.
	RawOutput string
	Err       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return fmt.Sprintf("'%s' command not found. Please ensure Claude Code is installed.", e.Command)
	case KindCommandFailed:
		return fmt.Sprintf("%s command failed with exit code %d", e.Command, e.ExitCode)
	case KindParse:
		return fmt.Sprintf("failed to parse %s output as JSON: %v", e.Command, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the package sentinels by Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrCommandFailed:
		return e.Kind == KindCommandFailed
	case ErrParse:
		return e.Kind == KindParse
	}
	return false
}

// Output is the decoded JSON object. Unknown keys are kept as-is.
type Output map[string]any

// SessionID returns the "session_id" field, or "".
func (o Output) SessionID() string {
	s, _ := o["session_id"].(string)
	return s
}

// Result returns the "result" field, or "".
func (o Output) Result() string {
	s, _ := o["result"].(string)
	return s
}

type Config struct {
	Command      string
	AllowedTools string
	// Dir is the working directory the assistant runs in.
	Dir string
}

type Options struct {
	SystemPromptFile string
}

// Client runs the assistant through a proc.CommandRunner.
type Client struct {
	cfg    Config
	runner proc.CommandRunner
}

func NewClient(cfg Config, runner proc.CommandRunner) *Client {
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.AllowedTools == "" {
		cfg.AllowedTools = DefaultAllowedTools
	}
	if runner == nil {
		runner = &proc.RealCommandRunner{}
	}
	return &Client{cfg: cfg, runner: runner}
}

// Args builds the argv for one headless invocation.
func (c *Client) Args(prompt string, opts Options) []string {
	argv := []string{c.cfg.Command, "-p", prompt}
	if opts.SystemPromptFile != "" {
		argv = append(argv, "--system-prompt-file", opts.SystemPromptFile)
	}
	return append(argv,
		"--output-format", "json",
		"--allowedTools", c.cfg.AllowedTools,
		"--dangerously-skip-permissions",
	)
}

// Invoke sends prompt to the assistant and blocks until it exits. It never
// retries.
func (c *Client) Invoke(ctx context.Context, prompt string, opts Options) (Output, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "vibe.assistant.invoke")
	defer span.End()
	span.SetAttributes(attribute.Int("assistant.prompt_bytes", len(prompt)))

	out, err := c.invoke(ctx, prompt, opts)
	if err != nil {
		var ae *Error
		if errors.As(err, &ae) {
			span.SetAttributes(attribute.String("assistant.error_kind", ae.Kind.String()))
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("assistant.session_id", out.SessionID()))
	return out, nil
}

func (c *Client) invoke(ctx context.Context, prompt string, opts Options) (Output, error) {
	var stdout, stderr bytes.Buffer
	code, err := c.runner.Run(ctx, c.cfg.Dir, c.Args(prompt, opts), nil, nil, &stdout, &stderr)
	if err != nil || code != 0 {
		if c.isNotFound(err) {
			return nil, &Error{Kind: KindNotFound, Command: c.cfg.Command, Err: err}
		}
		if !proc.Started(err) {
			// launched but could not run for another reason; report as a failed command
			return nil, &Error{Kind: KindCommandFailed, Command: c.cfg.Command, ExitCode: code, Stderr: errText(stderr.String(), err), Err: err}
		}
		return nil, &Error{Kind: KindCommandFailed, Command: c.cfg.Command, ExitCode: code, Stderr: stderr.String(), Err: err}
	}

	raw := stdout.String()
	var v any
	if err := json.Unmarshal(stdout.Bytes(), &v); err != nil {
		return nil, &Error{Kind: KindParse, Command: c.cfg.Command, RawOutput: raw, Err: err}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &Error{Kind: KindParse, Command: c.cfg.Command, RawOutput: raw, Err: fmt.Errorf("expected a JSON object, got %s", strings.TrimSpace(firstToken(raw)))}
	}
	return Output(obj), nil
}

// isNotFound reports whether err means the assistant executable itself is
// missing. A missing working directory also surfaces as ENOENT and is not
// counted.
func (c *Client) isNotFound(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	var pe *fs.PathError
	if !errors.As(err, &pe) || !errors.Is(pe.Err, fs.ErrNotExist) || pe.Path != c.cfg.Command {
		return false
	}
	if c.cfg.Dir != "" {
		if _, statErr := os.Stat(c.cfg.Dir); statErr != nil {
			return false
		}
	}
	return true
}

func errText(stderr string, err error) string {
	if stderr != "" {
		return stderr
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

func firstToken(raw string) string {
	runes := []rune(strings.TrimSpace(raw))
	if len(runes) > 20 {
		return string(runes[:20]) + "..."
	}
	return string(runes)
}
