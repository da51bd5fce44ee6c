// Package checks runs configured validation commands and drives the
// fix-and-retry loop around them.
package checks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/throw-if-null/vibe/internal/config"
	"github.com/throw-if-null/vibe/internal/logging"
	"github.com/throw-if-null/vibe/internal/proc"
	"github.com/throw-if-null/vibe/internal/telemetry"
)

const DefaultShell = "/bin/sh"

// Result is the outcome of running one step once.
type Result struct {
	Success  bool
	StepName string
	Command  string
	// Output is the captured stdout.
	Output string
	// Error is nil on success. On failure it holds stderr, or a description
	// of why the command could not be run.
	Error    *string
	ExitCode int
	Duration time.Duration
}

// ErrorText returns the error string, or "" when Error is nil.
func (r Result) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// AllPassed reports whether every result succeeded. It is true for no results.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}

// Failed returns the failing results in input order.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}

type ExecutorConfig struct {
	// Shell runs each command as `<Shell> -c <command>`. Defaults to /bin/sh.
	Shell string
	// Dir is the working directory for commands; empty means the current one.
	Dir string
	// Timeout bounds each command. Zero means no limit.
	Timeout time.Duration
}

// Executor runs a single check step through the shell.
type Executor struct {
	cfg    ExecutorConfig
	runner proc.CommandRunner
	log    *logging.Logger
}

func NewExecutor(cfg ExecutorConfig, runner proc.CommandRunner, log *logging.Logger) *Executor {
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell
	}
	if runner == nil {
		runner = &proc.RealCommandRunner{}
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Executor{cfg: cfg, runner: runner, log: log}
}

// Run executes step and reports the outcome. Command failures are never
// returned as errors; they are part of the Result.
func (e *Executor) Run(ctx context.Context, step config.CheckStep) Result {
	ctx, span := telemetry.Tracer().Start(ctx, "vibe.check")
	defer span.End()
	span.SetAttributes(attribute.String("check.name", step.Name))

	e.log.Infof("Running check '%s': %s", step.Name, step.Command)

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	start := time.Now()
	code, err := e.runner.Run(runCtx, e.cfg.Dir, []string{e.cfg.Shell, "-c", step.Command}, nil, nil, &stdout, &stderr)
	res := Result{
		StepName: step.Name,
		Command:  step.Command,
		ExitCode: code,
		Duration: time.Since(start),
	}
	span.SetAttributes(
		attribute.Int("check.exit_code", code),
		attribute.Int64("check.duration_ms", res.Duration.Milliseconds()),
	)

	switch {
	case err == nil && code == 0:
		res.Success = true
		res.Output = stdout.String()
		e.log.Successf("Check '%s' passed (%s)", step.Name, res.Duration.Round(time.Millisecond))
	case !proc.Started(err):
		msg := err.Error()
		res.Error = &msg
		e.log.Errorf("Error executing check '%s': %v", step.Name, err)
		span.SetStatus(codes.Error, msg)
	default:
		res.Output = stdout.String()
		msg := stderr.String()
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			msg += fmt.Sprintf("\ncheck timed out after %s", e.cfg.Timeout)
		}
		res.Error = &msg
		e.log.Errorf("Check '%s' failed with exit code %d (%s)", step.Name, code, res.Duration.Round(time.Millisecond))
		span.SetStatus(codes.Error, "check failed")
	}
	return res
}
