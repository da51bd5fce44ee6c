// Package runner drives prompt files through the assistant and the check
// supervisor, either one file at a time or a whole directory with resumable
// progress.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/throw-if-null/vibe/internal/api"
	"github.com/throw-if-null/vibe/internal/assistant"
	"github.com/throw-if-null/vibe/internal/checks"
	"github.com/throw-if-null/vibe/internal/config"
	"github.com/throw-if-null/vibe/internal/logging"
	"github.com/throw-if-null/vibe/internal/state"
	"github.com/throw-if-null/vibe/internal/telemetry"
)

var (
	ErrPromptNotFound = errors.New("prompt file not found")
	ErrEmptyPrompt    = errors.New("prompt file is empty")
	ErrChecksFailed   = errors.New("checks did not pass")
)

// Invoker sends one prompt to the assistant. *assistant.Client implements it.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, opts assistant.Options) (assistant.Output, error)
}

// Recorder keeps run history. *journal.Journal implements it.
type Recorder interface {
	StartRun(promptPath, directory string) (string, error)
	SetSession(id, sessionID string) error
	RecordAttempt(a api.Attempt) error
	FinishRun(id string, status api.RunStatus, sessionID, errorSummary string) error
}

type Config struct {
	// Root is the project root holding .vibe/.
	Root             string
	SystemPromptFile string
}

type Runner struct {
	cfg       Config
	assistant Invoker
	steps     checks.StepRunner
	state     *state.Store
	journal   Recorder
	log       *logging.Logger
}

type Option func(*Runner)

// WithJournal records every prompt run in rec. Recording failures are logged
// and never change the outcome of a run.
func WithJournal(rec Recorder) Option {
	return func(r *Runner) { r.journal = rec }
}

func WithLogger(log *logging.Logger) Option {
	return func(r *Runner) { r.log = log }
}

func New(cfg Config, inv Invoker, steps checks.StepRunner, st *state.Store, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, assistant: inv, steps: steps, state: st, log: logging.Discard()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RunFile processes a single prompt file: load configuration, read the
// prompt, invoke the assistant, then run the checks.
func (r *Runner) RunFile(ctx context.Context, path string) error {
	cfg, err := r.loadConfig()
	if err != nil {
		return err
	}
	return r.process(ctx, path, "", cfg)
}

func (r *Runner) loadConfig() (config.ProjectConfig, error) {
	res := config.Load(r.cfg.Root)
	if res.ParseError != nil {
		switch {
		case errors.Is(res.ParseError, config.ErrParse):
			r.log.Errorf("Invalid configuration file %s: %v", res.Path, res.ParseError)
		case errors.Is(res.ParseError, config.ErrInvalid):
			r.log.Errorf("Invalid configuration: %v", res.ParseError)
		default:
			r.log.Errorf("Error loading project configuration: %v", res.ParseError)
		}
		return config.ProjectConfig{}, fmt.Errorf("load %s: %w", res.Path, res.ParseError)
	}
	switch {
	case !res.Found:
		r.log.Infof("No project configuration found (.vibe/vibe.yaml), skipping checks")
	case res.Config.Checks != nil:
		r.log.Infof("Loaded project configuration with %d check(s)", len(res.Config.Checks.Steps))
	}
	return res.Config, nil
}

func readPrompt(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrPromptNotFound, path)
		}
		return "", fmt.Errorf("reading prompt file failed: %w", err)
	}
	content := strings.TrimSpace(string(b))
	if content == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyPrompt, path)
	}
	return content, nil
}

// process runs one prompt file end to end. A nil error means the assistant
// succeeded and every check passed.
func (r *Runner) process(ctx context.Context, path, dir string, cfg config.ProjectConfig) error {
	ctx, span := telemetry.Tracer().Start(ctx, "vibe.prompt")
	defer span.End()
	span.SetAttributes(attribute.String("prompt.path", path))

	prompt, err := readPrompt(path)
	if err != nil {
		r.log.Errorf("%v", err)
		return err
	}

	runID := r.startRun(path, dir)
	opts := assistant.Options{SystemPromptFile: r.cfg.SystemPromptFile}

	r.log.Infof("Running Claude with prompt:\n-------\n%s\n-------", prompt)
	out, err := r.assistant.Invoke(ctx, prompt, opts)
	if err != nil {
		r.reportInvokeError(err)
		r.finishRun(runID, api.RunFailed, "", err.Error())
		return fmt.Errorf("invoke assistant: %w", err)
	}
	r.reportOutput(out)
	sessionID := out.SessionID()
	if sessionID != "" {
		span.SetAttributes(attribute.String("assistant.session_id", sessionID))
		r.record(runID, "set session", func(j Recorder) error { return j.SetSession(runID, sessionID) })
	}

	if !r.runChecks(ctx, runID, cfg, opts) {
		r.finishRun(runID, api.RunFailed, sessionID, ErrChecksFailed.Error())
		return ErrChecksFailed
	}
	r.finishRun(runID, api.RunSucceeded, sessionID, "")
	return nil
}

func (r *Runner) reportInvokeError(err error) {
	var ae *assistant.Error
	if !errors.As(err, &ae) {
		r.log.Errorf("%v", err)
		return
	}
	switch ae.Kind {
	case assistant.KindCommandFailed:
		if ae.Stderr != "" {
			r.log.Errorf("Error output: %s", ae.Stderr)
		}
	case assistant.KindParse:
		r.log.Errorf("Raw output: %s", ae.RawOutput)
	}
	r.log.Errorf("%v", ae)
}

func (r *Runner) reportOutput(out assistant.Output) {
	if r.log.Level() <= logging.LevelDebug {
		if b, err := json.MarshalIndent(out, "", "  "); err == nil {
			r.log.Debugf("---- unparsed Claude output ----\n%s\n--------------------------------", b)
		}
	}
	r.log.Infof("Claude output parsed successfully. %d keys found in JSON output.", len(out))
	if id := out.SessionID(); id != "" {
		r.log.Infof("Session ID: %s", id)
	}
	if res := out.Result(); res != "" {
		r.log.Infof("%s", res)
	}
}

// runChecks reports whether all configured checks passed. No configured
// checks counts as passing.
func (r *Runner) runChecks(ctx context.Context, runID string, cfg config.ProjectConfig, opts assistant.Options) bool {
	if cfg.Checks == nil {
		return true
	}

	fixer := checks.FixerFunc(func(ctx context.Context, prompt string) error {
		_, err := r.assistant.Invoke(ctx, prompt, opts)
		if err != nil {
			r.reportInvokeError(err)
		}
		return err
	})
	sup := checks.NewSupervisor(r.steps, fixer, r.log)
	sup.OnAttempt(func(attempt int, results []checks.Result) {
		for _, res := range results {
			a := api.Attempt{
				RunID:      runID,
				AttemptNum: attempt,
				StepName:   res.StepName,
				Success:    res.Success,
				ExitCode:   res.ExitCode,
				DurationMs: res.Duration.Milliseconds(),
			}
			r.record(runID, "record attempt", func(j Recorder) error { return j.RecordAttempt(a) })
		}
	})

	r.log.Infof("Running configured checks...")
	rep := sup.Run(ctx, *cfg.Checks)

	failed := checks.Failed(rep.Results)
	if passed := len(rep.Results) - len(failed); passed > 0 {
		r.log.Infof("Passed checks: %d/%d", passed, len(rep.Results))
	}
	if len(failed) > 0 {
		r.log.Warnf("Failed checks: %d/%d", len(failed), len(rep.Results))
		for _, res := range failed {
			r.log.Errorf("  - %s", res.StepName)
			if msg := res.ErrorText(); msg != "" {
				r.log.Errorf("    Error: %s", msg)
			}
		}
	}
	return rep.Passed()
}

func (r *Runner) startRun(path, dir string) string {
	if r.journal == nil {
		return ""
	}
	id, err := r.journal.StartRun(path, dir)
	if err != nil {
		r.log.Warnf("Failed to record run in history: %v", err)
		return ""
	}
	return id
}

func (r *Runner) finishRun(id string, status api.RunStatus, sessionID, summary string) {
	r.record(id, "finish run", func(j Recorder) error { return j.FinishRun(id, status, sessionID, summary) })
}

// record is a no-op without a journal or when the run was never started.
func (r *Runner) record(runID, what string, fn func(Recorder) error) {
	if r.journal == nil || runID == "" {
		return
	}
	if err := fn(r.journal); err != nil {
		r.log.Warnf("History %s failed: %v", what, err)
	}
}
