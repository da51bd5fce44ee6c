package checks

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/throw-if-null/vibe/internal/config"
	"github.com/throw-if-null/vibe/internal/logging"
	"github.com/throw-if-null/vibe/internal/telemetry"
)

// StepRunner runs one check step. *Executor implements it.
type StepRunner interface {
	Run(ctx context.Context, step config.CheckStep) Result
}

// Fixer asks the assistant to repair failing checks.
type Fixer interface {
	Fix(ctx context.Context, prompt string) error
}

// FixerFunc adapts a function to Fixer.
type FixerFunc func(ctx context.Context, prompt string) error

func (f FixerFunc) Fix(ctx context.Context, prompt string) error { return f(ctx, prompt) }

type Outcome string

const (
	OutcomeNoChecks       Outcome = "no_checks"
	OutcomeAllPassed      Outcome = "all_passed"
	OutcomeRetryExhausted Outcome = "retry_exhausted"
	OutcomeFixFailed      Outcome = "fix_failed"
)

// Report is what one supervised run produced.
type Report struct {
	// Results are from the last attempt, in step order.
	Results []Result
	Outcome Outcome
	// Attempts counts full passes over the steps.
	Attempts int
	// Fixes counts successful fix requests.
	Fixes int
	// FixErr is the assistant error when Outcome is OutcomeFixFailed.
	FixErr error
}

// Passed reports whether the run ended with every check passing.
func (r Report) Passed() bool {
	return r.Outcome == OutcomeNoChecks || r.Outcome == OutcomeAllPassed
}

// AttemptObserver is notified after every attempt with that attempt's results.
type AttemptObserver func(attempt int, results []Result)

type Supervisor struct {
	steps   StepRunner
	fixer   Fixer
	log     *logging.Logger
	observe AttemptObserver
}

func NewSupervisor(steps StepRunner, fixer Fixer, log *logging.Logger) *Supervisor {
	if log == nil {
		log = logging.Discard()
	}
	return &Supervisor{steps: steps, fixer: fixer, log: log}
}

// OnAttempt registers an observer, replacing any previous one.
func (s *Supervisor) OnAttempt(fn AttemptObserver) { s.observe = fn }

// Run executes every step, and while some fail and the budget allows, asks
// the assistant for a fix and runs every step again. At most
// cfg.MaxRetries fixes are requested, so the steps run at most
// cfg.MaxRetries+1 times.
func (s *Supervisor) Run(ctx context.Context, cfg config.ChecksConfig) Report {
	ctx, span := telemetry.Tracer().Start(ctx, "vibe.checks")
	defer span.End()

	var rep Report
	defer func() {
		span.SetAttributes(
			attribute.Int("checks.attempts", rep.Attempts),
			attribute.Int("checks.fixes", rep.Fixes),
			attribute.String("checks.outcome", string(rep.Outcome)),
		)
	}()

	if len(cfg.Steps) == 0 {
		s.log.Infof("No checks configured")
		rep.Results = []Result{}
		rep.Outcome = OutcomeNoChecks
		return rep
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.log.Infof("Retry attempt %d/%d", attempt, cfg.MaxRetries)
		}

		results := make([]Result, 0, len(cfg.Steps))
		for _, step := range cfg.Steps {
			results = append(results, s.steps.Run(ctx, step))
		}
		rep.Results = results
		rep.Attempts = attempt + 1
		if s.observe != nil {
			s.observe(rep.Attempts, results)
		}

		if AllPassed(results) {
			s.log.Infof("All checks passed!")
			rep.Outcome = OutcomeAllPassed
			return rep
		}

		if attempt >= cfg.MaxRetries {
			s.log.Warnf("Reached maximum retries (%d). Some checks still failing.", cfg.MaxRetries)
			rep.Outcome = OutcomeRetryExhausted
			return rep
		}

		prompt := BuildFixPrompt(results)
		s.log.Infof("Asking the assistant to fix failing checks...")
		s.log.Infof("Fix prompt:\n-------\n%s\n-------", prompt)

		if err := ctx.Err(); err != nil {
			rep.Outcome = OutcomeFixFailed
			rep.FixErr = err
			return rep
		}
		if err := s.fixer.Fix(ctx, prompt); err != nil {
			s.log.Errorf("Error: %v", err)
			s.log.Warnf("Fix request failed, continuing with current results")
			rep.Outcome = OutcomeFixFailed
			rep.FixErr = err
			return rep
		}
		rep.Fixes++
		s.log.Infof("Fix completed, re-running checks...")
	}
}
