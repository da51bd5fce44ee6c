package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/throw-if-null/vibe/internal/assistant"
	"github.com/throw-if-null/vibe/internal/checks"
	"github.com/throw-if-null/vibe/internal/journal"
	"github.com/throw-if-null/vibe/internal/logging"
	"github.com/throw-if-null/vibe/internal/paths"
	"github.com/throw-if-null/vibe/internal/proc"
	"github.com/throw-if-null/vibe/internal/runner"
	"github.com/throw-if-null/vibe/internal/settings"
	"github.com/throw-if-null/vibe/internal/state"
	"github.com/throw-if-null/vibe/internal/telemetry"
	"github.com/throw-if-null/vibe/internal/version"
)

// replaced in tests
var telemetryInit = telemetry.Init

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		var r reported
		if !errors.As(err, &r) {
			logging.Default().Errorf("%v", err)
		}
		os.Exit(1)
	}
}

// reported marks an error that has already been shown to the user.
type reported struct{ error }

func (r reported) Unwrap() error { return r.error }

// env is what every subcommand needs: the project root, resolved settings
// and a logger.
type env struct {
	root     string
	settings settings.Settings
	log      *logging.Logger
	stdout   io.Writer
}

func loadEnv(rootFlag string, stdout, stderr io.Writer) (*env, error) {
	root := rootFlag
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root = paths.ProjectRoot(wd)
	}
	s, err := settings.Load(root)
	if err != nil {
		logging.New(stdout, stderr, logging.LevelInfo).Errorf("%v", err)
		return nil, reported{err}
	}
	return &env{root: root, settings: s, log: logging.New(stdout, stderr, s.Level()), stdout: stdout}, nil
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var rootDir, systemPromptFile string

	cmd := &cobra.Command{
		Use:   "vibe <path>",
		Short: "Feed prompt files to Claude Code and keep fixing until checks pass",
		Long: `vibe sends the prompt in a file to Claude Code, then runs the checks
configured in .vibe/vibe.yaml and asks Claude to fix any failures.

If <path> is a directory, every .txt and .md file in it is processed in
name order. Progress is saved in .vibe/state.json after each file, so a
failed run can be restarted and resumes at the first unfinished file.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(rootDir, stdout, stderr)
			if err != nil {
				return err
			}
			return runPath(cmd.Context(), e, args[0], systemPromptFile)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.PersistentFlags().StringVar(&rootDir, "root", "", "Project root (default: nearest directory containing .git, else the working directory)")
	cmd.Flags().StringVar(&systemPromptFile, "system-prompt-file", "", "File passed to Claude as --system-prompt-file")

	cmd.AddCommand(newSettingsCommand(&rootDir, stdout, stderr))
	cmd.AddCommand(newHistoryCommand(&rootDir, stdout, stderr))
	cmd.AddCommand(newVersionCommand(stdout))
	return cmd
}

func runPath(ctx context.Context, e *env, path, systemPromptFile string) error {
	fi, err := os.Stat(path)
	if err != nil {
		e.log.Errorf("Path does not exist: %s", path)
		return reported{err}
	}
	if !fi.IsDir() && !fi.Mode().IsRegular() {
		err := fmt.Errorf("path must be a file or directory: %s", path)
		e.log.Errorf("%v", err)
		return reported{err}
	}

	shutdown, err := telemetryInit(ctx, telemetry.Config{
		ServiceName:    e.settings.AppName,
		ServiceVersion: version.Version,
		Environment:    e.settings.Environment,
		OTLPEndpoint:   e.settings.OTLPEndpoint,
	})
	if err != nil {
		e.log.Warnf("Tracing disabled: %v", err)
	} else {
		defer func() { _ = shutdown(context.Background()) }()
	}

	var opts []runner.Option
	if j := openJournal(e); j != nil {
		defer j.Close()
		opts = append(opts, runner.WithJournal(j))
	}
	r := newRunner(e, systemPromptFile, opts...)

	if fi.IsDir() {
		if _, err := r.RunDirectory(ctx, path); err != nil {
			if runner.Stopped(err) {
				return nil
			}
			return reported{err}
		}
		return nil
	}
	if err := r.RunFile(ctx, path); err != nil {
		e.log.Errorf("Processing failed")
		return reported{err}
	}
	return nil
}

func newRunner(e *env, systemPromptFile string, opts ...runner.Option) *runner.Runner {
	exe := &proc.RealCommandRunner{}
	client := assistant.NewClient(assistant.Config{
		Command:      e.settings.AssistantCommand,
		AllowedTools: e.settings.AllowedTools,
		Dir:          e.root,
	}, exe)
	steps := checks.NewExecutor(checks.ExecutorConfig{
		Shell:   e.settings.CheckShell,
		Dir:     e.root,
		Timeout: e.settings.CheckTimeout,
	}, exe, e.log)
	st := state.New(paths.StatePath(e.root), e.log)
	opts = append([]runner.Option{runner.WithLogger(e.log)}, opts...)
	return runner.New(runner.Config{Root: e.root, SystemPromptFile: systemPromptFile}, client, steps, st, opts...)
}

// openJournal returns nil when history cannot be recorded; runs proceed
// without it.
func openJournal(e *env) *journal.Journal {
	j, err := journal.Open(paths.JournalPath(e.root))
	if err != nil {
		e.log.Warnf("Run history disabled: %v", err)
		return nil
	}
	if n, err := j.ReconcileInterrupted(); err != nil {
		e.log.Warnf("Run history reconcile failed: %v", err)
	} else if n > 0 {
		e.log.Warnf("Marked %d interrupted run(s) as failed", n)
	}
	return j
}

func newSettingsCommand(rootDir *string, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the resolved settings as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(*rootDir, stdout, stderr)
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(e.settings, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(stdout, string(b))
			return err
		},
	}
}

func newHistoryCommand(rootDir *string, stdout, stderr io.Writer) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent prompt runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(*rootDir, stdout, stderr)
			if err != nil {
				return err
			}
			j, err := journal.Open(paths.JournalPath(e.root))
			if err != nil {
				e.log.Errorf("Failed to open run history: %v", err)
				return reported{err}
			}
			defer j.Close()

			runs, err := j.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(stdout, "No runs recorded.")
				return nil
			}
			for _, r := range runs {
				line := fmt.Sprintf("%s  %-9s  %s  %s", r.StartedAt, r.Status, r.ID, r.PromptPath)
				if r.SessionID != "" {
					line += "  session=" + r.SessionID
				}
				if r.ErrorSummary != "" {
					line += "  error=" + r.ErrorSummary
				}
				fmt.Fprintln(stdout, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	return cmd
}

func newVersionCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "vibe %s (%s)\n", version.Version, version.Commit)
		},
	}
}
