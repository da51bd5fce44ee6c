package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/throw-if-null/vibe/internal/assistant"
	"github.com/throw-if-null/vibe/internal/state"
	"github.com/throw-if-null/vibe/internal/telemetry"
)

// PromptExtensions are the file extensions treated as prompt files.
var PromptExtensions = []string{".txt", ".md"}

// Summary describes what a directory run did.
type Summary struct {
	Directory  string
	Discovered []string
	Skipped    []string
	Completed  []string
	// Failed is the file the run stopped on, if any.
	Failed string
}

// Discover lists prompt files directly inside dir, sorted by name. Entries
// that are not regular files (after following symlinks) are ignored.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !isPromptName(e.Name()) {
			continue
		}
		fi, err := os.Stat(filepath.Join(dir, e.Name()))
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func isPromptName(name string) bool {
	ext := filepath.Ext(name)
	for _, want := range PromptExtensions {
		if ext == want {
			return true
		}
	}
	return false
}

// Stopped reports whether err is a fail-stop of a directory run: a file whose
// checks never passed or whose assistant call failed. The directory is left
// resumable and the run itself is not an error.
func Stopped(err error) bool {
	var ae *assistant.Error
	return errors.Is(err, ErrChecksFailed) || errors.As(err, &ae)
}

const banner = "============================================================"

// RunDirectory processes every not-yet-completed prompt file in dir in name
// order, marking each complete as soon as it succeeds. It stops at the first
// file that fails and returns that failure wrapped with the file name;
// rerunning resumes from there. Use Stopped to tell a fail-stop from a fatal
// error.
func (r *Runner) RunDirectory(ctx context.Context, dir string) (Summary, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "vibe.directory")
	defer span.End()

	sum := Summary{Directory: dir}
	if key, err := state.Key(dir); err == nil {
		sum.Directory = key
	}
	span.SetAttributes(attribute.String("directory", sum.Directory))

	files, err := Discover(dir)
	if err != nil {
		return sum, fmt.Errorf("list prompt files: %w", err)
	}
	sum.Discovered = files
	if len(files) == 0 {
		r.log.Warnf("No .txt or .md files found in directory: %s", dir)
		return sum, nil
	}
	r.log.Infof("Found %d prompt file(s) in directory", len(files))

	done := map[string]bool{}
	for _, name := range r.state.Completed(dir) {
		done[name] = true
	}
	var remaining []string
	for _, name := range files {
		if done[name] {
			sum.Skipped = append(sum.Skipped, name)
			continue
		}
		remaining = append(remaining, name)
	}
	if len(sum.Skipped) > 0 {
		r.log.Infof("Skipping %d already completed file(s)", len(sum.Skipped))
	}
	if len(remaining) == 0 {
		r.log.Infof("All prompt files in this directory have been completed.")
		return sum, nil
	}
	r.log.Infof("Processing %d remaining file(s)", len(remaining))

	cfg, err := r.loadConfig()
	if err != nil {
		return sum, err
	}

	for _, name := range remaining {
		r.log.Infof("\n%s", banner)
		r.log.Infof("Processing: %s", name)
		r.log.Infof("%s", banner)

		err := ctx.Err()
		if err == nil {
			err = r.process(ctx, filepath.Join(dir, name), sum.Directory, cfg)
		}
		if err != nil {
			sum.Failed = name
			if errors.Is(err, ErrChecksFailed) {
				r.log.Errorf("✗ Failed: %s (checks did not pass)", name)
			} else {
				r.log.Errorf("✗ Failed: %s", name)
				r.log.Errorf("Error: %v", err)
			}
			r.log.Warnf("Stopping directory processing. Fix issues and restart to continue.")
			span.SetAttributes(attribute.String("directory.failed", name))
			return sum, fmt.Errorf("%s: %w", name, err)
		}

		if err := r.state.MarkComplete(dir, name); err != nil {
			r.log.Errorf("Failed to save state file: %v", err)
		}
		sum.Completed = append(sum.Completed, name)
		r.log.Successf("✓ Completed: %s", name)
	}

	r.log.Infof("\n%s", banner)
	r.log.Successf("All prompt files processed successfully!")
	r.log.Infof("%s", banner)
	return sum, nil
}
