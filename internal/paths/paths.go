package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirName is the per-project directory holding configuration and run state.
const DirName = ".vibe"

var (
	// ErrNotInRepository is returned when no ancestor contains a .git entry.
	ErrNotInRepository = errors.New("not inside a git repository")
)

// FindProjectRoot walks up from start looking for a directory containing .git.
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s: %w", start, ErrNotInRepository)
		}
		dir = parent
	}
}

// ProjectRoot is FindProjectRoot with a fallback to start itself.
func ProjectRoot(start string) string {
	if root, err := FindProjectRoot(start); err == nil {
		return root
	}
	if abs, err := filepath.Abs(start); err == nil {
		return abs
	}
	return start
}

// VibeDir returns <root>/.vibe.
func VibeDir(root string) string { return filepath.Join(root, DirName) }

// StatePath returns the batch state document location.
func StatePath(root string) string { return filepath.Join(VibeDir(root), "state.json") }

// JournalPath returns the run history database location.
func JournalPath(root string) string { return filepath.Join(VibeDir(root), "history.db") }

// EnvPath returns the dotenv file read by settings.
func EnvPath(root string) string { return filepath.Join(root, ".env") }

// ResolveDir returns the canonical absolute form of dir, with symlinks
// evaluated when the directory exists. It is the key used for batch state.
func ResolveDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	return filepath.Clean(abs), nil
}

// SafeJoin joins root with rel and ensures the resulting path is inside root.
func SafeJoin(root, rel string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("empty root")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("relative path expected, got absolute: %s", rel)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(filepath.Join(root, rel))
	if err != nil {
		return "", err
	}
	relToRoot, err := filepath.Rel(absRoot, absJoined)
	if err != nil {
		return "", err
	}
	if relToRoot == ".." || strings.HasPrefix(filepath.ToSlash(relToRoot), "../") {
		return "", fmt.Errorf("path escapes root: %s", rel)
	}
	return absJoined, nil
}
