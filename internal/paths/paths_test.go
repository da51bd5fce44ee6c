package paths_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/throw-if-null/vibe/internal/paths"
)

func TestFindProjectRootWalksUp(t *testing.T) {
	td := t.TempDir()
	root, err := filepath.EvalSymlinks(td)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got, err := paths.FindProjectRoot(nested)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != root {
		t.Fatalf("expected %s, got %s", root, got)
	}
}

func TestFindProjectRootOutsideRepository(t *testing.T) {
	td := t.TempDir()
	_, err := paths.FindProjectRoot(td)
	if err == nil {
		t.Skip("temp dir lives inside a git checkout")
	}
	if !errors.Is(err, paths.ErrNotInRepository) {
		t.Fatalf("expected ErrNotInRepository, got %v", err)
	}
	if got := paths.ProjectRoot(td); got == "" {
		t.Fatalf("expected fallback root")
	}
}

func TestResolveDirFollowsSymlinks(t *testing.T) {
	td := t.TempDir()
	real := filepath.Join(td, "prompts")
	if err := os.Mkdir(real, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	link := filepath.Join(td, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}

	a, err := paths.ResolveDir(real)
	if err != nil {
		t.Fatalf("resolve real: %v", err)
	}
	b, err := paths.ResolveDir(link + string(filepath.Separator))
	if err != nil {
		t.Fatalf("resolve link: %v", err)
	}
	if a != b {
		t.Fatalf("expected same key, got %q and %q", a, b)
	}
	if !filepath.IsAbs(a) {
		t.Fatalf("expected absolute key, got %q", a)
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()
	if _, err := paths.SafeJoin(root, filepath.Join(".vibe", "vibe.yaml")); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bad := []string{"../x", filepath.Join("a", "..", "..", "x"), "/abs"}
	for _, rel := range bad {
		if _, err := paths.SafeJoin(root, rel); err == nil {
			t.Fatalf("expected error for %q", rel)
		}
	}
}

func TestLayout(t *testing.T) {
	root := "/repo"
	if got := paths.StatePath(root); got != filepath.Join(root, ".vibe", "state.json") {
		t.Fatalf("state path: %s", got)
	}
	if got := paths.VibeDir(root); got != filepath.Join(root, ".vibe") {
		t.Fatalf("vibe dir: %s", got)
	}
	if got := paths.JournalPath(root); got != filepath.Join(root, ".vibe", "history.db") {
		t.Fatalf("journal path: %s", got)
	}
}
