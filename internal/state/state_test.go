package state

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/throw-if-null/vibe/internal/logging"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	return New(filepath.Join(root, ".vibe", "state.json"), nil), root
}

func TestCompleted_MissingFile(t *testing.T) {
	s, root := newTestStore(t)
	if got := s.Completed(root); len(got) != 0 {
		t.Fatalf("expected empty, got %v", got)
	}
}

func TestMarkComplete_RoundTrip(t *testing.T) {
	s, root := newTestStore(t)
	dir := filepath.Join(root, "prompts")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	for _, name := range []string{"a.txt", "b.md", "a.txt"} {
		if err := s.MarkComplete(dir, name); err != nil {
			t.Fatalf("mark %s: %v", name, err)
		}
	}

	got := s.Completed(dir)
	if strings.Join(got, ",") != "a.txt,b.md" {
		t.Fatalf("unexpected completed list: %v", got)
	}

	// a fresh store over the same file sees the same data
	again := New(s.Path(), nil).Completed(dir)
	if strings.Join(again, ",") != "a.txt,b.md" {
		t.Fatalf("state did not persist: %v", again)
	}
}

func TestMarkComplete_DocumentFormat(t *testing.T) {
	s, root := newTestStore(t)
	if err := s.MarkComplete(root, "x.txt"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	b, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	key, _ := Key(root)
	var doc map[string][]string
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("document is not a JSON object of lists: %v", err)
	}
	if len(doc[key]) != 1 || doc[key][0] != "x.txt" {
		t.Fatalf("unexpected document: %s", b)
	}
	if !filepath.IsAbs(key) {
		t.Fatalf("expected absolute key, got %q", key)
	}
	if !bytes.Contains(b, []byte("\n  \"")) {
		t.Fatalf("expected two-space indentation: %s", b)
	}
	entries, _ := os.ReadDir(filepath.Dir(s.Path()))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestMarkComplete_KeepsOtherDirectories(t *testing.T) {
	s, root := newTestStore(t)
	other := t.TempDir()
	if err := s.MarkComplete(other, "keep.md"); err != nil {
		t.Fatalf("mark other: %v", err)
	}
	if err := s.MarkComplete(root, "new.txt"); err != nil {
		t.Fatalf("mark root: %v", err)
	}
	if got := s.Completed(other); len(got) != 1 || got[0] != "keep.md" {
		t.Fatalf("other directory entry lost: %v", got)
	}
	if len(s.Snapshot()) != 2 {
		t.Fatalf("expected two directories, got %v", s.Snapshot())
	}
}

func TestCompleted_RelativeAndAbsoluteAgree(t *testing.T) {
	s, root := newTestStore(t)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(wd) }()

	if err := os.Mkdir("prompts", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := s.MarkComplete("prompts", "one.txt"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if got := s.Completed(filepath.Join(root, "prompts")); len(got) != 1 {
		t.Fatalf("absolute lookup missed relative write: %v", got)
	}
}

func TestCompleted_CorruptDocuments(t *testing.T) {
	cases := map[string]string{
		"invalid json": "{not json",
		"list":         `["a.txt"]`,
		"null":         "null",
		"wrong entry":  "",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			var warn bytes.Buffer
			root := t.TempDir()
			path := filepath.Join(root, "state.json")
			if content == "" {
				key, _ := Key(root)
				b, _ := json.Marshal(map[string]any{key: 42})
				content = string(b)
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			s := New(path, logging.New(&warn, &warn, logging.LevelDebug))

			if got := s.Completed(root); len(got) != 0 {
				t.Fatalf("expected empty, got %v", got)
			}
			if !strings.Contains(warn.String(), "WARNING") {
				t.Fatalf("expected a warning, got %q", warn.String())
			}
			// writing recovers the document
			if err := s.MarkComplete(root, "a.txt"); err != nil {
				t.Fatalf("mark: %v", err)
			}
			if got := s.Completed(root); len(got) != 1 || got[0] != "a.txt" {
				t.Fatalf("expected recovery, got %v", got)
			}
		})
	}
}

func TestCompleted_SkipsNonStringNames(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "state.json")
	key, err := Key(root)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	b, _ := json.Marshal(map[string]any{key: []any{"a.txt", 5, nil, "b.md"}})
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := New(path, nil)

	if got := s.Completed(root); strings.Join(got, ",") != "a.txt,b.md" {
		t.Fatalf("expected valid names to survive, got %v", got)
	}
	if err := s.MarkComplete(root, "c.txt"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if got := s.Completed(root); strings.Join(got, ",") != "a.txt,b.md,c.txt" {
		t.Fatalf("expected existing names kept on write, got %v", got)
	}
}

func TestMarkComplete_UnwritableLocation(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s := New(filepath.Join(blocker, "state.json"), nil)
	if err := s.MarkComplete(root, "a.txt"); err == nil {
		t.Fatalf("expected write error")
	}
}
