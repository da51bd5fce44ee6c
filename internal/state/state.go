// Package state persists which prompt files of a directory have completed,
// so an interrupted batch run can resume where it stopped.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/throw-if-null/vibe/internal/logging"
	"github.com/throw-if-null/vibe/internal/paths"
)

// Store reads and writes one JSON document mapping absolute directory paths
// to the filenames completed in them. Every write replaces the file
// atomically, so a crash leaves either the old or the new document.
type Store struct {
	path string
	log  *logging.Logger
}

func New(path string, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Discard()
	}
	return &Store{path: path, log: log}
}

func (s *Store) Path() string { return s.path }

// Key is the canonical document key for dir.
func Key(dir string) (string, error) {
	return paths.ResolveDir(dir)
}

// Completed returns the filenames recorded for dir, in completion order.
// Any problem reading the document yields an empty result.
func (s *Store) Completed(dir string) []string {
	key, err := Key(dir)
	if err != nil {
		s.log.Warnf("Failed to resolve %s: %v. Starting fresh.", dir, err)
		return nil
	}
	doc := s.read()
	names, err := decodeNames(doc[key])
	if err != nil {
		s.log.Warnf("Ignoring malformed state entry for %s: %v", key, err)
		return nil
	}
	return names
}

// Snapshot returns every well-formed entry in the document.
func (s *Store) Snapshot() map[string][]string {
	out := map[string][]string{}
	for k, raw := range s.read() {
		names, err := decodeNames(raw)
		if err != nil {
			continue
		}
		out[k] = names
	}
	return out
}

// MarkComplete records filename under dir and writes the document
// immediately. Recording an already present name is a no-op write.
func (s *Store) MarkComplete(dir, filename string) error {
	key, err := Key(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}

	doc := s.read()
	names, err := decodeNames(doc[key])
	if err != nil {
		s.log.Warnf("Replacing malformed state entry for %s: %v", key, err)
		names = nil
	}
	if !contains(names, filename) {
		names = append(names, filename)
	}
	enc, err := json.Marshal(names)
	if err != nil {
		return err
	}
	doc[key] = enc

	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return atomicWrite(s.path, content)
}

// read loads the raw document. A missing, unreadable, or non-object file is
// treated as empty.
func (s *Store) read() map[string]json.RawMessage {
	doc := map[string]json.RawMessage{}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warnf("Failed to load state file: %v. Starting fresh.", err)
		}
		return doc
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		s.log.Warnf("Failed to load state file: %v. Starting fresh.", err)
		return map[string]json.RawMessage{}
	}
	if doc == nil {
		s.log.Warnf("State file %s is not a JSON object. Starting fresh.", s.path)
		return map[string]json.RawMessage{}
	}
	return doc
}

// decodeNames decodes one directory entry. The entry must be a list; elements
// that are not strings are skipped so the valid names survive.
func decodeNames(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	var names []string
	for _, item := range items {
		if name, ok := item.(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
