// Package index maintains the persisted file index used for semantic grounding.
package index

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// State is the persisted index of known project files.
type State struct {
	LastIndexed  string   `json:"last_indexed"`
	Workspace    string   `json:"workspace"`
	FilesIndexed int      `json:"files_indexed"`
	Status       string   `json:"status"`
	IndexedFiles []string `json:"indexed_files"`
}

var excludedDirs = map[string]bool{
	".git":         true,
	".planward":    true,
	"__pycache__":  true,
	"node_modules": true,
	".venv":        true,
	"venv":         true,
	"vendor":       true,
}

// Build walks root and returns a fresh index state. Paths are stored
// slash-separated and relative to root.
func Build(root string) (State, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if excludedDirs[d.Name()] && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return State{}, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)

	return State{
		LastIndexed:  time.Now().UTC().Format(time.RFC3339),
		Workspace:    root,
		FilesIndexed: len(files),
		Status:       "indexed",
		IndexedFiles: files,
	}, nil
}

// Load reads a persisted index state. A missing file yields an empty
// "not_indexed" state rather than an error.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return State{Status: "not_indexed"}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read index state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("parse index state: %w", err)
	}
	return s, nil
}

// Save persists the index state.
func Save(s State, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure index dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index state: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write index state: %w", err)
	}
	return nil
}

// Known returns the indexed paths as a lookup set.
func (s State) Known() map[string]struct{} {
	known := make(map[string]struct{}, len(s.IndexedFiles))
	for _, f := range s.IndexedFiles {
		known[Normalize(f)] = struct{}{}
	}
	return known
}

// Normalize canonicalizes a path for index comparison: forward slashes, no
// leading "./".
func Normalize(path string) string {
	p := strings.ReplaceAll(path, `\`, "/")
	p = strings.TrimPrefix(p, "./")
	return p
}
