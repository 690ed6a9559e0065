// Package grounding verifies that every filesystem path a plan references
// corresponds to a real artifact: the anti-hallucination gate.
package grounding

import (
	"fmt"
	"os"
	"path/filepath"

	"planward/internal/index"
	"planward/internal/plan"
)

// Checker resolves plan references against the working tree and the file index.
type Checker struct {
	root  string
	known map[string]struct{}
}

// NewChecker builds a checker rooted at the project directory. The index may be
// empty; the on-disk check still applies.
func NewChecker(root string, state index.State) *Checker {
	return &Checker{root: root, known: state.Known()}
}

// Check returns every hallucinated reference in the plan: affected files,
// read/delete step targets, and evidence analyzed paths that neither exist on
// disk nor appear in the index. write_file targets are exempt because they may
// not exist yet. An empty result means the plan is semantically grounded.
func (c *Checker) Check(p plan.Plan) []string {
	var hallucinated []string

	for _, path := range p.Objective.AffectedFiles {
		if c.unknown(path) {
			hallucinated = append(hallucinated, fmt.Sprintf("affected_files: %s", path))
		}
	}

	for _, step := range p.Steps {
		switch step.Action {
		case plan.ActionReadFile, plan.ActionDeleteFile:
			if c.unknown(step.Target) {
				hallucinated = append(hallucinated, fmt.Sprintf("step %s: %s", step.ID, step.Target))
			}
		}
	}

	if p.Evidence != nil {
		for _, path := range p.Evidence.AnalyzedPaths {
			if c.unknown(path) {
				hallucinated = append(hallucinated, fmt.Sprintf("evidence: %s", path))
			}
		}
	}

	return hallucinated
}

// Exists reports whether a single path is known on disk or in the index.
func (c *Checker) Exists(path string) bool {
	return !c.unknown(path)
}

func (c *Checker) unknown(path string) bool {
	normalized := index.Normalize(path)
	if normalized == "" || normalized == "." {
		return false
	}
	if _, ok := c.known[normalized]; ok {
		return false
	}
	if _, err := os.Stat(filepath.Join(c.root, filepath.FromSlash(normalized))); err == nil {
		return false
	}
	// Absolute or workdir-relative paths passed verbatim.
	if _, err := os.Stat(path); err == nil {
		return false
	}
	return true
}
