package grounding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planward/internal/index"
	"planward/internal/plan"
)

func groundedPlan() plan.Plan {
	return plan.Plan{
		PlanID:    "PLAN-GR000001",
		Version:   "1.1",
		CreatedAt: "2026-01-01T00:00:00Z",
		Objective: plan.Objective{
			Description:   "touch real files",
			AffectedFiles: []string{"real.go"},
		},
		Steps: []plan.Step{
			{ID: "S01", Action: plan.ActionReadFile, Target: "real.go"},
		},
		Evidence: &plan.Evidence{AnalyzedPaths: []string{"real.go"}},
	}
}

func TestCheckPassesWhenPathsExist(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.go"), []byte("package x\n"), 0o644))

	checker := NewChecker(root, index.State{})
	assert.Empty(t, checker.Check(groundedPlan()))
}

func TestCheckFlagsHallucinatedReferences(t *testing.T) {
	checker := NewChecker(t.TempDir(), index.State{})
	refs := checker.Check(groundedPlan())

	require.Len(t, refs, 3)
	assert.Contains(t, refs, "affected_files: real.go")
	assert.Contains(t, refs, "step S01: real.go")
	assert.Contains(t, refs, "evidence: real.go")
}

func TestCheckAcceptsIndexedPathsNotOnDisk(t *testing.T) {
	state := index.State{IndexedFiles: []string{"real.go"}}
	checker := NewChecker(t.TempDir(), state)
	assert.Empty(t, checker.Check(groundedPlan()))
}

func TestCheckExemptsWriteTargets(t *testing.T) {
	p := groundedPlan()
	p.Objective.AffectedFiles = nil
	p.Evidence = nil
	p.Steps = []plan.Step{
		{ID: "S01", Action: plan.ActionWriteFile, Target: "brand_new.go", HITLRequired: true},
	}
	checker := NewChecker(t.TempDir(), index.State{})
	assert.Empty(t, checker.Check(p))
}

func TestCheckExemptsDotTarget(t *testing.T) {
	p := groundedPlan()
	p.Objective.AffectedFiles = nil
	p.Evidence = nil
	p.Steps = []plan.Step{{ID: "S01", Action: plan.ActionReadFile, Target: "."}}

	checker := NewChecker(t.TempDir(), index.State{})
	assert.Empty(t, checker.Check(p))
}

func TestExists(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "here.go"), []byte("package x\n"), 0o644))

	checker := NewChecker(root, index.State{})
	assert.True(t, checker.Exists("here.go"))
	assert.False(t, checker.Exists("gone.go"))
	assert.True(t, checker.Exists("."))
}
