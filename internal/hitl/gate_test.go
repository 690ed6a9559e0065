package hitl

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planward/internal/plan"
)

func testGate(t *testing.T, ttl time.Duration) *Gate {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "approvals.json"))
	return NewGate(store, ttl)
}

func gatedPlan() plan.Plan {
	return plan.Plan{
		PlanID:    "PLAN-GATE0001",
		Version:   "1.1",
		CreatedAt: "2026-01-01T00:00:00Z",
		Objective: plan.Objective{Description: "apply a change"},
		Steps: []plan.Step{
			{ID: "S01", Action: plan.ActionReadFile, Target: "."},
			{ID: "S02", Action: plan.ActionWriteFile, Target: "out.go", HITLRequired: true},
			{ID: "S03", Action: plan.ActionRunCommand, Target: "make test", HITLRequired: true},
		},
	}
}

func TestGateableStepsSelectsMutatingAndFlagged(t *testing.T) {
	steps := GateableSteps(gatedPlan())
	require.Len(t, steps, 2)
	assert.Equal(t, "S02", steps[0].ID)
	assert.Equal(t, "S03", steps[1].ID)
}

func TestCheckApprovalDefaultsPending(t *testing.T) {
	g := testGate(t, 0)
	ok, err := g.CheckApproval("PLAN-GATE0001", "S02")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordAndCheckApproval(t *testing.T) {
	g := testGate(t, 0)
	require.NoError(t, g.RecordApproval("PLAN-GATE0001", "S02", "alice"))

	ok, err := g.CheckApproval("PLAN-GATE0001", "S02")
	require.NoError(t, err)
	assert.True(t, ok)

	d, found, err := g.Decision("PLAN-GATE0001", "S02")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", d.ApprovedBy)
}

func TestApprovalExpiresAfterTTL(t *testing.T) {
	g := testGate(t, 24*time.Hour)
	require.NoError(t, g.RecordApproval("PLAN-GATE0001", "S02", "alice"))

	// 25 hours later the approval must read as pending again.
	g.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	ok, err := g.CheckApproval("PLAN-GATE0001", "S02")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApprovalValidJustInsideTTL(t *testing.T) {
	g := testGate(t, 24*time.Hour)
	require.NoError(t, g.RecordApproval("PLAN-GATE0001", "S02", "alice"))

	g.now = func() time.Time { return time.Now().Add(23 * time.Hour) }
	ok, err := g.CheckApproval("PLAN-GATE0001", "S02")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRejectionIsNotApproval(t *testing.T) {
	g := testGate(t, 0)
	require.NoError(t, g.RecordRejection("PLAN-GATE0001", "S02", "bob", "too risky"))

	ok, err := g.CheckApproval("PLAN-GATE0001", "S02")
	require.NoError(t, err)
	assert.False(t, ok)

	d, found, err := g.Decision("PLAN-GATE0001", "S02")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "too risky", d.Reason)
}

func TestCheckAllSplitsApprovedAndPending(t *testing.T) {
	g := testGate(t, 0)
	p := gatedPlan()
	require.NoError(t, g.RecordApproval(p.PlanID, "S02", "alice"))

	approved, pending, err := g.CheckAll(p)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	require.Len(t, pending, 1)
	assert.Equal(t, "S02", approved[0].ID)
	assert.Equal(t, "S03", pending[0].ID)
}

func TestCheckAllPassesWithNoGateableSteps(t *testing.T) {
	g := testGate(t, 0)
	p := gatedPlan()
	p.Steps = p.Steps[:1]

	approved, pending, err := g.CheckAll(p)
	require.NoError(t, err)
	assert.Empty(t, approved)
	assert.Empty(t, pending)
}

func TestRunInteractiveApprovesAll(t *testing.T) {
	g := testGate(t, 0)
	p := gatedPlan()
	var out strings.Builder

	ok, err := g.RunInteractive(p, InteractiveOptions{
		In:    strings.NewReader("y\ny\n"),
		Out:   &out,
		Actor: "alice",
	})
	require.NoError(t, err)
	assert.True(t, ok)

	_, pending, err := g.CheckAll(p)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunInteractiveStopsOnRejection(t *testing.T) {
	g := testGate(t, 0)
	p := gatedPlan()
	var out strings.Builder

	ok, err := g.RunInteractive(p, InteractiveOptions{
		In:    strings.NewReader("n\nnot convinced\n"),
		Out:   &out,
		Actor: "bob",
	})
	require.NoError(t, err)
	assert.False(t, ok)

	d, found, err := g.Decision(p.PlanID, "S02")
	require.NoError(t, err)
	require.True(t, found)
	assert.False(t, d.Approved)
	assert.Equal(t, "not convinced", d.Reason)
}

func TestStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")
	require.NoError(t, NewStore(path).Put("PLAN-GATE0001", "S02", Decision{
		Approved:   true,
		ApprovedAt: time.Now().UTC().Format(time.RFC3339),
		ApprovedBy: "alice",
	}))

	d, found, err := NewStore(path).Get("PLAN-GATE0001", "S02")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, d.Approved)
}
