package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planward/internal/actions"
	"planward/internal/audit"
	"planward/internal/evidence"
	"planward/internal/hitl"
	"planward/internal/plan"
)

type fixture struct {
	orch    *Orchestrator
	gate    *hitl.Gate
	trail   *audit.Trail
	handler *actions.MockHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	gate := hitl.NewGate(hitl.NewStore(filepath.Join(dir, "approvals.json")), 24*time.Hour)
	trail := audit.NewTrail(filepath.Join(dir, "audit_trail.jsonl"), "test-key")
	handler := &actions.MockHandler{}

	orch := New(Options{
		Root:           dir,
		Gate:           gate,
		Trail:          trail,
		Handler:        handler,
		Collector:      evidence.NewCollector(dir, nil),
		EvidenceDir:    filepath.Join(dir, "evidence"),
		Actor:          "tester",
		SkipDirtyCheck: true,
	})
	return &fixture{orch: orch, gate: gate, trail: trail, handler: handler}
}

func pipelinePlan() plan.Plan {
	return plan.Plan{
		PlanID:    "PLAN-ORCH0001",
		Version:   "1.1",
		CreatedAt: "2026-01-01T00:00:00Z",
		Objective: plan.Objective{Description: "apply a gated change"},
		Steps: []plan.Step{
			{ID: "S01", Action: plan.ActionReadFile, Target: "."},
			{ID: "S02", Action: plan.ActionWriteFile, Target: "out.go",
				HITLRequired: true, DependsOn: []string{"S01"}},
			{ID: "S03", Action: plan.ActionLintCheck, Target: ".", DependsOn: []string{"S02"}},
		},
	}
}

func eventTypes(t *testing.T, trail *audit.Trail) []string {
	t.Helper()
	entries, err := trail.Entries()
	require.NoError(t, err)
	types := make([]string, len(entries))
	for i, e := range entries {
		types[i] = e.EventType
	}
	return types
}

func TestRunCompletesApprovedPlan(t *testing.T) {
	f := newFixture(t)
	p := pipelinePlan()
	require.NoError(t, f.gate.RecordApproval(p.PlanID, "S02", "alice"))

	outcome, err := f.orch.Run(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, outcome.Completed)
	assert.Equal(t, []string{"S01", "S02", "S03"}, f.handler.ExecutedIDs())
	require.NotNil(t, outcome.Evidence)
	assert.True(t, outcome.Evidence.AllPassed)
	assert.NotEmpty(t, outcome.EvidencePath)

	types := eventTypes(t, f.trail)
	assert.Contains(t, types, "phase_started")
	assert.Contains(t, types, "phase_completed")
	assert.Contains(t, types, "step_executed")
	assert.NotContains(t, types, "phase_halted")
}

func TestRunHaltsInGateOnPendingApproval(t *testing.T) {
	f := newFixture(t)
	p := pipelinePlan()

	outcome, err := f.orch.Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHalted))
	assert.Equal(t, PhaseGate, outcome.HaltedPhase)
	assert.Contains(t, outcome.HaltReason, "S02")

	// Nothing executed past the gate.
	assert.Empty(t, f.handler.ExecutedIDs())
	assert.Contains(t, eventTypes(t, f.trail), "phase_halted")
}

func TestRunHaltsInPreFlightOnInvalidPlan(t *testing.T) {
	f := newFixture(t)
	p := pipelinePlan()
	p.Steps[1].HITLRequired = false

	outcome, err := f.orch.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, PhasePreFlight, outcome.HaltedPhase)
	assert.Contains(t, outcome.HaltReason, "hitl_required")
}

func TestRunHaltsInExecuteOnStepFailure(t *testing.T) {
	f := newFixture(t)
	f.handler.FailStep = "S03"
	p := pipelinePlan()
	require.NoError(t, f.gate.RecordApproval(p.PlanID, "S02", "alice"))

	outcome, err := f.orch.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, PhaseExecute, outcome.HaltedPhase)
	assert.Contains(t, outcome.HaltReason, "S03")
}

type emptyResultHandler struct{}

func (emptyResultHandler) Name() string { return "empty" }

func (emptyResultHandler) Execute(context.Context, actions.Request) (*actions.Result, error) {
	return nil, nil
}

func TestRunHaltsWhenHandlerReturnsNoResult(t *testing.T) {
	dir := t.TempDir()
	gate := hitl.NewGate(hitl.NewStore(filepath.Join(dir, "approvals.json")), 24*time.Hour)
	orch := New(Options{
		Root:           dir,
		Gate:           gate,
		Trail:          audit.NewTrail(filepath.Join(dir, "audit_trail.jsonl"), "test-key"),
		Handler:        emptyResultHandler{},
		Collector:      evidence.NewCollector(dir, nil),
		Actor:          "tester",
		SkipDirtyCheck: true,
	})
	p := pipelinePlan()
	require.NoError(t, gate.RecordApproval(p.PlanID, "S02", "alice"))

	outcome, err := orch.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, PhaseExecute, outcome.HaltedPhase)
	assert.Contains(t, outcome.HaltReason, "no result")
	assert.Empty(t, outcome.StepResults)
}

func TestRunAuditsExpiredApproval(t *testing.T) {
	f := newFixture(t)
	p := pipelinePlan()

	// Backdate the approval past the 24h window.
	store := hitl.NewStore(filepath.Join(f.orch.opts.Root, "approvals.json"))
	require.NoError(t, store.Put(p.PlanID, "S02", hitl.Decision{
		Approved:   true,
		ApprovedAt: time.Now().Add(-25 * time.Hour).UTC().Format(time.RFC3339),
		ApprovedBy: "alice",
	}))

	outcome, err := f.orch.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, PhaseGate, outcome.HaltedPhase)
	assert.Contains(t, eventTypes(t, f.trail), "approval_expired")
}

func TestRunHaltsInEvidenceOnFailedVerification(t *testing.T) {
	f := newFixture(t)
	p := pipelinePlan()
	p.Verification = &plan.Verification{Method: "automated", Commands: []string{"false"}}
	require.NoError(t, f.gate.RecordApproval(p.PlanID, "S02", "alice"))

	outcome, err := f.orch.Run(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, PhaseEvidence, outcome.HaltedPhase)
	require.NotNil(t, outcome.Evidence)
	assert.False(t, outcome.Evidence.AllPassed)
}

func TestRunHaltsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	p := pipelinePlan()
	require.NoError(t, f.gate.RecordApproval(p.PlanID, "S02", "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := f.orch.Run(ctx, p)
	require.Error(t, err)
	assert.NotEmpty(t, outcome.HaltedPhase)
	assert.Contains(t, eventTypes(t, f.trail), "phase_halted")
}
