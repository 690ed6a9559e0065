package actions

import (
	"context"
	"fmt"
	"sync"
)

// MockHandler records every executed step and completes them all, including
// mutating ones. Tests drive the orchestrator with it.
type MockHandler struct {
	mu       sync.Mutex
	Executed []Request
	// FailStep, when set, fails that step id.
	FailStep string
}

func (m *MockHandler) Name() string { return "mock" }

// Execute records the request and reports completion, or failure for FailStep.
func (m *MockHandler) Execute(ctx context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	m.Executed = append(m.Executed, req)
	m.mu.Unlock()

	result := &Result{StepID: req.Step.ID, Action: string(req.Step.Action)}
	if m.FailStep != "" && req.Step.ID == m.FailStep {
		result.Status = StatusFailed
		return result, fmt.Errorf("step %s: simulated failure", req.Step.ID)
	}
	result.Status = StatusCompleted
	result.Applied = true
	result.Output = fmt.Sprintf("mock %s on %s", req.Step.Action, req.Step.Target)
	return result, nil
}

// ExecutedIDs lists executed step ids in order.
func (m *MockHandler) ExecutedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.Executed))
	for i, req := range m.Executed {
		ids[i] = req.Step.ID
	}
	return ids
}
