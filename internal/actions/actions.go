// Package actions executes individual plan steps through a pluggable handler.
package actions

import (
	"context"

	"planward/internal/plan"
)

// Request carries one step to a handler together with the workspace root.
type Request struct {
	Plan plan.Plan
	Step plan.Step
	Root string
}

// Result is the outcome of executing one step.
type Result struct {
	StepID  string `json:"step_id"`
	Action  string `json:"action"`
	Status  string `json:"status"`
	Output  string `json:"output,omitempty"`
	Applied bool   `json:"applied"`
}

// Statuses a handler may report.
const (
	StatusCompleted = "completed"
	StatusReviewed  = "reviewed"
	StatusFailed    = "failed"
)

// Handler executes plan steps. Implementations decide which actions they
// actually apply versus record for review. Execute must return a non-nil
// Result whenever it returns a nil error.
type Handler interface {
	Name() string
	Execute(ctx context.Context, req Request) (*Result, error)
}
