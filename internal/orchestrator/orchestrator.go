// Package orchestrator drives the four-phase pipeline: pre-flight, gate,
// execute, evidence. Each phase is terminal on failure and every transition
// lands in the audit trail.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"planward/internal/actions"
	"planward/internal/audit"
	"planward/internal/dispatch"
	"planward/internal/evidence"
	"planward/internal/hitl"
	"planward/internal/plan"
)

// Phase names as recorded in the audit trail.
const (
	PhasePreFlight = "pre_flight"
	PhaseGate      = "gate"
	PhaseExecute   = "execute"
	PhaseEvidence  = "evidence"
)

// ErrHalted marks a pipeline stopped by a phase failure rather than an
// internal error.
var ErrHalted = errors.New("pipeline halted")

// Options wires the orchestrator's collaborators.
type Options struct {
	Root        string
	Gate        *hitl.Gate
	Trail       *audit.Trail
	Dispatcher  *dispatch.Dispatcher
	Handler     actions.Handler
	Collector   *evidence.Collector
	EvidenceDir string
	Logger      *zap.Logger
	Actor       string

	// SkipDirtyCheck is the operator override for an unclean working tree.
	SkipDirtyCheck bool
	// Interactive enables the in-terminal approval flow during the gate phase.
	Interactive bool
	In          io.Reader
	Out         io.Writer

	// LintCommand runs during pre-flight. Failures warn, they do not halt.
	LintCommand string
}

// Orchestrator runs one plan through the pipeline.
type Orchestrator struct {
	opts   Options
	logger *zap.Logger
}

// Outcome summarizes a pipeline run.
type Outcome struct {
	PlanID       string            `json:"plan_id"`
	Completed    bool              `json:"completed"`
	HaltedPhase  string            `json:"halted_phase,omitempty"`
	HaltReason   string            `json:"halt_reason,omitempty"`
	StepResults  []*actions.Result `json:"step_results,omitempty"`
	Evidence     *evidence.Report  `json:"evidence,omitempty"`
	EvidencePath string            `json:"evidence_path,omitempty"`
}

// New builds an Orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Actor == "" {
		opts.Actor = "system"
	}
	return &Orchestrator{opts: opts, logger: opts.Logger}
}

// Run executes all four phases in order. A phase failure halts the pipeline
// with an audited phase_halted entry; later phases never run.
func (o *Orchestrator) Run(ctx context.Context, p plan.Plan) (Outcome, error) {
	outcome := Outcome{PlanID: p.PlanID}

	phases := []struct {
		name string
		fn   func(context.Context, plan.Plan, *Outcome) error
	}{
		{PhasePreFlight, o.preFlight},
		{PhaseGate, o.gate},
		{PhaseExecute, o.execute},
		{PhaseEvidence, o.evidence},
	}

	for _, phase := range phases {
		if err := o.auditPhase("phase_started", phase.name, p.PlanID, ""); err != nil {
			return outcome, err
		}
		o.logger.Info("phase started",
			zap.String("phase", phase.name),
			zap.String("plan", p.PlanID))

		err := phase.fn(ctx, p, &outcome)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			outcome.HaltedPhase = phase.name
			outcome.HaltReason = err.Error()
			if auditErr := o.auditPhase("phase_halted", phase.name, p.PlanID, err.Error()); auditErr != nil {
				return outcome, auditErr
			}
			o.logger.Error("phase halted",
				zap.String("phase", phase.name),
				zap.String("plan", p.PlanID),
				zap.Error(err))
			return outcome, fmt.Errorf("%w: %s phase: %v", ErrHalted, phase.name, err)
		}

		if err := o.auditPhase("phase_completed", phase.name, p.PlanID, ""); err != nil {
			return outcome, err
		}
	}

	outcome.Completed = true
	return outcome, nil
}

// preFlight verifies a clean working tree, re-runs structural validation, and
// lints affected files. Lint failures warn only.
func (o *Orchestrator) preFlight(ctx context.Context, p plan.Plan, _ *Outcome) error {
	if !o.opts.SkipDirtyCheck {
		dirty, err := workingTreeDirty(ctx, o.opts.Root)
		if err != nil {
			o.logger.Warn("git status unavailable, skipping dirty check", zap.Error(err))
		} else if dirty {
			return fmt.Errorf("working tree has uncommitted changes (use the override to proceed)")
		}
	}

	if violations := plan.Validate(p); len(violations) > 0 {
		return fmt.Errorf("plan failed validation: %s", strings.Join(violations, "; "))
	}

	if o.opts.LintCommand != "" {
		if err := o.runLint(ctx); err != nil {
			o.logger.Warn("lint check failed", zap.Error(err))
		}
	}
	return nil
}

// gate runs every gateable step through the approval gate. Expired decisions
// are audited, then an interactive flow runs if enabled. Remaining pending
// steps halt the pipeline and fire HITL_TIMEOUT.
func (o *Orchestrator) gate(ctx context.Context, p plan.Plan, _ *Outcome) error {
	if err := o.auditExpirations(p); err != nil {
		return err
	}

	_, pending, err := o.opts.Gate.CheckAll(p)
	if err != nil {
		return err
	}

	if len(pending) > 0 && o.opts.Interactive && o.opts.In != nil && o.opts.Out != nil {
		approved, err := o.opts.Gate.RunInteractive(p, hitl.InteractiveOptions{
			In:    o.opts.In,
			Out:   o.opts.Out,
			Actor: o.opts.Actor,
		})
		if err != nil {
			return err
		}
		if !approved {
			return fmt.Errorf("approval flow rejected the plan")
		}
		_, pending, err = o.opts.Gate.CheckAll(p)
		if err != nil {
			return err
		}
	}

	if len(pending) > 0 {
		ids := make([]string, len(pending))
		for i, s := range pending {
			ids[i] = s.ID
		}
		if o.opts.Dispatcher != nil {
			o.opts.Dispatcher.EmitAsync(ctx, dispatch.EventHITLTimeout, p.PlanID, map[string]any{
				"plan_id":       p.PlanID,
				"pending_steps": ids,
			})
		}
		return fmt.Errorf("steps pending approval: %s", strings.Join(ids, ", "))
	}
	return nil
}

// execute walks steps in dependency order. Gateable steps re-confirm approval
// immediately before running; a lapse between gate and execute halts here.
func (o *Orchestrator) execute(ctx context.Context, p plan.Plan, outcome *Outcome) error {
	ordered, err := plan.TopologicalOrder(p)
	if err != nil {
		return err
	}

	for _, step := range ordered {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if step.HITLRequired || step.Action.Mutating() {
			ok, err := o.opts.Gate.CheckApproval(p.PlanID, step.ID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("step %s lost approval before execution", step.ID)
			}
		}

		result, err := o.opts.Handler.Execute(ctx, actions.Request{
			Plan: p,
			Step: step,
			Root: o.opts.Root,
		})
		if err == nil && result == nil {
			err = fmt.Errorf("handler %s returned no result", o.opts.Handler.Name())
		}
		if result != nil {
			outcome.StepResults = append(outcome.StepResults, result)
		}
		if err != nil {
			if o.opts.Dispatcher != nil {
				o.opts.Dispatcher.EmitAsync(ctx, dispatch.EventExecutionError, p.PlanID, map[string]any{
					"plan_id": p.PlanID,
					"step_id": step.ID,
					"error":   err.Error(),
				})
			}
			return fmt.Errorf("execute step %s: %w", step.ID, err)
		}

		if _, auditErr := o.opts.Trail.Append("step_executed", map[string]any{
			"plan_id": p.PlanID,
			"step_id": step.ID,
			"action":  string(step.Action),
			"status":  result.Status,
		}, o.opts.Actor, audit.SeverityInfo); auditErr != nil {
			return auditErr
		}
		o.logger.Info("step executed",
			zap.String("step", step.ID),
			zap.String("action", string(step.Action)),
			zap.String("status", result.Status))
	}
	return nil
}

// evidence re-runs the plan's verification commands and fires EVIDENCE_READY.
func (o *Orchestrator) evidence(ctx context.Context, p plan.Plan, outcome *Outcome) error {
	report, err := o.opts.Collector.Collect(ctx, p)
	if err != nil {
		return err
	}
	outcome.Evidence = &report

	if o.opts.EvidenceDir != "" {
		path, err := evidence.WriteReport(o.opts.EvidenceDir, report)
		if err != nil {
			return err
		}
		outcome.EvidencePath = path
	}

	if o.opts.Dispatcher != nil {
		o.opts.Dispatcher.EmitAsync(ctx, dispatch.EventEvidenceReady, p.PlanID, map[string]any{
			"plan_id":    p.PlanID,
			"score":      report.Score,
			"all_passed": report.AllPassed,
		})
	}

	if !report.AllPassed {
		return fmt.Errorf("verification failed: %d of %d commands passed",
			report.Passed, report.Passed+report.Failed)
	}
	return nil
}

// auditExpirations writes an approval_expired entry for each gateable step
// whose prior approval has lapsed. Expiry is otherwise silent in the gate, so
// the trail is where the reversion becomes visible.
func (o *Orchestrator) auditExpirations(p plan.Plan) error {
	for _, step := range hitl.GateableSteps(p) {
		d, ok, err := o.opts.Gate.Decision(p.PlanID, step.ID)
		if err != nil {
			return err
		}
		if !ok || !d.Approved || !o.opts.Gate.Expired(d) {
			continue
		}
		if _, err := o.opts.Trail.Append("approval_expired", map[string]any{
			"plan_id":     p.PlanID,
			"step_id":     step.ID,
			"approved_at": d.ApprovedAt,
			"approved_by": d.ApprovedBy,
		}, o.opts.Actor, audit.SeverityWarning); err != nil {
			return err
		}
		o.logger.Warn("approval expired",
			zap.String("plan", p.PlanID),
			zap.String("step", step.ID))
	}
	return nil
}

func (o *Orchestrator) auditPhase(eventType, phase, planID, reason string) error {
	details := map[string]any{"phase": phase, "plan_id": planID}
	if reason != "" {
		details["reason"] = reason
	}
	severity := audit.SeverityInfo
	if eventType == "phase_halted" {
		severity = audit.SeverityError
	}
	_, err := o.opts.Trail.Append(eventType, details, o.opts.Actor, severity)
	return err
}

func (o *Orchestrator) runLint(ctx context.Context) error {
	parts := strings.Fields(o.opts.LintCommand)
	if len(parts) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = o.opts.Root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %v: %s", o.opts.LintCommand, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// workingTreeDirty reports whether git sees uncommitted changes at root.
func workingTreeDirty(ctx context.Context, root string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}
