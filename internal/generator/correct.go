package generator

import (
	"fmt"
	"strings"
	"time"

	"planward/internal/grounding"
	"planward/internal/plan"
)

// repairKind names a class of structural failure the loop knows how to fix.
type repairKind string

const (
	repairPlanID        repairKind = "plan_id"
	repairStepIDs       repairKind = "step_id"
	repairMissingAction repairKind = "missing_action"
	repairInvalidAction repairKind = "invalid_action"
	repairMissingTarget repairKind = "missing_target"
	repairHITL          repairKind = "hitl_required"
	repairDependency    repairKind = "dependency"
	repairCycle         repairKind = "cycle"
	repairScript        repairKind = "script"
	repairMetadata      repairKind = "metadata"
)

// classify maps validator violations onto repair actions.
func classify(violations []string) map[repairKind]bool {
	kinds := make(map[repairKind]bool)
	for _, v := range violations {
		switch {
		case strings.Contains(v, "plan_id"):
			kinds[repairPlanID] = true
		case strings.Contains(v, "invalid id") || strings.Contains(v, "duplicate step id"):
			kinds[repairStepIDs] = true
		case strings.Contains(v, "missing action"):
			kinds[repairMissingAction] = true
		case strings.Contains(v, "invalid action"):
			kinds[repairInvalidAction] = true
		case strings.Contains(v, "missing target"):
			kinds[repairMissingTarget] = true
		case strings.Contains(v, "hitl_required"):
			kinds[repairHITL] = true
		case strings.Contains(v, "unknown dependency"):
			kinds[repairDependency] = true
		case strings.Contains(v, "circular dependency"):
			kinds[repairCycle] = true
		case strings.Contains(v, "requires a script"):
			kinds[repairScript] = true
		case strings.Contains(v, "missing required field") || strings.Contains(v, "at least one step"):
			kinds[repairMetadata] = true
		}
	}
	return kinds
}

// repair applies the classified fixes to a copy of the candidate.
func repair(p plan.Plan, kinds map[repairKind]bool) plan.Plan {
	p.Steps = append([]plan.Step(nil), p.Steps...)

	if kinds[repairPlanID] || !plan.PlanIDPattern.MatchString(p.PlanID) {
		p.PlanID = NewPlanID()
	}

	if kinds[repairStepIDs] {
		renumberSteps(&p)
	}

	for i := range p.Steps {
		step := &p.Steps[i]
		if kinds[repairMissingAction] && step.Action == "" {
			step.Action = plan.ActionReadFile
		}
		// Unrecognized actions always fall back to the safest one.
		if step.Action != "" && !step.Action.Valid() {
			step.Action = plan.ActionReadFile
		}
		if kinds[repairMissingTarget] && strings.TrimSpace(step.Target) == "" {
			step.Target = "."
		}
		if kinds[repairHITL] && step.Action.Mutating() {
			step.HITLRequired = true
		}
		if kinds[repairScript] && step.Action.Containerized() && strings.TrimSpace(step.Script) == "" {
			step.Script = step.Target
		}
	}

	if kinds[repairDependency] {
		ids := make(map[string]bool, len(p.Steps))
		for _, s := range p.Steps {
			ids[s.ID] = true
		}
		for i := range p.Steps {
			var kept []string
			for _, dep := range p.Steps[i].DependsOn {
				if ids[dep] {
					kept = append(kept, dep)
				}
			}
			p.Steps[i].DependsOn = kept
		}
	}

	if kinds[repairCycle] {
		for i := range p.Steps {
			p.Steps[i].DependsOn = nil
		}
	}

	if p.Version == "" {
		p.Version = PlanVersion
	}
	if p.CreatedAt == "" {
		p.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if len(p.Steps) == 0 {
		p.Steps = []plan.Step{{
			ID:              "S01",
			Action:          plan.ActionReadFile,
			Target:          ".",
			ExpectedOutcome: "Understand current structure",
		}}
	}
	return p
}

// renumberSteps rewrites step ids to S01.. and remaps depends_on references.
func renumberSteps(p *plan.Plan) {
	mapping := make(map[string]string, len(p.Steps))
	for i := range p.Steps {
		newID := fmt.Sprintf("S%02d", i+1)
		if old := p.Steps[i].ID; old != "" {
			mapping[old] = newID
		}
		p.Steps[i].ID = newID
	}
	for i := range p.Steps {
		for j, dep := range p.Steps[i].DependsOn {
			if renamed, ok := mapping[dep]; ok {
				p.Steps[i].DependsOn[j] = renamed
			}
		}
	}
}

// stripHallucinated removes every nonexistent path from the candidate. This is
// a correction, not a rejection: the loop continues with the cleaned plan.
func stripHallucinated(p plan.Plan, checker *grounding.Checker) plan.Plan {
	p.Steps = append([]plan.Step(nil), p.Steps...)

	var affected []string
	for _, f := range p.Objective.AffectedFiles {
		if checker.Exists(f) {
			affected = append(affected, f)
		}
	}
	p.Objective.AffectedFiles = affected

	if p.Evidence != nil {
		ev := *p.Evidence
		var analyzed []string
		for _, f := range ev.AnalyzedPaths {
			if checker.Exists(f) {
				analyzed = append(analyzed, f)
			}
		}
		ev.AnalyzedPaths = analyzed
		p.Evidence = &ev
	}

	for i := range p.Steps {
		step := &p.Steps[i]
		switch step.Action {
		case plan.ActionReadFile, plan.ActionDeleteFile:
			if step.Target != "." && !checker.Exists(step.Target) {
				step.Target = "."
				if step.Action == plan.ActionDeleteFile {
					// Deleting "." is never acceptable; downgrade to a read.
					step.Action = plan.ActionReadFile
					step.HITLRequired = false
				}
			}
		}
	}
	return p
}
