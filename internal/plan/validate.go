package plan

import (
	"fmt"
	"strings"
)

// Validate runs every structural check and returns the ordered list of
// violations. An empty slice means the plan is structurally valid. The check is
// pure: it never touches the filesystem (see the grounding package for that).
func Validate(p Plan) []string {
	var violations []string
	violations = append(violations, requiredFieldViolations(p)...)
	violations = append(violations, planIDViolations(p)...)
	violations = append(violations, stepViolations(p)...)
	violations = append(violations, dependencyViolations(p)...)
	return violations
}

// ValidateErr wraps Validate for callers that want a single error.
func ValidateErr(p Plan) error {
	violations := Validate(p)
	if len(violations) == 0 {
		return nil
	}
	return fmt.Errorf("plan failed validation: %s", strings.Join(violations, "; "))
}

func requiredFieldViolations(p Plan) []string {
	var violations []string
	if strings.TrimSpace(p.PlanID) == "" {
		violations = append(violations, "missing required field: 'plan_id'")
	}
	if strings.TrimSpace(p.Version) == "" {
		violations = append(violations, "missing required field: 'version'")
	}
	if strings.TrimSpace(p.CreatedAt) == "" {
		violations = append(violations, "missing required field: 'created_at'")
	}
	if strings.TrimSpace(p.Objective.Description) == "" {
		violations = append(violations, "missing required field: 'objective'")
	}
	if len(p.Steps) == 0 {
		violations = append(violations, "plan must have at least one step")
	}
	return violations
}

func planIDViolations(p Plan) []string {
	if p.PlanID != "" && !PlanIDPattern.MatchString(p.PlanID) {
		return []string{fmt.Sprintf("invalid plan_id %q: expected format PLAN-XXXXXXXX", p.PlanID)}
	}
	return nil
}

func stepViolations(p Plan) []string {
	var violations []string
	seen := make(map[string]bool, len(p.Steps))

	for i, step := range p.Steps {
		if !StepIDPattern.MatchString(step.ID) {
			violations = append(violations,
				fmt.Sprintf("step %d: invalid id %q (expected S01, S02, ...)", i+1, step.ID))
		}
		if seen[step.ID] {
			violations = append(violations, fmt.Sprintf("duplicate step id %q", step.ID))
		}
		seen[step.ID] = true

		if step.Action == "" {
			violations = append(violations, fmt.Sprintf("step %s: missing action", step.ID))
		} else if !step.Action.Valid() {
			violations = append(violations,
				fmt.Sprintf("step %s: invalid action %q", step.ID, step.Action))
		}

		if strings.TrimSpace(step.Target) == "" {
			violations = append(violations, fmt.Sprintf("step %s: missing target", step.ID))
		}

		if step.Action.Mutating() && !step.HITLRequired {
			violations = append(violations,
				fmt.Sprintf("step %s: action %q requires hitl_required=true", step.ID, step.Action))
		}

		if step.Action.Containerized() && strings.TrimSpace(step.Script) == "" {
			violations = append(violations,
				fmt.Sprintf("step %s: containerized action %q requires a script", step.ID, step.Action))
		}
	}
	return violations
}

func dependencyViolations(p Plan) []string {
	var violations []string
	ids := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		ids[s.ID] = true
	}

	for _, step := range p.Steps {
		for _, dep := range step.DependsOn {
			if !ids[dep] {
				violations = append(violations,
					fmt.Sprintf("step %s: unknown dependency %q", step.ID, dep))
			}
		}
	}

	visited := make(map[string]bool)
	for _, step := range p.Steps {
		if visited[step.ID] {
			continue
		}
		if hasCycle(p, step.ID, visited, map[string]bool{}) {
			violations = append(violations,
				fmt.Sprintf("circular dependency involving %q", step.ID))
		}
	}
	return violations
}

// hasCycle walks depends_on edges depth-first, tracking the recursion stack.
func hasCycle(p Plan, id string, visited, stack map[string]bool) bool {
	visited[id] = true
	stack[id] = true

	if step, ok := p.StepByID(id); ok {
		for _, dep := range step.DependsOn {
			if !visited[dep] {
				if hasCycle(p, dep, visited, stack) {
					return true
				}
			} else if stack[dep] {
				return true
			}
		}
	}

	delete(stack, id)
	return false
}

// TopologicalOrder returns the plan's steps in dependency order. It fails on a
// cycle, which validation should have already rejected.
func TopologicalOrder(p Plan) ([]Step, error) {
	indegree := make(map[string]int, len(p.Steps))
	dependents := make(map[string][]string, len(p.Steps))
	for _, s := range p.Steps {
		indegree[s.ID] += 0
		for _, dep := range s.DependsOn {
			indegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	var queue []string
	for _, s := range p.Steps {
		if indegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	ordered := make([]Step, 0, len(p.Steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		step, ok := p.StepByID(id)
		if !ok {
			continue
		}
		ordered = append(ordered, step)
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(ordered) != len(p.Steps) {
		return nil, fmt.Errorf("dependency cycle prevents ordering steps")
	}
	return ordered, nil
}
