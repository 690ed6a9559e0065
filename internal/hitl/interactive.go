package hitl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"planward/internal/plan"
)

// InteractiveOptions configures the interactive approval flow.
type InteractiveOptions struct {
	In    io.Reader
	Out   io.Writer
	Actor string
}

// RunInteractive walks every pending gateable step, prompting for a decision.
// A rejection stops the flow and returns false. The flow is the only blocking
// point on human input and exits cleanly on EOF, leaving decisions already
// persisted intact.
func (g *Gate) RunInteractive(p plan.Plan, opts InteractiveOptions) (bool, error) {
	if opts.Actor == "" {
		opts.Actor = "human"
	}
	reader := bufio.NewReader(opts.In)

	for _, step := range GateableSteps(p) {
		approved, err := g.CheckApproval(p.PlanID, step.ID)
		if err != nil {
			return false, err
		}
		if approved {
			fmt.Fprintf(opts.Out, "[OK] %s already approved\n", step.ID)
			continue
		}

		decision, err := promptStep(reader, opts.Out, p, step)
		if err != nil {
			return false, err
		}

		if decision {
			if err := g.RecordApproval(p.PlanID, step.ID, opts.Actor); err != nil {
				return false, err
			}
			fmt.Fprintf(opts.Out, "[OK] step %s approved\n", step.ID)
			continue
		}

		fmt.Fprint(opts.Out, "Rejection reason (optional): ")
		reason, _ := reader.ReadString('\n')
		if err := g.RecordRejection(p.PlanID, step.ID, opts.Actor, strings.TrimSpace(reason)); err != nil {
			return false, err
		}
		fmt.Fprintf(opts.Out, "[X] step %s rejected; approval flow stopped\n", step.ID)
		return false, nil
	}

	fmt.Fprintln(opts.Out, "All gateable steps approved")
	return true, nil
}

func promptStep(reader *bufio.Reader, out io.Writer, p plan.Plan, step plan.Step) (bool, error) {
	fmt.Fprintf(out, "\nApproval required for plan %s\n", p.PlanID)
	fmt.Fprintf(out, "  objective: %s\n", p.Objective.Description)
	fmt.Fprintf(out, "  step:      %s\n", step.ID)
	fmt.Fprintf(out, "  action:    %s\n", step.Action)
	fmt.Fprintf(out, "  target:    %s\n", step.Target)
	if step.ExpectedOutcome != "" {
		fmt.Fprintf(out, "  expected:  %s\n", step.ExpectedOutcome)
	}
	if step.Rollback != "" {
		fmt.Fprintf(out, "  rollback:  %s\n", step.Rollback)
	}

	for {
		fmt.Fprint(out, "Approve this step? (y/n/view): ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, fmt.Errorf("read approval input: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		case "v", "view":
			detail, err := json.MarshalIndent(step, "", "  ")
			if err == nil {
				fmt.Fprintf(out, "%s\n", detail)
			}
		default:
			fmt.Fprintln(out, "Answer 'y' to approve, 'n' to reject, 'view' for detail.")
		}
	}
}
