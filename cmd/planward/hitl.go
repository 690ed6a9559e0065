package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"planward/internal/hitl"
	"planward/internal/plan"
)

func newHITLCmd() *cobra.Command {
	var check bool
	var interactive bool
	var approve string
	var reject string
	var reason string

	cmd := &cobra.Command{
		Use:   "hitl <plan-file>",
		Short: "Inspect or record approvals for a plan's gateable steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if check && (interactive || approve != "" || reject != "") {
				return fmt.Errorf("--check cannot be combined with --interactive, --approve or --reject")
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			path, err := a.ws.ResolvePath(args[0])
			if err != nil {
				return err
			}
			p, err := plan.LoadValidated(path)
			if err != nil {
				return err
			}
			gate := a.gate()

			switch {
			case approve != "":
				if err := gate.RecordApproval(p.PlanID, approve, a.cfg.Actor); err != nil {
					return err
				}
				if _, err := a.trail().Append("plan_approved", map[string]any{
					"plan_id": p.PlanID,
					"step_id": approve,
				}, a.cfg.Actor, ""); err != nil {
					return err
				}
				printf(cmd, "step %s approved\n", approve)
				return nil

			case reject != "":
				if err := gate.RecordRejection(p.PlanID, reject, a.cfg.Actor, reason); err != nil {
					return err
				}
				if _, err := a.trail().Append("plan_rejected", map[string]any{
					"plan_id": p.PlanID,
					"step_id": reject,
					"reason":  reason,
				}, a.cfg.Actor, ""); err != nil {
					return err
				}
				printf(cmd, "step %s rejected\n", reject)
				return nil

			case interactive:
				approved, err := gate.RunInteractive(p, hitl.InteractiveOptions{
					In:    cmd.InOrStdin(),
					Out:   cmd.OutOrStdout(),
					Actor: a.cfg.Actor,
				})
				if err != nil {
					return err
				}
				if !approved {
					return fmt.Errorf("plan %s not fully approved", p.PlanID)
				}
				return nil

			default:
				// Explicit --check and the bare invocation share this branch.
				approvedSteps, pending, err := gate.CheckAll(p)
				if err != nil {
					return err
				}
				gateable := hitl.GateableSteps(p)
				if len(gateable) == 0 {
					printf(cmd, "plan %s has no gateable steps; gate passes\n", p.PlanID)
					return nil
				}
				for _, s := range approvedSteps {
					printf(cmd, "[approved] %s %s %s\n", s.ID, s.Action, s.Target)
				}
				for _, s := range pending {
					printf(cmd, "[pending]  %s %s %s\n", s.ID, s.Action, s.Target)
				}
				if len(pending) > 0 {
					return fmt.Errorf("%d step(s) pending approval", len(pending))
				}
				printf(cmd, "all gateable steps approved\n")
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "report approval status without prompting")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "walk pending steps interactively")
	cmd.Flags().StringVar(&approve, "approve", "", "record approval for the given step id")
	cmd.Flags().StringVar(&reject, "reject", "", "record rejection for the given step id")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason")
	return cmd
}
