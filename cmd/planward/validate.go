package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"planward/internal/grounding"
	"planward/internal/index"
	"planward/internal/plan"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Run structural and semantic validation on a plan file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			path, err := a.ws.ResolvePath(args[0])
			if err != nil {
				return err
			}
			p, err := plan.Load(path)
			if err != nil {
				return err
			}

			violations := plan.Validate(p)
			for _, v := range violations {
				printf(cmd, "structural: %s\n", v)
			}

			state, err := index.Load(a.ws.IndexPath)
			if err != nil {
				return err
			}
			hallucinated := grounding.NewChecker(a.ws.Root, state).Check(p)
			for _, h := range hallucinated {
				printf(cmd, "semantic: nonexistent reference %s\n", h)
			}

			if len(violations) > 0 || len(hallucinated) > 0 {
				return fmt.Errorf("plan %s failed validation (%d structural, %d semantic)",
					p.PlanID, len(violations), len(hallucinated))
			}
			printf(cmd, "plan %s is valid\n", p.PlanID)
			return nil
		},
	}
	return cmd
}
