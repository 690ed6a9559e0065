package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"planward/internal/dispatch"
	"planward/internal/generator"
	"planward/internal/index"
)

func newGenerateCmd() *cobra.Command {
	var objective string
	var files string
	var maxRetries int

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a change plan with self-correction",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.ws.EnsureDirs(); err != nil {
				return err
			}

			var affected []string
			for _, f := range strings.Split(files, ",") {
				if f = strings.TrimSpace(f); f != "" {
					affected = append(affected, f)
				}
			}

			state, err := index.Load(a.ws.IndexPath)
			if err != nil {
				return err
			}

			result, err := generator.Generate(generator.Options{
				Objective:     objective,
				AffectedFiles: affected,
				Root:          a.ws.Root,
				PlansDir:      a.ws.PlansDir,
				MaxRetries:    maxRetries,
				Index:         state,
				Logger:        a.logger,
			})
			if err != nil {
				if errors.Is(err, generator.ErrExhausted) {
					printf(cmd, "generation exhausted after %d attempts; candidate saved to %s\n",
						result.Attempts, result.Path)
				}
				return err
			}

			if _, err := a.trail().Append("plan_created", map[string]any{
				"plan_id":   result.Plan.PlanID,
				"objective": objective,
				"attempts":  result.Attempts,
				"corrected": result.Corrected,
			}, a.cfg.Actor, ""); err != nil {
				return err
			}

			d, store, err := a.dispatcher()
			if err != nil {
				return err
			}
			defer store.Close()
			if _, err := d.Emit(cmd.Context(), dispatch.EventPlanValidated, result.Plan.PlanID, map[string]any{
				"plan_id":  result.Plan.PlanID,
				"attempts": result.Attempts,
			}, false); err != nil {
				a.logger.Warn("plan_validated emission failed")
			}

			printf(cmd, "plan %s generated in %d attempt(s): %s\n",
				result.Plan.PlanID, result.Attempts, result.Path)
			return nil
		},
	}

	cmd.Flags().StringVar(&objective, "objective", "", "objective the plan should achieve (required)")
	cmd.Flags().StringVar(&files, "files", "", "comma-separated affected files")
	cmd.Flags().IntVar(&maxRetries, "max-retries", generator.DefaultMaxRetries, "self-correction attempt budget")
	_ = cmd.MarkFlagRequired("objective")
	return cmd
}
