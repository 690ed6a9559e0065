package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"planward/internal/actions"
	"planward/internal/evidence"
	"planward/internal/orchestrator"
	"planward/internal/plan"
)

func newOrchestrateCmd() *cobra.Command {
	var yes bool
	var skipDirty bool

	cmd := &cobra.Command{
		Use:   "orchestrate <plan-file>",
		Short: "Run a plan through pre-flight, gate, execute and evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.ws.EnsureDirs(); err != nil {
				return err
			}

			path, err := a.ws.ResolvePath(args[0])
			if err != nil {
				return err
			}
			p, err := plan.LoadValidated(path)
			if err != nil {
				return err
			}

			d, store, err := a.dispatcher()
			if err != nil {
				return err
			}
			defer store.Close()

			handler := actions.NewExecHandler(
				a.cfg.Commands.Lint,
				a.cfg.Commands.TypeCheck,
				a.cfg.Commands.Scan,
				a.logger,
			)

			orch := orchestrator.New(orchestrator.Options{
				Root:           a.ws.Root,
				Gate:           a.gate(),
				Trail:          a.trail(),
				Dispatcher:     d,
				Handler:        handler,
				Collector:      evidence.NewCollector(a.ws.Root, a.logger),
				EvidenceDir:    a.ws.EvidenceDir,
				Logger:         a.logger,
				Actor:          a.cfg.Actor,
				SkipDirtyCheck: skipDirty,
				Interactive:    !yes,
				In:             cmd.InOrStdin(),
				Out:            cmd.OutOrStdout(),
				LintCommand:    a.cfg.Commands.Lint,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			outcome, err := orch.Run(ctx, p)
			d.Wait()
			if err != nil {
				printf(cmd, "pipeline halted in %s phase: %s\n", outcome.HaltedPhase, outcome.HaltReason)
				return err
			}

			printf(cmd, "pipeline completed for plan %s\n", p.PlanID)
			if outcome.Evidence != nil {
				printf(cmd, "evidence score: %.2f (%d passed, %d failed)\n",
					outcome.Evidence.Score, outcome.Evidence.Passed, outcome.Evidence.Failed)
			}
			if outcome.EvidencePath != "" {
				printf(cmd, "evidence report: %s\n", outcome.EvidencePath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "skip the interactive approval flow")
	cmd.Flags().BoolVar(&skipDirty, "skip-dirty-check", false, "proceed despite uncommitted working-tree changes")
	return cmd
}
