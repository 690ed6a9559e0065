package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"planward/internal/dispatch"
)

func newDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Operate the webhook event dispatcher",
	}
	cmd.AddCommand(
		newDispatchHealthcheckCmd(),
		newDispatchTestCmd(),
		newDispatchStatusCmd(),
		newDispatchProcessQueueCmd(),
	)
	return cmd
}

func newDispatchHealthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the configured webhook endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			d, store, err := a.dispatcher()
			if err != nil {
				return err
			}
			defer store.Close()

			if !d.Healthcheck(cmd.Context()) {
				return fmt.Errorf("webhook endpoint unavailable")
			}
			printf(cmd, "webhook endpoint reachable\n")
			return nil
		},
	}
}

func newDispatchTestCmd() *cobra.Command {
	var event string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Force-emit a test event",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			d, store, err := a.dispatcher()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := d.Emit(cmd.Context(), dispatch.Event(event), "PLAN-TESTFIRE", map[string]any{
				"plan_id": "PLAN-TESTFIRE",
				"test":    true,
			}, true)
			if err != nil {
				return err
			}
			switch {
			case result.Delivered:
				printf(cmd, "delivered %s in %d attempt(s)\n", event, result.Attempts)
			case result.Queued:
				printf(cmd, "delivery failed; event queued durably\n")
			case result.Skipped:
				printf(cmd, "skipped: %s\n", result.SkipReason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&event, "event", string(dispatch.EventHeartbeat), "event type to fire")
	return cmd
}

func newDispatchStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show delivered-key and queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			store, err := dispatch.OpenStore(a.ws.DispatchDBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			delivered, err := store.DeliveredCount()
			if err != nil {
				return err
			}
			queued, err := store.Queued()
			if err != nil {
				return err
			}
			printf(cmd, "delivered keys: %d\n", delivered)
			printf(cmd, "queued events:  %d\n", len(queued))
			for _, e := range queued {
				printf(cmd, "  [%d] %s key=%s attempts=%d last_error=%s\n",
					e.ID, e.EventType, e.IdempotencyKey, e.Attempts, e.LastError)
			}
			return nil
		},
	}
}

func newDispatchProcessQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process-queue",
		Short: "Attempt one redelivery of every queued event",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			d, store, err := a.dispatcher()
			if err != nil {
				return err
			}
			defer store.Close()

			delivered, remaining, err := d.ProcessQueue(cmd.Context())
			if err != nil {
				return err
			}
			printf(cmd, "redelivered %d event(s), %d remaining\n", delivered, remaining)
			return nil
		},
	}
}
