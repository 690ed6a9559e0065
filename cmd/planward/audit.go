package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify the hash-chained audit trail",
	}
	cmd.AddCommand(newAuditVerifyCmd(), newAuditExportCmd(), newAuditShowCmd())
	return cmd
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay the chain and report the first divergent entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.trail().VerifyIntegrity()
			if err != nil {
				return err
			}
			if report.Valid {
				printf(cmd, "audit trail valid: %d entries\n", report.Entries)
				return nil
			}
			for _, e := range report.Errors {
				printf(cmd, "%s\n", e)
			}
			return fmt.Errorf("audit trail integrity failure at entry %d", report.FirstBadEntry)
		},
	}
}

func newAuditExportCmd() *cobra.Command {
	var out string
	var sinceDays int
	var types []string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a filtered slice of the chain with a fresh integrity result",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			var since time.Time
			if sinceDays > 0 {
				since = time.Now().UTC().AddDate(0, 0, -sinceDays)
			}
			outPath, err := a.ws.ResolvePath(out)
			if err != nil {
				return err
			}
			n, err := a.trail().Export(outPath, since, types)
			if err != nil {
				return err
			}
			printf(cmd, "exported %d entries to %s\n", n, outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "audit_export.json", "output file")
	cmd.Flags().IntVar(&sinceDays, "since-days", 0, "only entries from the last N days")
	cmd.Flags().StringSliceVar(&types, "types", nil, "event types to include")
	return cmd
}

func newAuditShowCmd() *cobra.Command {
	var sinceDays int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print recent audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			since := time.Now().UTC().AddDate(0, 0, -sinceDays)
			entries, err := a.trail().EntriesSince(since)
			if err != nil {
				return err
			}
			for _, e := range entries {
				printf(cmd, "%4d %s [%s] %s %s\n",
					e.Sequence, e.Timestamp, e.Severity, e.EventType, e.Actor)
			}
			printf(cmd, "%d entries in the last %d day(s)\n", len(entries), sinceDays)
			return nil
		},
	}

	cmd.Flags().IntVar(&sinceDays, "since-days", 7, "show entries from the last N days")
	return cmd
}
