package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"planward/internal/recovery"
)

func newRecoveryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recovery",
		Short: "Inspect sub-agent recovery state",
	}
	cmd.AddCommand(newRecoveryStatsCmd(), newRecoveryValidateCmd())
	return cmd
}

func newRecoveryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Tally the recovery event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := recovery.ReadStats(a.ws.RecoveryLogPath)
			if err != nil {
				return err
			}
			printf(cmd, "attempts: %d (valid %d, invalid %d)\n",
				stats.Total, stats.Valid, stats.Invalid)

			roles := make([]string, 0, len(stats.ByRole))
			for role := range stats.ByRole {
				roles = append(roles, role)
			}
			sort.Strings(roles)
			for _, role := range roles {
				printf(cmd, "  %s: %d\n", role, stats.ByRole[role])
			}
			return nil
		},
	}
}

func newRecoveryValidateCmd() *cobra.Command {
	var role string
	var rolesFile string

	cmd := &cobra.Command{
		Use:   "validate <response-file>",
		Short: "Check a sub-agent response against its role schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			rolesPath, err := a.ws.ResolvePath(rolesFile)
			if err != nil {
				return err
			}
			roles, err := recovery.LoadRoles(rolesPath)
			if err != nil {
				return err
			}

			responsePath, err := a.ws.ResolvePath(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(responsePath)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}

			runner := recovery.NewRunner(roles, 1, "", a.logger)
			_, ok, reason := runner.ValidateResponse(string(data), role)
			if !ok {
				printf(cmd, "invalid %s response: %s\n", role, reason)
				return fmt.Errorf("response failed validation for role %s", role)
			}
			printf(cmd, "valid %s response\n", role)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "role id to validate against (required)")
	cmd.Flags().StringVar(&rolesFile, "roles", "", "optional YAML role registry overriding the defaults")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}
