package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"planward/internal/audit"
	"planward/internal/config"
	"planward/internal/dispatch"
	"planward/internal/hitl"
	"planward/internal/logging"
	"planward/internal/workspace"
)

const version = "1.1.0"

// app bundles the wired collaborators every subcommand needs.
type app struct {
	ws     *workspace.Workspace
	cfg    *config.Config
	logger *zap.Logger
}

// newApp resolves the workspace and configuration from the root flags.
func newApp(cmd *cobra.Command) (*app, error) {
	root, _ := cmd.Flags().GetString("workspace")
	configPath, _ := cmd.Flags().GetString("config")

	ws, err := workspace.Resolve(root)
	if err != nil {
		return nil, err
	}
	if configPath == "" {
		configPath = ws.ConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return &app{ws: ws, cfg: cfg, logger: logger}, nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) trail() *audit.Trail {
	return audit.NewTrail(a.ws.AuditLogPath, a.cfg.Audit.SigningKey)
}

func (a *app) gate() *hitl.Gate {
	return hitl.NewGate(hitl.NewStore(a.ws.ApprovalsPath), a.cfg.ApprovalTTL())
}

// dispatcher opens the dispatch store and builds the dispatcher over the
// configured endpoints. Successful deliveries land in the audit trail as
// webhook_sent entries. Callers own closing the returned store.
func (a *app) dispatcher() (*dispatch.Dispatcher, *dispatch.Store, error) {
	store, err := dispatch.OpenStore(a.ws.DispatchDBPath)
	if err != nil {
		return nil, nil, err
	}
	endpoints := make(map[string]string)
	for _, ev := range dispatch.Events() {
		if url := a.cfg.WebhookURL(string(ev)); url != "" {
			endpoints[string(ev)] = url
		}
	}
	trail := a.trail()
	d := dispatch.New(dispatch.Options{
		Endpoints: endpoints,
		Store:     store,
		Logger:    a.logger,
		Timeout:   a.cfg.DispatchTimeout(),
		Model:     a.cfg.Model,
		Version:   version,
		OnDelivered: func(ev dispatch.Event, key, planID string, attempts int) {
			if _, err := trail.Append("webhook_sent", map[string]any{
				"event_type":      string(ev),
				"idempotency_key": key,
				"plan_id":         planID,
				"attempts":        attempts,
			}, a.cfg.Actor, ""); err != nil {
				a.logger.Warn("audit webhook_sent failed", zap.Error(err))
			}
		},
	})
	return d, store, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "planward",
		Short:         "Gated pipeline for machine-generated change plans",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().String("workspace", ".", "workspace root directory")
	cmd.PersistentFlags().String("config", "", "config file (default <workspace>/planward.yaml)")

	cmd.AddCommand(
		newGenerateCmd(),
		newValidateCmd(),
		newHITLCmd(),
		newOrchestrateCmd(),
		newAuditCmd(),
		newDispatchCmd(),
		newIndexCmd(),
		newRecoveryCmd(),
	)
	return cmd
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
