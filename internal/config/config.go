// Package config loads planward configuration from YAML and PLANWARD_* environment
// variables. Environment variables win over the file, the file wins over defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "PLANWARD_"

// DefaultSigningKey is refused when environment=production.
const DefaultSigningKey = "planward-audit-v1-default-key"

// Config is the full runtime configuration.
type Config struct {
	Environment string            `koanf:"environment"`
	Actor       string            `koanf:"actor"`
	Model       string            `koanf:"model"`
	Logging     LoggingConfig     `koanf:"logging"`
	Audit       AuditConfig       `koanf:"audit"`
	HITL        HITLConfig        `koanf:"hitl"`
	Dispatch    DispatchConfig    `koanf:"dispatch"`
	Webhooks    map[string]string `koanf:"webhooks"`
	Commands    CommandsConfig    `koanf:"commands"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AuditConfig controls the hash-chained audit trail.
type AuditConfig struct {
	SigningKey    string `koanf:"signing_key"`
	RetentionDays int    `koanf:"retention_days"`
}

// HITLConfig controls the approval gate.
type HITLConfig struct {
	ApprovalTTLHours int `koanf:"approval_ttl_hours"`
}

// DispatchConfig controls the event dispatcher.
type DispatchConfig struct {
	TimeoutSeconds int `koanf:"timeout_seconds"`
}

// CommandsConfig names the opaque external verification commands.
type CommandsConfig struct {
	Lint      string `koanf:"lint"`
	TypeCheck string `koanf:"type_check"`
	Scan      string `koanf:"scan"`
}

// ApprovalTTL returns the configured approval expiry window.
func (c *Config) ApprovalTTL() time.Duration {
	hours := c.HITL.ApprovalTTLHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// DispatchTimeout returns the per-request webhook timeout.
func (c *Config) DispatchTimeout() time.Duration {
	secs := c.Dispatch.TimeoutSeconds
	if secs <= 0 {
		secs = 10
	}
	return time.Duration(secs) * time.Second
}

// WebhookURL returns the configured destination for an event type, if any.
func (c *Config) WebhookURL(eventType string) string {
	return c.Webhooks[strings.ToLower(eventType)]
}

// Default returns configuration with development defaults.
func Default() *Config {
	return &Config{
		Environment: "development",
		Actor:       "system",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Audit: AuditConfig{
			SigningKey:    DefaultSigningKey,
			RetentionDays: 90,
		},
		HITL: HITLConfig{
			ApprovalTTLHours: 24,
		},
		Dispatch: DispatchConfig{
			TimeoutSeconds: 10,
		},
		Webhooks: map[string]string{},
	}
}

// Load reads configuration from the given YAML file (if it exists), then applies
// PLANWARD_* environment overrides. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			content, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), kyaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Environment == "production" && c.Audit.SigningKey == DefaultSigningKey {
		return fmt.Errorf("audit.signing_key must be set explicitly in production")
	}
	if c.Environment == "production" {
		for event, url := range c.Webhooks {
			if url != "" && !strings.HasPrefix(url, "https://") {
				return fmt.Errorf("webhook for %s must use https in production", event)
			}
		}
	}
	return nil
}

// transformEnvKey maps e.g. PLANWARD_AUDIT_SIGNING_KEY to audit.signing_key and
// PLANWARD_WEBHOOKS_PLAN_VALIDATED to webhooks.plan_validated.
func transformEnvKey(key string) string {
	s := strings.ToLower(strings.TrimPrefix(key, envPrefix))
	sections := []string{"logging", "audit", "hitl", "dispatch", "webhooks", "commands"}
	for _, section := range sections {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}
	return s
}
