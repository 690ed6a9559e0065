// Package evidence re-runs a plan's verification commands and scores the
// outcome.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"planward/internal/plan"
)

// DefaultCommandTimeout bounds each verification command.
const DefaultCommandTimeout = 120 * time.Second

const (
	maxStdout = 5000
	maxStderr = 2000
)

// CommandResult is the captured outcome of one verification command.
type CommandResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Passed   bool   `json:"passed"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

// Report is the full evidence record for a plan run.
type Report struct {
	PlanID      string          `json:"plan_id"`
	CollectedAt string          `json:"collected_at"`
	Commands    []CommandResult `json:"commands"`
	Passed      int             `json:"passed"`
	Failed      int             `json:"failed"`
	Score       float64         `json:"score"`
	AllPassed   bool            `json:"all_passed"`
}

// Collector runs verification commands in a working directory.
type Collector struct {
	Dir     string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewCollector builds a Collector rooted at dir.
func NewCollector(dir string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{Dir: dir, Timeout: DefaultCommandTimeout, Logger: logger}
}

// Collect runs every verification command in the plan and scores the result.
// A plan without verification commands scores 1.0 with zero commands run.
func (c *Collector) Collect(ctx context.Context, p plan.Plan) (Report, error) {
	report := Report{
		PlanID:      p.PlanID,
		CollectedAt: time.Now().UTC().Format(time.RFC3339),
	}

	var commands []string
	if p.Verification != nil {
		commands = p.Verification.Commands
	}
	if len(commands) == 0 {
		report.Score = 1.0
		report.AllPassed = true
		return report, nil
	}

	for _, cmd := range commands {
		result := c.run(ctx, cmd)
		report.Commands = append(report.Commands, result)
		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
	}

	report.Score = float64(report.Passed) / float64(len(commands))
	report.AllPassed = report.Failed == 0
	return report, nil
}

func (c *Collector) run(ctx context.Context, command string) CommandResult {
	result := CommandResult{Command: command}

	args, err := shellquote.Split(command)
	if err != nil || len(args) == 0 {
		result.ExitCode = -1
		result.Error = fmt.Sprintf("unparseable command: %v", err)
		result.Duration = "0s"
		return result
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr strings.Builder
	cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
	cmd.Dir = c.Dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	result.Duration = time.Since(start).Round(time.Millisecond).String()
	result.Stdout = truncate(stdout.String(), maxStdout)
	result.Stderr = truncate(stderr.String(), maxStderr)

	if runErr == nil {
		result.Passed = true
		return result
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else {
		result.ExitCode = -1
		result.Error = runErr.Error()
	}
	if cmdCtx.Err() == context.DeadlineExceeded {
		result.Error = "command timed out"
	}
	c.Logger.Warn("verification command failed",
		zap.String("command", command),
		zap.Int("exit_code", result.ExitCode))
	return result
}

// WriteReport persists the report as pretty JSON under dir, named by plan id.
func WriteReport(dir string, report Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure evidence dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_evidence.json", report.PlanID))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal evidence report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write evidence report: %w", err)
	}
	return path, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... [truncated]"
}
