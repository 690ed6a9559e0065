package actions

import (
	"context"
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

const execOutputLimit = 5000

// ExecHandler runs non-mutating actions against the real workspace. Mutating
// actions are recorded as reviewed, not applied; applying them belongs to an
// operator acting on the approved plan.
type ExecHandler struct {
	Commands struct {
		Lint      string
		TypeCheck string
		Scan      string
	}
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewExecHandler builds an ExecHandler with the configured external commands.
func NewExecHandler(lint, typeCheck, scan string, logger *zap.Logger) *ExecHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &ExecHandler{Timeout: 120 * time.Second, Logger: logger}
	h.Commands.Lint = lint
	h.Commands.TypeCheck = typeCheck
	h.Commands.Scan = scan
	return h
}

func (h *ExecHandler) Name() string { return "exec" }

// Execute dispatches on the step's action type.
func (h *ExecHandler) Execute(ctx context.Context, req Request) (*Result, error) {
	step := req.Step
	result := &Result{StepID: step.ID, Action: string(step.Action)}

	switch step.Action {
	case plan.ActionReadFile:
		return h.readFile(req, result)

	case plan.ActionWriteFile, plan.ActionDeleteFile, plan.ActionGitCommit:
		result.Status = StatusReviewed
		result.Output = fmt.Sprintf("%s on %s reviewed, not applied", step.Action, step.Target)
		h.Logger.Info("mutating step reviewed",
			zap.String("step", step.ID),
			zap.String("action", string(step.Action)),
			zap.String("target", step.Target))
		return result, nil

	case plan.ActionRunCommand:
		return h.runCommand(ctx, req, result, step.Target)

	case plan.ActionDockerComposeUp, plan.ActionDockerRunTests, plan.ActionDockerFetchLogs:
		return h.runCommand(ctx, req, result, step.Script)

	case plan.ActionLintCheck:
		return h.runConfigured(ctx, req, result, h.Commands.Lint, "lint")

	case plan.ActionTypeCheck:
		return h.runConfigured(ctx, req, result, h.Commands.TypeCheck, "type check")

	case plan.ActionSnykScan:
		return h.runConfigured(ctx, req, result, h.Commands.Scan, "security scan")

	default:
		result.Status = StatusFailed
		return result, fmt.Errorf("step %s: unhandled action %q", step.ID, step.Action)
	}
}

func (h *ExecHandler) readFile(req Request, result *Result) (*Result, error) {
	path := filepath.Join(req.Root, req.Step.Target)
	info, err := os.Stat(path)
	if err != nil {
		result.Status = StatusFailed
		return result, fmt.Errorf("step %s: read %s: %w", req.Step.ID, req.Step.Target, err)
	}
	result.Status = StatusCompleted
	result.Applied = true
	if info.IsDir() {
		result.Output = fmt.Sprintf("inspected directory %s", req.Step.Target)
	} else {
		result.Output = fmt.Sprintf("inspected %s (%d bytes)", req.Step.Target, info.Size())
	}
	return result, nil
}

func (h *ExecHandler) runConfigured(ctx context.Context, req Request, result *Result, command, kind string) (*Result, error) {
	if command == "" {
		result.Status = StatusReviewed
		result.Output = fmt.Sprintf("no %s command configured, skipped", kind)
		return result, nil
	}
	return h.runCommand(ctx, req, result, command)
}

func (h *ExecHandler) runCommand(ctx context.Context, req Request, result *Result, command string) (*Result, error) {
	if strings.TrimSpace(command) == "" {
		result.Status = StatusFailed
		return result, fmt.Errorf("step %s: empty command", req.Step.ID)
	}
	args, err := shellquote.Split(command)
	if err != nil {
		result.Status = StatusFailed
		return result, fmt.Errorf("step %s: parse command: %w", req.Step.ID, err)
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
	cmd.Dir = req.Root
	out, err := cmd.CombinedOutput()
	result.Output = truncate(string(out), execOutputLimit)

	if err != nil {
		result.Status = StatusFailed
		return result, fmt.Errorf("step %s: %s: %w", req.Step.ID, command, err)
	}
	result.Status = StatusCompleted
	result.Applied = true
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... [truncated]"
}
