// Package generator synthesizes change plans and repairs them through a bounded
// self-correction loop before they are persisted as valid.
package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"planward/internal/grounding"
	"planward/internal/index"
	"planward/internal/plan"
)

// DefaultMaxRetries bounds the self-correction loop.
const DefaultMaxRetries = 3

// PlanVersion is stamped onto every synthesized plan.
const PlanVersion = "1.1"

// FailedPrefix marks exhausted candidates persisted for human inspection.
const FailedPrefix = "_FAILED_"

// ErrExhausted is returned when no valid plan emerged within the retry budget.
// The last candidate is still persisted under the failed prefix.
var ErrExhausted = errors.New("self-correction retries exhausted")

// Options configures a generation run.
type Options struct {
	Objective     string
	AffectedFiles []string
	Root          string
	PlansDir      string
	MaxRetries    int
	Index         index.State
	Logger        *zap.Logger
}

// Result reports the outcome of a generation run.
type Result struct {
	Plan     plan.Plan
	Path     string
	Attempts int
	// Corrected is true when the plan only became valid after at least one repair.
	Corrected bool
}

// NewPlanID returns a fresh PLAN-XXXXXXXX identifier.
func NewPlanID() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "PLAN-" + raw[:8]
}

// Generate synthesizes a plan for the objective and runs the self-correction
// loop: structural validation, then semantic grounding, repairing the candidate
// between attempts. A candidate that never converges is persisted under the
// failed prefix and ErrExhausted is returned; it is never silently discarded.
func Generate(opts Options) (Result, error) {
	if strings.TrimSpace(opts.Objective) == "" {
		return Result{}, fmt.Errorf("objective is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.PlansDir == "" {
		opts.PlansDir = filepath.Join(opts.Root, "plans")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(opts.PlansDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("ensure plans dir: %w", err)
	}

	checker := grounding.NewChecker(opts.Root, opts.Index)
	candidate := synthesize(opts.Objective, opts.AffectedFiles, checker)
	corrected := false

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		scratch := filepath.Join(opts.PlansDir, fmt.Sprintf("_temp_plan_%d.json", attempt))
		if err := plan.Save(candidate, scratch); err != nil {
			return Result{}, err
		}

		violations := plan.Validate(candidate)
		if len(violations) > 0 {
			logger.Warn("candidate failed structural validation",
				zap.Int("attempt", attempt),
				zap.Strings("violations", violations))
			repaired := repair(candidate, classify(violations))
			logCandidateDiff(logger, candidate, repaired)
			candidate = repaired
			corrected = true
			_ = os.Remove(scratch)
			continue
		}

		hallucinated := checker.Check(candidate)
		if len(hallucinated) > 0 {
			logger.Warn("candidate references nonexistent paths",
				zap.Int("attempt", attempt),
				zap.Strings("hallucinated", hallucinated))
			repaired := stripHallucinated(candidate, checker)
			logCandidateDiff(logger, candidate, repaired)
			candidate = repaired
			corrected = true
			_ = os.Remove(scratch)
			continue
		}

		finalPath := filepath.Join(opts.PlansDir, candidate.PlanID+".json")
		if err := plan.Save(candidate, finalPath); err != nil {
			return Result{}, err
		}
		_ = os.Remove(scratch)

		logger.Info("plan generated",
			zap.String("plan_id", candidate.PlanID),
			zap.Int("attempts", attempt),
			zap.Bool("corrected", corrected))
		return Result{Plan: candidate, Path: finalPath, Attempts: attempt, Corrected: corrected}, nil
	}

	failedPath := filepath.Join(opts.PlansDir, FailedPrefix+candidate.PlanID+".json")
	if err := plan.Save(candidate, failedPath); err != nil {
		return Result{}, err
	}
	logger.Error("plan generation failed; candidate queued for human inspection",
		zap.String("plan_id", candidate.PlanID),
		zap.String("path", failedPath))
	return Result{Plan: candidate, Path: failedPath, Attempts: opts.MaxRetries, Corrected: corrected},
		fmt.Errorf("generate plan after %d attempts: %w", opts.MaxRetries, ErrExhausted)
}

// synthesize builds the initial candidate. Affected files are filtered to
// existing artifacts up front so the semantic gate starts from honest input.
func synthesize(objective string, affectedFiles []string, checker *grounding.Checker) plan.Plan {
	var existing []string
	for _, f := range affectedFiles {
		if f = strings.TrimSpace(f); f == "" {
			continue
		}
		if checker.Exists(f) {
			existing = append(existing, f)
		}
	}

	firstTarget := "."
	if len(existing) > 0 {
		firstTarget = existing[0]
	}

	// Cut on runes so a multi-byte character is never split mid-sequence.
	message := objective
	if runes := []rune(message); len(runes) > 50 {
		message = string(runes[:50])
	}

	return plan.Plan{
		PlanID:    NewPlanID(),
		Version:   PlanVersion,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Objective: plan.Objective{
			Description: objective,
			SuccessCriteria: []string{
				"Changes implemented correctly",
				"Tests passing",
				"No lint errors",
			},
			AffectedFiles: existing,
		},
		PreFlightCheck: &plan.PreFlightCheck{
			GitStatus:   "clean",
			LintPassed:  true,
			TestsPassed: true,
		},
		Steps: []plan.Step{
			{
				ID:              "S01",
				Action:          plan.ActionReadFile,
				Target:          firstTarget,
				ExpectedOutcome: "Understand current structure",
			},
			{
				ID:              "S02",
				Action:          plan.ActionLintCheck,
				Target:          ".",
				ExpectedOutcome: "No syntax errors",
				DependsOn:       []string{"S01"},
			},
		},
		Verification: &plan.Verification{
			Method:          "automated",
			Commands:        []string{},
			ExpectedResults: []string{},
		},
		Evidence: &plan.Evidence{
			Logs:          []string{},
			AnalyzedPaths: existing,
		},
		CommitProposal: &plan.CommitProposal{
			Type:    "feat",
			Scope:   "core",
			Message: message,
		},
	}
}

func logCandidateDiff(logger *zap.Logger, before, after plan.Plan) {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	beforeJSON, err := json.MarshalIndent(before, "", "  ")
	if err != nil {
		return
	}
	afterJSON, err := json.MarshalIndent(after, "", "  ")
	if err != nil {
		return
	}
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(beforeJSON)),
		B:        difflib.SplitLines(string(afterJSON)),
		FromFile: "candidate",
		ToFile:   "corrected",
		Context:  2,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return
	}
	logger.Debug("candidate corrected", zap.String("diff", text))
}
