package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxRetries bounds the recovery loop.
const DefaultMaxRetries = 3

// escalationKeywords always route to a human regardless of remaining retries.
var escalationKeywords = []string{
	"security",
	"unauthorized",
	"permission denied",
	"api key",
	"authentication",
	"credential",
}

// TaskFunc produces one sub-agent response attempt. Feedback carries the
// corrective text synthesized from the previous failure, empty on the first
// call.
type TaskFunc func(ctx context.Context, feedback string) (string, error)

// Attempt records one pass through the recovery loop.
type Attempt struct {
	Number    int    `json:"number"`
	Timestamp string `json:"timestamp"`
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
	Feedback  string `json:"feedback,omitempty"`
}

// Result is the outcome of ExecuteWithRecovery. On failure Attempts holds the
// full history for escalation.
type Result struct {
	RoleID    string         `json:"role_id"`
	OK        bool           `json:"ok"`
	Response  map[string]any `json:"response,omitempty"`
	Attempts  []Attempt      `json:"attempts"`
	Escalated bool           `json:"escalated"`
}

// Runner drives validation and retry for sub-agent tasks.
type Runner struct {
	roles      map[string]RoleSchema
	maxRetries int
	logPath    string
	logger     *zap.Logger
}

// NewRunner builds a Runner over the given role registry. logPath may be
// empty to disable the JSONL event log.
func NewRunner(roles map[string]RoleSchema, maxRetries int, logPath string, logger *zap.Logger) *Runner {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{roles: roles, maxRetries: maxRetries, logPath: logPath, logger: logger}
}

// ValidateResponse checks a raw sub-agent response against its role schema.
// The response must be non-empty, parse as a JSON object, and carry every
// required field for the role.
func (r *Runner) ValidateResponse(response, roleID string) (map[string]any, bool, string) {
	schema, ok := r.roles[roleID]
	if !ok {
		return nil, false, fmt.Sprintf("unknown role %q", roleID)
	}
	if strings.TrimSpace(response) == "" {
		return nil, false, "empty response"
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, false, fmt.Sprintf("response is not a JSON object: %v", err)
	}

	var missing []string
	for _, field := range schema.RequiredFields {
		if _, ok := parsed[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, false, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return parsed, true, ""
}

// ExecuteWithRecovery calls task, validates the response, and retries with
// synthesized corrective feedback until it validates or retries run out.
// Security-sensitive errors escalate immediately.
func (r *Runner) ExecuteWithRecovery(ctx context.Context, roleID string, task TaskFunc) (Result, error) {
	result := Result{RoleID: roleID}
	schema, ok := r.roles[roleID]
	if !ok {
		return result, fmt.Errorf("unknown role %q", roleID)
	}

	feedback := ""
	for i := 1; i <= r.maxRetries; i++ {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		attempt := Attempt{
			Number:    i,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Feedback:  feedback,
		}

		response, err := task(ctx, feedback)
		if err != nil {
			attempt.Reason = err.Error()
			result.Attempts = append(result.Attempts, attempt)
			r.logAttempt(roleID, attempt)

			if ShouldEscalate(err.Error()) {
				result.Escalated = true
				r.logger.Warn("sub-agent error escalated",
					zap.String("role", roleID),
					zap.String("error", err.Error()))
				return result, fmt.Errorf("role %s escalated: %w", roleID, err)
			}
			feedback = fmt.Sprintf("Your previous attempt failed with: %s. Retry the task and return a valid result.", err.Error())
			continue
		}

		parsed, valid, reason := r.ValidateResponse(response, roleID)
		attempt.Valid = valid
		attempt.Reason = reason
		result.Attempts = append(result.Attempts, attempt)
		r.logAttempt(roleID, attempt)

		if valid {
			result.OK = true
			result.Response = parsed
			r.logger.Info("sub-agent response validated",
				zap.String("role", roleID),
				zap.Int("attempt", i))
			return result, nil
		}

		feedback = correctiveFeedback(schema, reason)
		r.logger.Warn("sub-agent response rejected",
			zap.String("role", roleID),
			zap.Int("attempt", i),
			zap.String("reason", reason))
	}

	return result, fmt.Errorf("role %s exhausted %d attempts", roleID, r.maxRetries)
}

// ShouldEscalate reports whether an error message is security sensitive.
func ShouldEscalate(errText string) bool {
	lower := strings.ToLower(errText)
	for _, kw := range escalationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// correctiveFeedback synthesizes role-specific guidance naming exactly what
// was missing or malformed.
func correctiveFeedback(schema RoleSchema, reason string) string {
	return fmt.Sprintf(
		"Your previous response was invalid: %s. As the %s role you must return a JSON object containing at minimum the fields: %s.",
		reason, schema.ID, strings.Join(schema.RequiredFields, ", "))
}

func (r *Runner) logAttempt(roleID string, a Attempt) {
	if r.logPath == "" {
		return
	}
	record := struct {
		RoleID string `json:"role_id"`
		Attempt
	}{RoleID: roleID, Attempt: a}

	line, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.logPath), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(r.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}

// Stats summarizes the recovery event log.
type Stats struct {
	Total   int            `json:"total"`
	Valid   int            `json:"valid"`
	Invalid int            `json:"invalid"`
	ByRole  map[string]int `json:"by_role"`
}

// ReadStats tallies the JSONL recovery log at path.
func ReadStats(path string) (Stats, error) {
	stats := Stats{ByRole: map[string]int{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("read recovery log: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var record struct {
			RoleID string `json:"role_id"`
			Valid  bool   `json:"valid"`
		}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		stats.Total++
		if record.Valid {
			stats.Valid++
		} else {
			stats.Invalid++
		}
		stats.ByRole[record.RoleID]++
	}
	return stats, nil
}
