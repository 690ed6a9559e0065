package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunner(t *testing.T) *Runner {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "recovery_events.jsonl")
	return NewRunner(DefaultRoles(), 3, logPath, nil)
}

func TestValidateResponseAcceptsCompleteArchitectResponse(t *testing.T) {
	r := testRunner(t)
	parsed, ok, reason := r.ValidateResponse(`{"plan":"do it","steps":["a","b"]}`, "architect")
	assert.True(t, ok)
	assert.Empty(t, reason)
	assert.Equal(t, "do it", parsed["plan"])
}

func TestValidateResponseRejectsMissingFields(t *testing.T) {
	r := testRunner(t)
	_, ok, reason := r.ValidateResponse(`{"plan":"do it"}`, "architect")
	assert.False(t, ok)
	assert.Contains(t, reason, "steps")
}

func TestValidateResponseRejectsEmptyAndNonJSON(t *testing.T) {
	r := testRunner(t)

	_, ok, reason := r.ValidateResponse("   ", "tester")
	assert.False(t, ok)
	assert.Equal(t, "empty response", reason)

	_, ok, reason = r.ValidateResponse("not json at all", "tester")
	assert.False(t, ok)
	assert.Contains(t, reason, "not a JSON object")
}

func TestValidateResponseUnknownRole(t *testing.T) {
	r := testRunner(t)
	_, ok, reason := r.ValidateResponse(`{}`, "wizard")
	assert.False(t, ok)
	assert.Contains(t, reason, "unknown role")
}

func TestExecuteWithRecoverySucceedsFirstTry(t *testing.T) {
	r := testRunner(t)
	result, err := r.ExecuteWithRecovery(context.Background(), "tester",
		func(ctx context.Context, feedback string) (string, error) {
			return `{"tests_passed":true,"results":[]}`, nil
		})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Len(t, result.Attempts, 1)
}

func TestExecuteWithRecoveryRetriesWithFeedback(t *testing.T) {
	r := testRunner(t)
	var feedbacks []string

	result, err := r.ExecuteWithRecovery(context.Background(), "auditor",
		func(ctx context.Context, feedback string) (string, error) {
			feedbacks = append(feedbacks, feedback)
			if len(feedbacks) < 2 {
				return `{"security_score":7}`, nil
			}
			return `{"security_score":7,"findings":[]}`, nil
		})
	require.NoError(t, err)
	assert.True(t, result.OK)
	require.Len(t, result.Attempts, 2)

	// The second call received corrective feedback naming the missing field.
	assert.Empty(t, feedbacks[0])
	assert.Contains(t, feedbacks[1], "findings")
	assert.Contains(t, feedbacks[1], "auditor")
}

func TestExecuteWithRecoveryExhaustsWithHistory(t *testing.T) {
	r := testRunner(t)
	result, err := r.ExecuteWithRecovery(context.Background(), "constructor",
		func(ctx context.Context, feedback string) (string, error) {
			return `{"status":"done"}`, nil
		})
	require.Error(t, err)
	assert.False(t, result.OK)
	assert.Len(t, result.Attempts, 3)
	for _, a := range result.Attempts {
		assert.Contains(t, a.Reason, "files_modified")
	}
}

func TestExecuteWithRecoveryEscalatesOnSecurityError(t *testing.T) {
	r := testRunner(t)
	var calls int

	result, err := r.ExecuteWithRecovery(context.Background(), "researcher",
		func(ctx context.Context, feedback string) (string, error) {
			calls++
			return "", errors.New("permission denied reading vault")
		})
	require.Error(t, err)
	assert.True(t, result.Escalated)
	// No retries after a security-sensitive failure.
	assert.Equal(t, 1, calls)
}

func TestShouldEscalateKeywords(t *testing.T) {
	assert.True(t, ShouldEscalate("API key rejected by upstream"))
	assert.True(t, ShouldEscalate("unauthorized access to repository"))
	assert.True(t, ShouldEscalate("invalid credential supplied"))
	assert.False(t, ShouldEscalate("connection timed out"))
	assert.False(t, ShouldEscalate("file not found"))
}

func TestLoadRolesMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roles.yaml")
	doc := `roles:
  - id: architect
    description: Custom architect
    required_fields: [plan, steps, rationale]
  - id: reviewer
    description: Reviews diffs
    required_fields: [verdict]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	roles, err := LoadRoles(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"plan", "steps", "rationale"}, roles["architect"].RequiredFields)
	assert.Contains(t, roles, "reviewer")
	assert.Contains(t, roles, "tester")
}

func TestLoadRolesMissingFileUsesDefaults(t *testing.T) {
	roles, err := LoadRoles(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Len(t, roles, 5)
}

func TestReadStatsTalliesLog(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "recovery_events.jsonl")
	r := NewRunner(DefaultRoles(), 2, logPath, nil)

	_, _ = r.ExecuteWithRecovery(context.Background(), "tester",
		func(ctx context.Context, feedback string) (string, error) {
			return `{"tests_passed":true,"results":[]}`, nil
		})
	_, _ = r.ExecuteWithRecovery(context.Background(), "tester",
		func(ctx context.Context, feedback string) (string, error) {
			return "", fmt.Errorf("flaky network")
		})

	stats, err := ReadStats(logPath)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Valid)
	assert.Equal(t, 2, stats.Invalid)
	assert.Equal(t, 3, stats.ByRole["tester"])
}
