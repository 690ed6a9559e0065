package evidence

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planward/internal/plan"
)

func planWithCommands(commands ...string) plan.Plan {
	return plan.Plan{
		PlanID:    "PLAN-EV000001",
		Version:   "1.1",
		CreatedAt: "2026-01-01T00:00:00Z",
		Objective: plan.Objective{Description: "verify"},
		Steps:     []plan.Step{{ID: "S01", Action: plan.ActionReadFile, Target: "."}},
		Verification: &plan.Verification{
			Method:   "automated",
			Commands: commands,
		},
	}
}

func TestCollectNoCommandsScoresFull(t *testing.T) {
	c := NewCollector(t.TempDir(), nil)
	report, err := c.Collect(context.Background(), planWithCommands())
	require.NoError(t, err)
	assert.True(t, report.AllPassed)
	assert.Equal(t, 1.0, report.Score)
	assert.Empty(t, report.Commands)
}

func TestCollectScoresMixedResults(t *testing.T) {
	c := NewCollector(t.TempDir(), nil)
	report, err := c.Collect(context.Background(), planWithCommands("true", "false"))
	require.NoError(t, err)

	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0.5, report.Score)
	assert.False(t, report.AllPassed)
	require.Len(t, report.Commands, 2)
	assert.True(t, report.Commands[0].Passed)
	assert.False(t, report.Commands[1].Passed)
	assert.Equal(t, 1, report.Commands[1].ExitCode)
}

func TestCollectCapturesOutput(t *testing.T) {
	c := NewCollector(t.TempDir(), nil)
	report, err := c.Collect(context.Background(), planWithCommands(`echo hello`))
	require.NoError(t, err)
	require.Len(t, report.Commands, 1)
	assert.Contains(t, report.Commands[0].Stdout, "hello")
}

func TestCollectHandlesUnparseableCommand(t *testing.T) {
	c := NewCollector(t.TempDir(), nil)
	report, err := c.Collect(context.Background(), planWithCommands(`echo "unterminated`))
	require.NoError(t, err)
	require.Len(t, report.Commands, 1)
	assert.False(t, report.Commands[0].Passed)
	assert.Contains(t, report.Commands[0].Error, "unparseable")
}

func TestCollectTimesOut(t *testing.T) {
	c := NewCollector(t.TempDir(), nil)
	c.Timeout = 100 * time.Millisecond

	report, err := c.Collect(context.Background(), planWithCommands("sleep 5"))
	require.NoError(t, err)
	require.Len(t, report.Commands, 1)
	assert.False(t, report.Commands[0].Passed)
	assert.Equal(t, "command timed out", report.Commands[0].Error)
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	report := Report{
		PlanID:      "PLAN-EV000001",
		CollectedAt: time.Now().UTC().Format(time.RFC3339),
		Passed:      2,
		Score:       1.0,
		AllPassed:   true,
	}

	path, err := WriteReport(dir, report)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "PLAN-EV000001_evidence.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var loaded Report
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, report.PlanID, loaded.PlanID)
	assert.True(t, loaded.AllPassed)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	long := truncate("abcdef", 3)
	assert.Contains(t, long, "truncated")
}
