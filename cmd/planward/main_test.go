package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the root command with the given args against a workspace.
func runCLI(t *testing.T, workspace string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--workspace", workspace}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func setupWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "service.go"),
		[]byte("package service\n"), 0o644))
	return root
}

func TestPipelineEndToEnd(t *testing.T) {
	root := setupWorkspace(t)

	out, err := runCLI(t, root, "index", "build")
	require.NoError(t, err, out)
	assert.Contains(t, out, "indexed")

	out, err = runCLI(t, root, "generate",
		"--objective", "review the service package",
		"--files", "service.go,ghost.go")
	require.NoError(t, err, out)
	assert.Contains(t, out, "generated in")

	matches, err := filepath.Glob(filepath.Join(root, "plans", "PLAN-*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	planFile := matches[0]

	out, err = runCLI(t, root, "validate", planFile)
	require.NoError(t, err, out)
	assert.Contains(t, out, "is valid")

	// The synthesized plan has no mutating steps, so the gate passes outright.
	out, err = runCLI(t, root, "hitl", planFile, "--check")
	require.NoError(t, err, out)
	assert.Contains(t, out, "no gateable steps")

	out, err = runCLI(t, root, "orchestrate", planFile, "--yes", "--skip-dirty-check")
	require.NoError(t, err, out)
	assert.Contains(t, out, "pipeline completed")

	out, err = runCLI(t, root, "audit", "verify")
	require.NoError(t, err, out)
	assert.Contains(t, out, "audit trail valid")
}

func TestValidateFailsOnBrokenPlan(t *testing.T) {
	root := setupWorkspace(t)
	planFile := filepath.Join(root, "broken.json")
	broken := `{
  "plan_id": "PLAN-AB12CD34",
  "version": "1.1",
  "created_at": "2026-01-01T00:00:00Z",
  "objective": {"description": "write without approval"},
  "steps": [
    {"id": "S01", "action": "write_file", "target": "x.go", "hitl_required": false}
  ]
}`
	require.NoError(t, os.WriteFile(planFile, []byte(broken), 0o644))

	out, err := runCLI(t, root, "validate", planFile)
	require.Error(t, err)
	assert.Contains(t, out, "hitl_required")
}

func TestHITLApproveAndCheck(t *testing.T) {
	root := setupWorkspace(t)
	planFile := filepath.Join(root, "gated.json")
	gated := `{
  "plan_id": "PLAN-AB12CD34",
  "version": "1.1",
  "created_at": "2026-01-01T00:00:00Z",
  "objective": {"description": "apply a change"},
  "steps": [
    {"id": "S01", "action": "write_file", "target": "x.go", "hitl_required": true}
  ]
}`
	require.NoError(t, os.WriteFile(planFile, []byte(gated), 0o644))

	out, err := runCLI(t, root, "hitl", planFile, "--check")
	require.Error(t, err)
	assert.Contains(t, out, "[pending]")

	out, err = runCLI(t, root, "hitl", planFile, "--approve", "S01")
	require.NoError(t, err, out)
	assert.Contains(t, out, "approved")

	out, err = runCLI(t, root, "hitl", planFile, "--check")
	require.NoError(t, err, out)
	assert.Contains(t, out, "all gateable steps approved")
}

func TestHITLCheckRejectsConflictingFlags(t *testing.T) {
	root := setupWorkspace(t)
	_, err := runCLI(t, root, "hitl", "whatever.json", "--check", "--interactive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--check cannot be combined")

	_, err = runCLI(t, root, "hitl", "whatever.json", "--check", "--approve", "S01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--check cannot be combined")
}

func TestRecoveryStatsTalliesLog(t *testing.T) {
	root := setupWorkspace(t)

	out, err := runCLI(t, root, "recovery", "stats")
	require.NoError(t, err, out)
	assert.Contains(t, out, "attempts: 0")

	logPath := filepath.Join(root, "logs", "recovery_events.jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(logPath), 0o755))
	lines := `{"role_id":"tester","valid":true}
{"role_id":"tester","valid":false}
{"role_id":"auditor","valid":true}
`
	require.NoError(t, os.WriteFile(logPath, []byte(lines), 0o644))

	out, err = runCLI(t, root, "recovery", "stats")
	require.NoError(t, err, out)
	assert.Contains(t, out, "attempts: 3 (valid 2, invalid 1)")
	assert.Contains(t, out, "auditor: 1")
	assert.Contains(t, out, "tester: 2")
}

func TestRecoveryValidateChecksRoleSchema(t *testing.T) {
	root := setupWorkspace(t)
	good := filepath.Join(root, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"tests_passed": 3, "results": []}`), 0o644))
	bad := filepath.Join(root, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"results": []}`), 0o644))

	out, err := runCLI(t, root, "recovery", "validate", good, "--role", "tester")
	require.NoError(t, err, out)
	assert.Contains(t, out, "valid tester response")

	out, err = runCLI(t, root, "recovery", "validate", bad, "--role", "tester")
	require.Error(t, err)
	assert.Contains(t, out, "missing required fields: tests_passed")
}

func TestDispatchTestRecordsWebhookSent(t *testing.T) {
	root := setupWorkspace(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := "webhooks:\n  heartbeat: " + server.URL + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "planward.yaml"), []byte(cfg), 0o644))

	out, err := runCLI(t, root, "dispatch", "test", "--event", "HEARTBEAT")
	require.NoError(t, err, out)
	assert.Contains(t, out, "delivered HEARTBEAT")

	trail, err := os.ReadFile(filepath.Join(root, "logs", "audit_trail.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(trail), `"webhook_sent"`)

	// The delivery record chains cleanly with the rest of the trail.
	out, err = runCLI(t, root, "audit", "verify")
	require.NoError(t, err, out)
	assert.Contains(t, out, "audit trail valid")
}

func TestDispatchStatusOnFreshWorkspace(t *testing.T) {
	root := setupWorkspace(t)
	out, err := runCLI(t, root, "dispatch", "status")
	require.NoError(t, err, out)
	assert.Contains(t, out, "delivered keys: 0")
	assert.Contains(t, out, "queued events:  0")
}

func TestIndexStatusBeforeBuild(t *testing.T) {
	root := setupWorkspace(t)
	out, err := runCLI(t, root, "index", "status")
	require.NoError(t, err, out)
	assert.True(t, strings.Contains(out, "not_indexed"))
}
