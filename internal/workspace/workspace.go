package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace defines project-relative paths for planward state and artifacts.
type Workspace struct {
	Root            string
	PlansDir        string
	LogsDir         string
	StateDir        string
	IndexPath       string
	ApprovalsPath   string
	DispatchDBPath  string
	AuditLogPath    string
	RecoveryLogPath string
	EvidenceDir     string
	ConfigPath      string
}

// Resolve expands and validates the workspace root, ensuring it exists.
func Resolve(root string) (*Workspace, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", abs)
	}
	return newWorkspace(abs), nil
}

// EnsureDirs creates the standard directories for plans, logs and local state.
func (w *Workspace) EnsureDirs() error {
	if w == nil {
		return fmt.Errorf("workspace is nil")
	}
	dirs := []string{
		w.PlansDir,
		w.LogsDir,
		w.StateDir,
		w.EvidenceDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	return nil
}

// ResolvePath returns an absolute path, resolving relative paths from the workspace root.
func (w *Workspace) ResolvePath(path string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Abs(filepath.Join(w.Root, expanded))
}

func newWorkspace(root string) *Workspace {
	stateDir := filepath.Join(root, ".planward")
	logsDir := filepath.Join(root, "logs")
	return &Workspace{
		Root:            root,
		PlansDir:        filepath.Join(root, "plans"),
		LogsDir:         logsDir,
		StateDir:        stateDir,
		IndexPath:       filepath.Join(stateDir, "index.json"),
		ApprovalsPath:   filepath.Join(stateDir, "approvals.json"),
		DispatchDBPath:  filepath.Join(stateDir, "dispatch.db"),
		AuditLogPath:    filepath.Join(logsDir, "audit_trail.jsonl"),
		RecoveryLogPath: filepath.Join(logsDir, "recovery_events.jsonl"),
		EvidenceDir:     filepath.Join(logsDir, "evidence"),
		ConfigPath:      filepath.Join(root, "planward.yaml"),
	}
}

func resolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	expanded, err := expandHome(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	return "", fmt.Errorf("unsupported home expansion: %s", path)
}
