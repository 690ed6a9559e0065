package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads a plan file without validating it. Callers that need a valid plan
// should follow up with Validate; the generator deliberately loads candidates
// that are still broken.
func Load(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return Plan{}, fmt.Errorf("parse plan json: %w", err)
	}
	return p, nil
}

// LoadValidated reads a plan file and rejects it on any structural violation.
func LoadValidated(path string) (Plan, error) {
	p, err := Load(path)
	if err != nil {
		return Plan{}, err
	}
	if err := ValidateErr(p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Save writes the plan as indented JSON, creating parent directories as needed.
func Save(p Plan, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure plan dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
