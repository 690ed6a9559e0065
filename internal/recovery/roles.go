// Package recovery validates the shape of sub-agent responses and retries
// failed tasks with synthesized corrective feedback.
package recovery

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// RoleSchema declares the minimum response shape for one sub-agent role.
// Exhaustive field checks replace duck-typed probing of whatever came back.
type RoleSchema struct {
	ID             string   `yaml:"id"`
	Description    string   `yaml:"description"`
	RequiredFields []string `yaml:"required_fields"`
}

// DefaultRoles returns the built-in role registry.
func DefaultRoles() map[string]RoleSchema {
	return map[string]RoleSchema{
		"architect": {
			ID:             "architect",
			Description:    "Designs the change plan",
			RequiredFields: []string{"plan", "steps"},
		},
		"constructor": {
			ID:             "constructor",
			Description:    "Applies file modifications",
			RequiredFields: []string{"files_modified", "status"},
		},
		"auditor": {
			ID:             "auditor",
			Description:    "Scores security posture of the change",
			RequiredFields: []string{"security_score", "findings"},
		},
		"tester": {
			ID:             "tester",
			Description:    "Runs and reports verification tests",
			RequiredFields: []string{"tests_passed", "results"},
		},
		"researcher": {
			ID:             "researcher",
			Description:    "Gathers supporting context",
			RequiredFields: []string{"context", "sources"},
		},
	}
}

// LoadRoles reads a YAML role registry from path, falling back to the built-in
// defaults when the file does not exist. File entries override defaults with
// the same id.
func LoadRoles(path string) (map[string]RoleSchema, error) {
	roles := DefaultRoles()
	if path == "" {
		return roles, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return roles, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read role registry: %w", err)
	}

	var doc struct {
		Roles []RoleSchema `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse role registry: %w", err)
	}
	for _, r := range doc.Roles {
		if r.ID == "" {
			return nil, fmt.Errorf("role registry entry missing id")
		}
		roles[r.ID] = r
	}
	return roles, nil
}

// RoleIDs lists registered roles in a stable order.
func RoleIDs(roles map[string]RoleSchema) []string {
	ids := make([]string, 0, len(roles))
	for id := range roles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
